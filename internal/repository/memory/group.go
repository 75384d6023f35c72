package memory

import (
	"context"
	"sort"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	apperrors "github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/errors"
)

type groupRepo struct{ *db }

func (r *groupRepo) nameTaken(name, exceptID string) bool {
	for id, g := range r.groups {
		if g.Name == name && id != exceptID {
			return true
		}
	}
	return false
}

func (r *groupRepo) snapshot(g *domain.Group) domain.Group {
	c := *g
	c.MemberCount = len(r.memberships[g.ID])
	return c
}

func (r *groupRepo) Create(_ context.Context, g *domain.Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nameTaken(g.Name, "") {
		return apperrors.AlreadyExists("group", "name", g.Name)
	}
	c := *g
	r.groups[g.ID] = &c
	r.memberships[g.ID] = map[string]domain.Membership{}
	return nil
}

func (r *groupRepo) GetByID(_ context.Context, id string) (*domain.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[id]
	if !ok {
		return nil, apperrors.NotFound("group", id)
	}
	s := r.snapshot(g)
	return &s, nil
}

func (r *groupRepo) List(_ context.Context) ([]domain.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Group, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, r.snapshot(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *groupRepo) Update(_ context.Context, g *domain.Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.groups[g.ID]
	if !ok {
		return apperrors.NotFound("group", g.ID)
	}
	if r.nameTaken(g.Name, g.ID) {
		return apperrors.AlreadyExists("group", "name", g.Name)
	}
	cur.Name = g.Name
	cur.Description = g.Description
	cur.Metadata = g.Metadata
	cur.UpdatedAt = g.UpdatedAt
	return nil
}

func (r *groupRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[id]; !ok {
		return apperrors.NotFound("group", id)
	}
	delete(r.groups, id)
	delete(r.memberships, id)
	for k := range r.rules {
		if k.scope == domain.ScopeGroup && k.principal == id {
			delete(r.rules, k)
		}
	}
	r.dropAssignments(domain.PrincipalGroup, id)
	return nil
}

func (r *groupRepo) AddMember(_ context.Context, m *domain.Membership) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.memberships[m.GroupID]
	if !ok {
		return apperrors.NotFound("group", m.GroupID)
	}
	if _, ok := r.users[m.UserEmail]; !ok {
		return apperrors.NotFound("user", m.UserEmail)
	}
	if _, ok := members[m.UserEmail]; ok {
		return apperrors.AlreadyExists("membership", "user_email", m.UserEmail)
	}
	members[m.UserEmail] = *m
	return nil
}

func (r *groupRepo) RemoveMember(_ context.Context, groupID, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.memberships[groupID][email]; !ok {
		return apperrors.NotFound("membership", email)
	}
	delete(r.memberships[groupID], email)
	return nil
}

func (r *groupRepo) ListMembers(_ context.Context, groupID string) ([]domain.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Membership{}
	for _, m := range r.memberships[groupID] {
		m.GroupName = r.groups[groupID].Name
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserEmail < out[j].UserEmail })
	return out, nil
}

func (r *groupRepo) ListForUser(_ context.Context, email string) ([]domain.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Membership{}
	for groupID, members := range r.memberships {
		if m, ok := members[email]; ok {
			m.GroupName = r.groups[groupID].Name
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupName < out[j].GroupName })
	return out, nil
}
