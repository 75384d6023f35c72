package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	apperrors "github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/errors"
)

type permissionSetRepo struct{ *db }

func (r *permissionSetRepo) nameTaken(name, exceptID string) bool {
	for id, s := range r.sets {
		if s.Name == name && id != exceptID {
			return true
		}
	}
	return false
}

func (r *permissionSetRepo) Create(_ context.Context, s *domain.PermissionSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nameTaken(s.Name, "") {
		return apperrors.AlreadyExists("permission set", "name", s.Name)
	}
	c := *s
	r.sets[s.ID] = &c
	return nil
}

func (r *permissionSetRepo) GetByID(_ context.Context, id string) (*domain.PermissionSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sets[id]
	if !ok {
		return nil, apperrors.NotFound("permission set", id)
	}
	c := *s
	return &c, nil
}

func (r *permissionSetRepo) List(_ context.Context) ([]domain.PermissionSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PermissionSet, 0, len(r.sets))
	for _, s := range r.sets {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *permissionSetRepo) Update(_ context.Context, s *domain.PermissionSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sets[s.ID]; !ok {
		return apperrors.NotFound("permission set", s.ID)
	}
	if r.nameTaken(s.Name, s.ID) {
		return apperrors.AlreadyExists("permission set", "name", s.Name)
	}
	c := *s
	r.sets[s.ID] = &c
	return nil
}

func (r *permissionSetRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sets[id]; !ok {
		return apperrors.NotFound("permission set", id)
	}
	delete(r.sets, id)
	for aid, a := range r.assignments {
		if a.PermissionSetID == id {
			delete(r.assignments, aid)
		}
	}
	for gid, g := range r.grants {
		if g.PermissionSetID == id {
			delete(r.grants, gid)
		}
	}
	return nil
}

func (r *permissionSetRepo) AddAssignment(_ context.Context, a *domain.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sets[a.PermissionSetID]; !ok {
		return apperrors.NotFound("permission set", a.PermissionSetID)
	}
	for _, cur := range r.assignments {
		if cur.PermissionSetID == a.PermissionSetID && cur.PrincipalType == a.PrincipalType && cur.PrincipalID == a.PrincipalID {
			return apperrors.AlreadyExists("assignment", "principal", string(a.PrincipalType)+":"+a.PrincipalID)
		}
	}
	c := *a
	r.assignments[a.ID] = &c
	return nil
}

func (r *permissionSetRepo) ListAssignments(_ context.Context, setID string) ([]domain.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Assignment{}
	for _, a := range r.assignments {
		if a.PermissionSetID == setID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PrincipalType != out[j].PrincipalType {
			return out[i].PrincipalType < out[j].PrincipalType
		}
		return out[i].PrincipalID < out[j].PrincipalID
	})
	return out, nil
}

func (r *permissionSetRepo) DeleteAssignment(_ context.Context, setID, assignmentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[assignmentID]
	if !ok || a.PermissionSetID != setID {
		return apperrors.NotFound("assignment", assignmentID)
	}
	delete(r.assignments, assignmentID)
	return nil
}

func (r *permissionSetRepo) AddGrant(_ context.Context, g *domain.Grant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sets[g.PermissionSetID]; !ok {
		return apperrors.NotFound("permission set", g.PermissionSetID)
	}
	for _, cur := range r.grants {
		if cur.PermissionSetID == g.PermissionSetID && cur.Kind == g.Kind && cur.Key == g.Key {
			return apperrors.AlreadyExists("grant", string(g.Kind), g.Key)
		}
	}
	c := *g
	r.grants[g.ID] = &c
	return nil
}

func (r *permissionSetRepo) ListGrants(_ context.Context, setID string, kind domain.GrantKind) ([]domain.Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Grant{}
	for _, g := range r.grants {
		if g.PermissionSetID == setID && g.Kind == kind {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *permissionSetRepo) DeleteGrant(_ context.Context, setID string, kind domain.GrantKind, grantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.grants[grantID]
	if !ok || g.PermissionSetID != setID || g.Kind != kind {
		return apperrors.NotFound("grant", grantID)
	}
	delete(r.grants, grantID)
	return nil
}

func (r *permissionSetRepo) GrantedKeys(_ context.Context, kind domain.GrantKind, reach domain.Reach, keys []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reachable := map[string]bool{}
	for _, a := range r.assignments {
		switch {
		case a.PrincipalType == domain.PrincipalUser && a.PrincipalID == reach.Email,
			a.PrincipalType == domain.PrincipalRole && a.PrincipalID == reach.Role,
			a.PrincipalType == domain.PrincipalGroup && contains(reach.GroupIDs, a.PrincipalID):
			reachable[a.PermissionSetID] = true
		}
	}

	seen := map[string]bool{}
	out := []string{}
	for _, g := range r.grants {
		if g.Kind != kind || !reachable[g.PermissionSetID] || seen[g.Key] {
			continue
		}
		if keys != nil && !contains(keys, g.Key) {
			continue
		}
		seen[g.Key] = true
		out = append(out, g.Key)
	}
	sort.Strings(out)
	return out, nil
}

type ruleRepo struct{ *db }

func (r *ruleRepo) List(_ context.Context, scope domain.RuleScope, principal string, resource domain.RuleResource) ([]domain.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Rule{}
	for k, enabled := range r.rules {
		if k.scope == scope && k.resource == resource && k.principal == principal {
			out = append(out, domain.Rule{Scope: scope, Principal: principal, Resource: resource, Key: k.key, Enabled: enabled})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *ruleRepo) Upsert(_ context.Context, rule domain.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch rule.Scope {
	case domain.ScopeGroup:
		if _, ok := r.groups[rule.Principal]; !ok {
			return apperrors.NotFound("groups", rule.Principal)
		}
	case domain.ScopeUser:
		if _, ok := r.users[rule.Principal]; !ok {
			return apperrors.NotFound("users", rule.Principal)
		}
	}
	r.rules[ruleKey{rule.Scope, rule.Resource, rule.Principal, rule.Key}] = rule.Enabled
	return nil
}

func (r *ruleRepo) Delete(_ context.Context, scope domain.RuleScope, principal string, resource domain.RuleResource, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := ruleKey{scope, resource, principal, key}
	if _, ok := r.rules[k]; !ok {
		return apperrors.NotFound("rule", key)
	}
	delete(r.rules, k)
	return nil
}

func (r *ruleRepo) Lookup(_ context.Context, scope domain.RuleScope, resource domain.RuleResource, principals, keys []string) ([]domain.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Rule{}
	for k, enabled := range r.rules {
		if k.scope != scope || k.resource != resource || !contains(principals, k.principal) {
			continue
		}
		if keys != nil && !contains(keys, k.key) {
			continue
		}
		out = append(out, domain.Rule{Scope: scope, Principal: k.principal, Resource: resource, Key: k.key, Enabled: enabled})
	}
	return out, nil
}

type actionRepo struct{ *db }

func (r *actionRepo) Create(_ context.Context, a *domain.PermissionAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actions[a.Key]; ok {
		return apperrors.AlreadyExists("action", "key", a.Key)
	}
	c := *a
	r.actions[a.Key] = &c
	return nil
}

func (r *actionRepo) Upsert(_ context.Context, a *domain.PermissionAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *a
	if cur, ok := r.actions[a.Key]; ok {
		c.CreatedAt = cur.CreatedAt
	}
	r.actions[a.Key] = &c
	return nil
}

func (r *actionRepo) Get(_ context.Context, key string) (*domain.PermissionAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actions[key]
	if !ok {
		return nil, apperrors.NotFound("action", key)
	}
	c := *a
	return &c, nil
}

func (r *actionRepo) List(_ context.Context, f domain.ActionFilter) ([]domain.PermissionAction, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := strings.ToLower(f.Query)
	matched := []domain.PermissionAction{}
	for _, a := range r.actions {
		if q != "" &&
			!strings.Contains(strings.ToLower(a.Key), q) &&
			!strings.Contains(strings.ToLower(a.Label), q) &&
			!strings.Contains(strings.ToLower(a.PackName), q) {
			continue
		}
		matched = append(matched, *a)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].PackName != matched[j].PackName {
			return matched[i].PackName < matched[j].PackName
		}
		return matched[i].Key < matched[j].Key
	})
	return window(matched, f.Limit, f.Offset), len(matched), nil
}

func (r *actionRepo) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actions[key]; !ok {
		return apperrors.NotFound("action", key)
	}
	delete(r.actions, key)
	return nil
}
