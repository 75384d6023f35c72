package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	apperrors "github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/errors"
)

type userRepo struct{ *db }

func (r *userRepo) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.Email]; ok {
		return apperrors.AlreadyExists("user", "email", u.Email)
	}
	r.users[u.Email] = copyUser(u)
	return nil
}

func (r *userRepo) CreateIfAbsent(_ context.Context, u *domain.User) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.Email]; ok {
		return false, nil
	}
	r.users[u.Email] = copyUser(u)
	return true, nil
}

func (r *userRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[email]
	if !ok {
		return nil, apperrors.NotFound("user", email)
	}
	return copyUser(u), nil
}

func (r *userRepo) List(_ context.Context, f domain.UserFilter) ([]domain.User, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q := strings.ToLower(f.Query)
	matched := []domain.User{}
	for _, u := range r.users {
		if q != "" && !strings.Contains(u.Email, q) && !profileContains(u.ProfileFields, q) {
			continue
		}
		matched = append(matched, *copyUser(u))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Email < matched[j].Email })
	return window(matched, f.Limit, f.Offset), len(matched), nil
}

func profileContains(fields map[string]any, q string) bool {
	for _, v := range fields {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	return false
}

func (r *userRepo) Update(_ context.Context, email string, upd domain.UserUpdate) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[email]
	if !ok {
		return nil, apperrors.NotFound("user", email)
	}
	if upd.EmailVerified != nil {
		u.EmailVerified = *upd.EmailVerified
	}
	if upd.TwoFactorEnabled != nil {
		u.TwoFactorEnabled = *upd.TwoFactorEnabled
	}
	if upd.Locked != nil {
		u.Locked = *upd.Locked
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	if upd.PasswordHash != nil {
		h := *upd.PasswordHash
		u.PasswordHash = &h
	}
	if upd.ProfilePictureURL != nil {
		p := *upd.ProfilePictureURL
		u.ProfilePictureURL = &p
	}
	if upd.Metadata != nil {
		u.Metadata = upd.Metadata
	}
	if upd.ProfileFields != nil {
		u.ProfileFields = upd.ProfileFields
	}
	u.UpdatedAt = r.now().UTC()
	return copyUser(u), nil
}

func (r *userRepo) SetPasswordIfUnset(_ context.Context, email, hash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[email]
	if !ok || u.PasswordHash != nil {
		return false, nil
	}
	u.PasswordHash = &hash
	u.UpdatedAt = r.now().UTC()
	return true, nil
}

func (r *userRepo) TouchLastLogin(_ context.Context, email string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[email]; ok {
		u.LastLogin = &at
	}
	return nil
}

func (r *userRepo) Delete(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[email]; !ok {
		return apperrors.NotFound("user", email)
	}
	delete(r.users, email)

	for hash, t := range r.refresh {
		if t.UserEmail == email {
			delete(r.refresh, hash)
		}
	}
	for _, members := range r.memberships {
		delete(members, email)
	}
	for k := range r.rules {
		if k.scope == domain.ScopeUser && k.principal == email {
			delete(r.rules, k)
		}
	}
	r.dropAssignments(domain.PrincipalUser, email)
	return nil
}
