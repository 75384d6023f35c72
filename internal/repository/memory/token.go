package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	apperrors "github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/errors"
)

type refreshRepo struct{ *db }

func (r *refreshRepo) Create(_ context.Context, t *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[t.UserEmail]; !ok {
		return apperrors.NotFound("user", t.UserEmail)
	}
	c := *t
	r.refresh[t.TokenHash] = &c
	return nil
}

func (r *refreshRepo) Claim(_ context.Context, tokenHash string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	t, ok := r.refresh[tokenHash]
	if !ok || !t.Active(now) {
		return nil, apperrors.ErrNotFound
	}
	t.RevokedAt = &now
	c := *t
	return &c, nil
}

func (r *refreshRepo) RevokeByHash(_ context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.refresh[tokenHash]; ok && t.RevokedAt == nil {
		now := r.now()
		t.RevokedAt = &now
	}
	return nil
}

func (r *refreshRepo) RevokeByID(_ context.Context, email, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.refresh {
		if t.ID == id && t.UserEmail == email && t.RevokedAt == nil {
			now := r.now()
			t.RevokedAt = &now
			return nil
		}
	}
	return apperrors.NotFound("session", id)
}

func (r *refreshRepo) RevokeAllForUser(_ context.Context, email string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := r.now()
	for _, t := range r.refresh {
		if t.UserEmail == email && t.RevokedAt == nil {
			t.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (r *refreshRepo) ListActiveForUser(_ context.Context, email string) ([]domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	out := []domain.RefreshToken{}
	for _, t := range r.refresh {
		if t.UserEmail == email && t.Active(now) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type oneTimeRepo struct{ *db }

func (r *oneTimeRepo) Create(_ context.Context, t *domain.OneTimeToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	table, ok := r.oneTime[t.Kind]
	if !ok {
		return fmt.Errorf("unknown token kind %q", t.Kind)
	}
	c := *t
	table[t.TokenHash] = &c
	return nil
}

func (r *oneTimeRepo) Claim(_ context.Context, kind domain.TokenKind, tokenHash string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	table, ok := r.oneTime[kind]
	if !ok {
		return "", fmt.Errorf("unknown token kind %q", kind)
	}
	now := r.now()
	t, ok := table[tokenHash]
	if !ok || t.UsedAt != nil || !now.Before(t.ExpiresAt) {
		return "", apperrors.ErrNotFound
	}
	t.UsedAt = &now
	return t.Email, nil
}

func (r *oneTimeRepo) ClaimCode(_ context.Context, email, codeHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()

	var latest *domain.OneTimeToken
	for _, t := range r.oneTime[domain.TokenEmailVerification] {
		if t.Email != email || t.UsedAt != nil || !now.Before(t.ExpiresAt) {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
		}
	}
	if latest == nil {
		return apperrors.ErrNotFound
	}
	if latest.CodeHash == nil || *latest.CodeHash != codeHash {
		latest.FailedAttempts++
		if latest.FailedAttempts >= domain.MaxCodeAttempts {
			latest.UsedAt = &now
		}
		return apperrors.ErrNotFound
	}
	latest.UsedAt = &now
	return nil
}

func (r *oneTimeRepo) LastIssued(_ context.Context, kind domain.TokenKind, email string) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *time.Time
	for _, t := range r.oneTime[kind] {
		if t.Email == email && (latest == nil || t.CreatedAt.After(*latest)) {
			at := t.CreatedAt
			latest = &at
		}
	}
	return latest, nil
}

type impersonationRepo struct{ *db }

func (r *impersonationRepo) Create(_ context.Context, s *domain.ImpersonationSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *s
	r.sessions[s.ID] = &c
	return nil
}

func (r *impersonationRepo) GetByID(_ context.Context, id string) (*domain.ImpersonationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("impersonation session", id)
	}
	c := *s
	return &c, nil
}

func (r *impersonationRepo) End(_ context.Context, id, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || !s.Active() {
		return false, nil
	}
	now := r.now()
	s.EndedAt = &now
	s.EndReason = &reason
	return true, nil
}

func (r *impersonationRepo) ListRecent(_ context.Context, limit int) ([]domain.ImpersonationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ImpersonationSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
