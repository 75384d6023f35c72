package repository

import (
	"context"
	"time"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
)

// UserRepository defines the interface for user persistence operations.
// Lookups take already-normalized emails.
type UserRepository interface {
	// Create inserts a new user. A duplicate email is an AlreadyExists error.
	Create(ctx context.Context, user *domain.User) error

	// CreateIfAbsent inserts the user unless the email is taken and reports
	// whether a row was written.
	CreateIfAbsent(ctx context.Context, user *domain.User) (bool, error)

	// GetByEmail retrieves a user by email.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// List returns one page of users matching the filter and the total match count.
	List(ctx context.Context, filter domain.UserFilter) ([]domain.User, int, error)

	// Update applies the non-nil fields of upd and returns the updated user.
	Update(ctx context.Context, email string, upd domain.UserUpdate) (*domain.User, error)

	// SetPasswordIfUnset stores hash only when the user has no password yet.
	SetPasswordIfUnset(ctx context.Context, email, hash string) (bool, error)

	// TouchLastLogin records a successful login.
	TouchLastLogin(ctx context.Context, email string, at time.Time) error

	// Delete removes a user; sessions, memberships and overrides cascade.
	Delete(ctx context.Context, email string) error
}

// GroupRepository defines the interface for group and membership persistence.
type GroupRepository interface {
	Create(ctx context.Context, group *domain.Group) error
	GetByID(ctx context.Context, id string) (*domain.Group, error)
	List(ctx context.Context) ([]domain.Group, error)
	Update(ctx context.Context, group *domain.Group) error
	Delete(ctx context.Context, id string) error

	// AddMember links a user to a group. Unknown users or groups are NotFound.
	AddMember(ctx context.Context, m *domain.Membership) error
	RemoveMember(ctx context.Context, groupID, email string) error
	ListMembers(ctx context.Context, groupID string) ([]domain.Membership, error)

	// ListForUser returns the user's memberships with group names filled in.
	ListForUser(ctx context.Context, email string) ([]domain.Membership, error)
}

// RefreshTokenRepository defines the interface for refresh token persistence.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *domain.RefreshToken) error

	// Claim revokes the active token with the given hash and returns it. A
	// revoked, expired or unknown hash yields ErrNotFound.
	Claim(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)

	// RevokeByHash revokes one token. Unknown or already revoked hashes are not an error.
	RevokeByHash(ctx context.Context, tokenHash string) error

	// RevokeByID revokes one of the user's tokens by id.
	RevokeByID(ctx context.Context, email, id string) error

	// RevokeAllForUser revokes every active token of the user.
	RevokeAllForUser(ctx context.Context, email string) (int64, error)

	// ListActiveForUser returns unrevoked, unexpired tokens, newest first.
	ListActiveForUser(ctx context.Context, email string) ([]domain.RefreshToken, error)
}

// OneTimeTokenRepository stores email verification, password reset and magic link tokens.
type OneTimeTokenRepository interface {
	Create(ctx context.Context, token *domain.OneTimeToken) error

	// Claim marks the unused, unexpired token as used and returns its email.
	// Anything else yields ErrNotFound.
	Claim(ctx context.Context, kind domain.TokenKind, tokenHash string) (string, error)

	// ClaimCode does the same for a verification code, matching the newest
	// unused token of the email. Wrong codes count against that token and
	// domain.MaxCodeAttempts of them burn it.
	ClaimCode(ctx context.Context, email, codeHash string) error

	// LastIssued returns when the newest token of the kind was issued to the
	// email, or nil if none was.
	LastIssued(ctx context.Context, kind domain.TokenKind, email string) (*time.Time, error)
}

// ImpersonationRepository stores impersonation sessions.
type ImpersonationRepository interface {
	Create(ctx context.Context, session *domain.ImpersonationSession) error
	GetByID(ctx context.Context, id string) (*domain.ImpersonationSession, error)

	// End closes an active session and reports whether this call ended it.
	End(ctx context.Context, id, reason string) (bool, error)

	// ListRecent returns the most recently started sessions.
	ListRecent(ctx context.Context, limit int) ([]domain.ImpersonationSession, error)
}

// PermissionSetRepository stores permission sets, assignments and grants.
type PermissionSetRepository interface {
	Create(ctx context.Context, set *domain.PermissionSet) error
	GetByID(ctx context.Context, id string) (*domain.PermissionSet, error)
	List(ctx context.Context) ([]domain.PermissionSet, error)
	Update(ctx context.Context, set *domain.PermissionSet) error
	Delete(ctx context.Context, id string) error

	AddAssignment(ctx context.Context, a *domain.Assignment) error
	ListAssignments(ctx context.Context, setID string) ([]domain.Assignment, error)
	DeleteAssignment(ctx context.Context, setID, assignmentID string) error

	AddGrant(ctx context.Context, g *domain.Grant) error
	ListGrants(ctx context.Context, setID string, kind domain.GrantKind) ([]domain.Grant, error)
	DeleteGrant(ctx context.Context, setID string, kind domain.GrantKind, grantID string) error

	// GrantedKeys returns the distinct keys of the given kind granted by any
	// set assigned to the reach. A non-nil keys slice restricts the result.
	GrantedKeys(ctx context.Context, kind domain.GrantKind, reach domain.Reach, keys []string) ([]string, error)
}

// RuleRepository stores role, group and user allow/deny rows.
type RuleRepository interface {
	List(ctx context.Context, scope domain.RuleScope, principal string, resource domain.RuleResource) ([]domain.Rule, error)
	Upsert(ctx context.Context, rule domain.Rule) error
	Delete(ctx context.Context, scope domain.RuleScope, principal string, resource domain.RuleResource, key string) error

	// Lookup returns the rows of one scope for any of the principals and keys.
	Lookup(ctx context.Context, scope domain.RuleScope, resource domain.RuleResource, principals, keys []string) ([]domain.Rule, error)
}

// ActionRepository stores the action registry.
type ActionRepository interface {
	// Create fails with ErrAlreadyExists when the key is registered.
	Create(ctx context.Context, action *domain.PermissionAction) error
	Upsert(ctx context.Context, action *domain.PermissionAction) error
	Get(ctx context.Context, key string) (*domain.PermissionAction, error)
	List(ctx context.Context, filter domain.ActionFilter) ([]domain.PermissionAction, int, error)
	Delete(ctx context.Context, key string) error
}

// Store groups every repository the service needs.
type Store struct {
	Users          UserRepository
	Groups         GroupRepository
	RefreshTokens  RefreshTokenRepository
	OneTimeTokens  OneTimeTokenRepository
	Impersonations ImpersonationRepository
	PermissionSets PermissionSetRepository
	Rules          RuleRepository
	Actions        ActionRepository
}
