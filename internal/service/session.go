package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/audit"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/auth"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/metrics"
	apperrors "github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/errors"
)

// Refresh rotates a refresh token. The presented token is revoked in the same
// statement that validates it, so it can be rotated at most once.
func (s *AuthService) Refresh(ctx context.Context, presented string, client domain.ClientInfo) (*domain.TokenPair, error) {
	if presented == "" {
		return nil, apperrors.Unauthorized(msgInvalidRefreshToken)
	}
	claimed, err := s.refreshTokens.Claim(ctx, auth.HashToken(presented))
	if err != nil {
		metrics.RecordRefresh(false)
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Unauthorized(msgInvalidRefreshToken)
		}
		return nil, fmt.Errorf("claim refresh token: %w", err)
	}

	user, err := s.users.GetByEmail(ctx, claimed.UserEmail)
	if err != nil {
		metrics.RecordRefresh(false)
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Unauthorized(msgInvalidRefreshToken)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user.Locked {
		metrics.RecordRefresh(false)
		return nil, apperrors.Forbidden(msgAccountLocked)
	}

	pair, err := s.issueTokenPair(ctx, user, client)
	if err != nil {
		return nil, err
	}
	metrics.RecordRefresh(true)
	s.record(ctx, audit.EventRefresh, user.Email, "", client, nil)
	return pair, nil
}

// Logout revokes the presented refresh token, if any. Unknown tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, email, refreshToken string, client domain.ClientInfo) error {
	if refreshToken != "" {
		if err := s.refreshTokens.RevokeByHash(ctx, auth.HashToken(refreshToken)); err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
	}
	s.record(ctx, audit.EventLogout, email, "", client, nil)
	return nil
}

// LogoutAll revokes every refresh token of the user and returns how many were active.
func (s *AuthService) LogoutAll(ctx context.Context, email string, client domain.ClientInfo) (int64, error) {
	n, err := s.refreshTokens.RevokeAllForUser(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens: %w", err)
	}
	s.record(ctx, audit.EventLogoutAll, email, "", client, map[string]any{"revoked": n})
	return n, nil
}

// ListSessions returns the user's active refresh sessions.
func (s *AuthService) ListSessions(ctx context.Context, email string) ([]domain.RefreshToken, error) {
	return s.refreshTokens.ListActiveForUser(ctx, domain.NormalizeEmail(email))
}

// RevokeSession revokes one of the user's refresh sessions.
func (s *AuthService) RevokeSession(ctx context.Context, email, id string) error {
	if err := s.refreshTokens.RevokeByID(ctx, email, id); err != nil {
		return err
	}
	s.record(ctx, audit.EventSessionRevoked, email, "", domain.ClientInfo{}, map[string]any{"session_id": id})
	return nil
}

// --- Impersonation ---

// Caller is the verified identity behind a request.
type Caller struct {
	Email                  string
	Roles                  []string
	ImpersonatorEmail      string
	ImpersonationSessionID string
}

// IsAdmin reports whether the caller's roles include admin.
func (c Caller) IsAdmin() bool {
	return domain.HasAdmin(c.Roles)
}

// ImpersonationResult is returned when an impersonation session starts.
type ImpersonationResult struct {
	Token        string `json:"token"`
	ExpiresIn    int    `json:"expires_in"`
	SessionID    string `json:"session_id"`
	UserEmail    string `json:"user_email"`
	Impersonator string `json:"impersonator_email"`
}

// EndImpersonationResult reports the outcome of ending a session. Token is a
// fresh credential for the admin when the caller was the impersonator.
type EndImpersonationResult struct {
	SessionID string `json:"session_id"`
	Ended     bool   `json:"ended"`
	Token     string `json:"token,omitempty"`
	ExpiresIn int    `json:"expires_in,omitempty"`
}

// StartImpersonation mints an access credential for target carrying the
// admin's identity and a new session id.
func (s *AuthService) StartImpersonation(ctx context.Context, caller Caller, target string, client domain.ClientInfo) (*ImpersonationResult, error) {
	if !s.opts.Impersonation {
		return nil, apperrors.Forbidden("Impersonation is disabled")
	}
	if !caller.IsAdmin() {
		return nil, apperrors.Forbidden("Admin access required")
	}
	if caller.ImpersonationSessionID != "" {
		return nil, apperrors.InvalidInput("Already impersonating; end the current session first")
	}
	targetEmail := domain.NormalizeEmail(target)
	if targetEmail == "" {
		return nil, apperrors.InvalidInput("user_email is required")
	}
	if targetEmail == domain.NormalizeEmail(caller.Email) {
		return nil, apperrors.InvalidInput("Cannot impersonate yourself")
	}
	user, err := s.users.GetByEmail(ctx, targetEmail)
	if err != nil {
		return nil, err
	}

	session := &domain.ImpersonationSession{
		ID:                newID(),
		AdminEmail:        domain.NormalizeEmail(caller.Email),
		ImpersonatedEmail: user.Email,
		StartedAt:         s.now().UTC(),
		IPAddress:         client.IPAddress,
		UserAgent:         client.UserAgent,
	}
	if err := s.impersonations.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create impersonation session: %w", err)
	}

	token, err := s.signAccess(user, session.AdminEmail, session.ID)
	if err != nil {
		return nil, err
	}

	s.record(ctx, audit.EventImpersonationStarted, user.Email, session.AdminEmail, client, map[string]any{"session_id": session.ID})
	s.logger.InfoContext(ctx, "impersonation started",
		slog.String("admin_email", session.AdminEmail),
		slog.String("impersonated_email", user.Email),
		slog.String("session_id", session.ID),
	)
	return &ImpersonationResult{
		Token:        token,
		ExpiresIn:    int(s.codec.TTL().Seconds()),
		SessionID:    session.ID,
		UserEmail:    user.Email,
		Impersonator: session.AdminEmail,
	}, nil
}

// EndImpersonation ends a session. Without an explicit id the session comes
// from the caller's own impersonation claims. Ending an ended session succeeds
// with Ended false and no token. The impersonator gets a fresh credential only
// for the call that ended the session, and only while still an unlocked admin.
func (s *AuthService) EndImpersonation(ctx context.Context, caller Caller, sessionID string, client domain.ClientInfo) (*EndImpersonationResult, error) {
	explicit := sessionID != ""
	if !explicit {
		if caller.ImpersonationSessionID == "" {
			return nil, apperrors.InvalidInput("Not currently impersonating")
		}
		sessionID = caller.ImpersonationSessionID
	}

	session, err := s.impersonations.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	callerEmail := domain.NormalizeEmail(caller.Email)
	impersonator := domain.NormalizeEmail(caller.ImpersonatorEmail)
	isImpersonator := callerEmail == session.AdminEmail || impersonator == session.AdminEmail
	if explicit && !caller.IsAdmin() && !isImpersonator && caller.ImpersonationSessionID != session.ID {
		return nil, apperrors.Forbidden("Admin access required")
	}

	ended, err := s.impersonations.End(ctx, session.ID, domain.EndReasonManual)
	if err != nil {
		return nil, fmt.Errorf("end impersonation session: %w", err)
	}
	if ended {
		s.record(ctx, audit.EventImpersonationEnded, session.ImpersonatedEmail, session.AdminEmail, client, map[string]any{"session_id": session.ID})
	}

	result := &EndImpersonationResult{SessionID: session.ID, Ended: ended}
	if !ended || !isImpersonator {
		return result, nil
	}
	admin, err := s.users.GetByEmail(ctx, session.AdminEmail)
	if err != nil {
		s.logger.WarnContext(ctx, "impersonation ended but admin could not be reloaded",
			slog.String("admin_email", session.AdminEmail),
			slog.String("error", err.Error()),
		)
		return result, nil
	}
	if admin.Locked || !domain.HasAdmin(admin.Roles()) {
		s.logger.WarnContext(ctx, "impersonation ended without restoring admin credential",
			slog.String("admin_email", session.AdminEmail),
			slog.Bool("locked", admin.Locked),
		)
		return result, nil
	}
	token, err := s.signAccess(admin, "", "")
	if err != nil {
		return nil, err
	}
	result.Token = token
	result.ExpiresIn = int(s.codec.TTL().Seconds())
	return result, nil
}

// ListImpersonationSessions returns the most recent sessions.
func (s *AuthService) ListImpersonationSessions(ctx context.Context, limit int) ([]domain.ImpersonationSession, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.impersonations.ListRecent(ctx, limit)
}
