package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/audit"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/auth"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/mailer"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/metrics"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/repository"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/throttle"
	apperrors "github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/errors"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/validator"
)

// minPasswordLength is the minimum password length accepted on register and reset.
const minPasswordLength = 8

const (
	msgInvalidCredentials   = "Invalid credentials"
	msgInvalidToken         = "Invalid or expired token"
	msgInvalidRefreshToken  = "Invalid or expired refresh token"
	msgAccountLocked        = "Account is locked"
	msgVerificationRequired = "Email verification required"
)

// AuthOptions are the feature switches and lifetimes the auth flows depend on.
type AuthOptions struct {
	AllowSignup         bool
	PasswordLogin       bool
	PasswordReset       bool
	MagicLink           bool
	RequireVerification bool
	Impersonation       bool
	RefreshTokenTTL     time.Duration

	BootstrapAdminEmail    string
	BootstrapAdminPassword string
}

// AuthService implements registration, login, session and impersonation flows.
type AuthService struct {
	users          repository.UserRepository
	refreshTokens  repository.RefreshTokenRepository
	oneTimeTokens  repository.OneTimeTokenRepository
	impersonations repository.ImpersonationRepository
	codec          auth.TokenCodec
	mailer         mailer.Mailer
	links          mailer.Links
	cooldown       throttle.Cooldown
	audit          audit.Sink
	opts           AuthOptions
	logger         *slog.Logger
	now            func() time.Time
}

// NewAuthService creates a new auth service.
func NewAuthService(
	store *repository.Store,
	codec auth.TokenCodec,
	m mailer.Mailer,
	links mailer.Links,
	cooldown throttle.Cooldown,
	sink audit.Sink,
	opts AuthOptions,
	logger *slog.Logger,
) *AuthService {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &AuthService{
		users:          store.Users,
		refreshTokens:  store.RefreshTokens,
		oneTimeTokens:  store.OneTimeTokens,
		impersonations: store.Impersonations,
		codec:          codec,
		mailer:         m,
		links:          links,
		cooldown:       cooldown,
		audit:          sink,
		opts:           opts,
		logger:         logger,
		now:            time.Now,
	}
}

// --- Input types ---

// CredentialsInput holds an email and password pair.
type CredentialsInput struct {
	Email    string
	Password string
}

// VerifyEmailInput redeems either a token or an email and code pair.
type VerifyEmailInput struct {
	Token string
	Email string
	Code  string
}

// VerificationStatus is the public verification state of an address.
type VerificationStatus struct {
	EmailVerified      bool       `json:"email_verified"`
	VerificationSentAt *time.Time `json:"verification_sent_at"`
}

// --- Registration and login ---

// Register creates a password user and signs them in.
func (s *AuthService) Register(ctx context.Context, in CredentialsInput, client domain.ClientInfo) (*domain.TokenPair, error) {
	if !s.opts.AllowSignup {
		return nil, apperrors.Forbidden("Signup is disabled")
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	user := &domain.User{
		Email:         email,
		PasswordHash:  &hash,
		Role:          domain.RoleUser,
		EmailVerified: false,
		Metadata:      map[string]any{},
		ProfileFields: map[string]any{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	if s.opts.RequireVerification {
		s.sendVerification(ctx, email)
	}

	pair, err := s.issueTokenPair(ctx, user, client)
	if err != nil {
		return nil, err
	}

	s.record(ctx, audit.EventRegister, email, "", client, nil)
	s.logger.InfoContext(ctx, "user registered", slog.String("email", email))
	return pair, nil
}

// Login authenticates a password user. A login matching the configured
// bootstrap credentials provisions the admin account first.
func (s *AuthService) Login(ctx context.Context, in CredentialsInput, client domain.ClientInfo) (*domain.TokenPair, error) {
	if !s.opts.PasswordLogin {
		return nil, apperrors.Forbidden("Password login is disabled")
	}
	email := domain.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, apperrors.InvalidInput("email and password are required")
	}

	if s.isBootstrapLogin(email, in.Password) {
		if err := s.provisionBootstrapAdmin(ctx, email, in.Password); err != nil {
			return nil, err
		}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, s.loginFailed(ctx, email, client)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if !user.HasPassword() || !auth.VerifyPassword(in.Password, *user.PasswordHash) {
		return nil, s.loginFailed(ctx, email, client)
	}
	if user.Locked {
		metrics.RecordLogin("password", metrics.OutcomeLocked)
		return nil, apperrors.Forbidden(msgAccountLocked)
	}
	if s.opts.RequireVerification && !user.EmailVerified {
		metrics.RecordLogin("password", metrics.OutcomeUnverified)
		return nil, apperrors.Forbidden(msgVerificationRequired)
	}

	pair, err := s.issueTokenPair(ctx, user, client)
	if err != nil {
		return nil, err
	}
	s.touchLastLogin(ctx, email)

	metrics.RecordLogin("password", metrics.OutcomeSuccess)
	s.record(ctx, audit.EventLogin, email, "", client, nil)
	return pair, nil
}

func (s *AuthService) loginFailed(ctx context.Context, email string, client domain.ClientInfo) error {
	metrics.RecordLogin("password", metrics.OutcomeFailure)
	s.record(ctx, audit.EventLoginFailed, email, "", client, nil)
	return apperrors.Unauthorized(msgInvalidCredentials)
}

func (s *AuthService) isBootstrapLogin(email, password string) bool {
	want := domain.NormalizeEmail(s.opts.BootstrapAdminEmail)
	if want == "" || s.opts.BootstrapAdminPassword == "" || email != want {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(s.opts.BootstrapAdminPassword)) == 1
}

// provisionBootstrapAdmin creates the bootstrap admin at most once. A row that
// already exists only gets a password when it has none.
func (s *AuthService) provisionBootstrapAdmin(ctx context.Context, email, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash bootstrap password: %w", err)
	}
	now := s.now().UTC()
	created, err := s.users.CreateIfAbsent(ctx, &domain.User{
		Email:         email,
		PasswordHash:  &hash,
		Role:          domain.RoleAdmin,
		EmailVerified: true,
		Metadata:      map[string]any{},
		ProfileFields: map[string]any{},
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return fmt.Errorf("provision bootstrap admin: %w", err)
	}
	if created {
		s.logger.InfoContext(ctx, "bootstrap admin provisioned", slog.String("email", email))
		s.record(ctx, audit.EventUserCreated, email, "", domain.ClientInfo{}, map[string]any{"bootstrap": true})
		return nil
	}
	if _, err := s.users.SetPasswordIfUnset(ctx, email, hash); err != nil {
		return fmt.Errorf("set bootstrap password: %w", err)
	}
	return nil
}

func (s *AuthService) touchLastLogin(ctx context.Context, email string) {
	if err := s.users.TouchLastLogin(ctx, email, s.now().UTC()); err != nil {
		s.logger.WarnContext(ctx, "failed to record last login",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
	}
}

// --- Email verification ---

// VerifyEmail marks an address verified by token or by email and code.
func (s *AuthService) VerifyEmail(ctx context.Context, in VerifyEmailInput) (string, error) {
	var email string
	switch {
	case in.Token != "":
		claimed, err := s.oneTimeTokens.Claim(ctx, domain.TokenEmailVerification, auth.HashToken(in.Token))
		if err != nil {
			return "", tokenError(err)
		}
		email = claimed
	case in.Email != "" && in.Code != "":
		email = domain.NormalizeEmail(in.Email)
		if err := s.oneTimeTokens.ClaimCode(ctx, email, auth.HashToken(in.Code)); err != nil {
			return "", tokenError(err)
		}
	default:
		return "", apperrors.InvalidInput("token or email and code are required")
	}

	if err := s.markVerified(ctx, email); err != nil {
		return "", err
	}
	s.record(ctx, audit.EventEmailVerified, email, "", domain.ClientInfo{}, nil)
	return email, nil
}

func (s *AuthService) markVerified(ctx context.Context, email string) error {
	verified := true
	if _, err := s.users.Update(ctx, email, domain.UserUpdate{EmailVerified: &verified}); err != nil {
		return fmt.Errorf("mark %s verified: %w", email, err)
	}
	return nil
}

// VerificationStatus reports whether an address is verified and when the last
// verification mail went out. Unknown addresses look unverified.
func (s *AuthService) VerificationStatus(ctx context.Context, rawEmail string) (*VerificationStatus, error) {
	email := domain.NormalizeEmail(rawEmail)
	if email == "" {
		return nil, apperrors.InvalidInput("email is required")
	}
	status := &VerificationStatus{}
	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		status.EmailVerified = user.EmailVerified
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, fmt.Errorf("get user: %w", err)
	}
	sentAt, err := s.oneTimeTokens.LastIssued(ctx, domain.TokenEmailVerification, email)
	if err != nil {
		return nil, fmt.Errorf("last verification: %w", err)
	}
	status.VerificationSentAt = sentAt
	return status, nil
}

// ResendVerification sends a new verification mail to an unverified user.
// The outcome never reveals whether the address is registered.
func (s *AuthService) ResendVerification(ctx context.Context, rawEmail string) error {
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return err
	}
	if err := s.allow(ctx, "verification", email); err != nil {
		return err
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get user: %w", err)
	}
	if !user.EmailVerified {
		s.sendVerification(ctx, email)
	}
	return nil
}

// --- Password reset ---

// ForgotPassword mails a reset link to a registered address.
// The outcome never reveals whether the address is registered.
func (s *AuthService) ForgotPassword(ctx context.Context, rawEmail string) error {
	if !s.opts.PasswordReset {
		return apperrors.Forbidden("Password reset is disabled")
	}
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return err
	}
	if err := s.allow(ctx, "password-reset", email); err != nil {
		return err
	}
	if _, err := s.users.GetByEmail(ctx, email); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get user: %w", err)
	}
	s.sendPasswordReset(ctx, email)
	return nil
}

// ResetPassword redeems a reset token, stores the new password and revokes
// every refresh token of the user.
func (s *AuthService) ResetPassword(ctx context.Context, token, password string) error {
	if !s.opts.PasswordReset {
		return apperrors.Forbidden("Password reset is disabled")
	}
	if token == "" {
		return apperrors.InvalidInput(msgInvalidToken)
	}
	if err := validatePassword(password); err != nil {
		return err
	}
	email, err := s.oneTimeTokens.Claim(ctx, domain.TokenPasswordReset, auth.HashToken(token))
	if err != nil {
		return tokenError(err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	// Receiving the reset mail proves ownership of the address.
	verified := true
	if _, err := s.users.Update(ctx, email, domain.UserUpdate{PasswordHash: &hash, EmailVerified: &verified}); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if _, err := s.refreshTokens.RevokeAllForUser(ctx, email); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}

	s.record(ctx, audit.EventPasswordReset, email, "", domain.ClientInfo{}, nil)
	return nil
}

// --- Magic link ---

// RequestMagicLink mails a sign-in link to a registered, unlocked address.
func (s *AuthService) RequestMagicLink(ctx context.Context, rawEmail string) error {
	if !s.opts.MagicLink {
		return apperrors.Forbidden("Magic link login is disabled")
	}
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return err
	}
	if err := s.allow(ctx, "magic-link", email); err != nil {
		return err
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get user: %w", err)
	}
	if user.Locked {
		return nil
	}

	token, err := s.storeToken(ctx, domain.TokenMagicLink, email, nil)
	if err != nil {
		return err
	}
	s.send(ctx, s.links.MagicLink(email, token))
	return nil
}

// VerifyMagicLink redeems a magic link token and signs the user in.
func (s *AuthService) VerifyMagicLink(ctx context.Context, token string, client domain.ClientInfo) (*domain.TokenPair, error) {
	if !s.opts.MagicLink {
		return nil, apperrors.Forbidden("Magic link login is disabled")
	}
	if token == "" {
		return nil, apperrors.InvalidInput(msgInvalidToken)
	}
	email, err := s.oneTimeTokens.Claim(ctx, domain.TokenMagicLink, auth.HashToken(token))
	if err != nil {
		return nil, tokenError(err)
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.InvalidInput(msgInvalidToken)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user.Locked {
		metrics.RecordLogin("magic_link", metrics.OutcomeLocked)
		return nil, apperrors.Forbidden(msgAccountLocked)
	}
	if !user.EmailVerified {
		if err := s.markVerified(ctx, email); err != nil {
			return nil, err
		}
		user.EmailVerified = true
	}

	pair, err := s.issueTokenPair(ctx, user, client)
	if err != nil {
		return nil, err
	}
	s.touchLastLogin(ctx, email)

	metrics.RecordLogin("magic_link", metrics.OutcomeSuccess)
	s.record(ctx, audit.EventMagicLinkLogin, email, "", client, nil)
	return pair, nil
}

// --- Admin actions on behalf of a user ---

// AdminResendVerification sends a verification mail without the cooldown.
func (s *AuthService) AdminResendVerification(ctx context.Context, actor, rawEmail string) error {
	user, err := s.users.GetByEmail(ctx, domain.NormalizeEmail(rawEmail))
	if err != nil {
		return err
	}
	if user.EmailVerified {
		return apperrors.InvalidInput("Email is already verified")
	}
	s.sendVerification(ctx, user.Email)
	s.record(ctx, audit.EventUserUpdated, user.Email, actor, domain.ClientInfo{}, map[string]any{"action": "resend_verification"})
	return nil
}

// AdminVerify marks a user verified.
func (s *AuthService) AdminVerify(ctx context.Context, actor, rawEmail string) error {
	email := domain.NormalizeEmail(rawEmail)
	if err := s.markVerified(ctx, email); err != nil {
		return err
	}
	s.record(ctx, audit.EventEmailVerified, email, actor, domain.ClientInfo{}, nil)
	return nil
}

// AdminSendPasswordReset mails a reset link to a user.
func (s *AuthService) AdminSendPasswordReset(ctx context.Context, actor, rawEmail string) error {
	user, err := s.users.GetByEmail(ctx, domain.NormalizeEmail(rawEmail))
	if err != nil {
		return err
	}
	s.sendPasswordReset(ctx, user.Email)
	s.record(ctx, audit.EventUserUpdated, user.Email, actor, domain.ClientInfo{}, map[string]any{"action": "password_reset_sent"})
	return nil
}

// --- Credentials ---

// Validate verifies an access credential.
func (s *AuthService) Validate(token string) (*auth.Claims, bool) {
	if token == "" {
		return nil, false
	}
	claims, err := s.codec.Verify(token)
	if err != nil {
		return nil, false
	}
	return claims, true
}

// Me returns the caller's user record.
func (s *AuthService) Me(ctx context.Context, email string) (*domain.User, error) {
	return s.users.GetByEmail(ctx, domain.NormalizeEmail(email))
}

// issueTokenPair signs an access credential and stores a fresh refresh token.
func (s *AuthService) issueTokenPair(ctx context.Context, user *domain.User, client domain.ClientInfo) (*domain.TokenPair, error) {
	access, err := s.signAccess(user, "", "")
	if err != nil {
		return nil, err
	}

	refresh, err := auth.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := s.refreshTokens.Create(ctx, &domain.RefreshToken{
		ID:        newID(),
		UserEmail: user.Email,
		TokenHash: auth.HashToken(refresh),
		ExpiresAt: now.Add(s.opts.RefreshTokenTTL),
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &domain.TokenPair{
		Token:         access,
		RefreshToken:  refresh,
		EmailVerified: user.EmailVerified,
		ExpiresIn:     int(s.codec.TTL().Seconds()),
	}, nil
}

func (s *AuthService) signAccess(user *domain.User, impersonator, sessionID string) (string, error) {
	roles := user.Roles()
	token, err := s.codec.Sign(&auth.Claims{
		Email:                  user.Email,
		EmailVerified:          user.EmailVerified,
		Role:                   domain.ResolveRole(roles),
		Roles:                  roles,
		ImpersonatorEmail:      impersonator,
		ImpersonationSessionID: sessionID,
	})
	if err != nil {
		if errors.Is(err, auth.ErrSigningSecretMissing) {
			return "", apperrors.Configuration(err)
		}
		return "", err
	}
	return token, nil
}

// --- Helpers ---

func newID() string {
	return uuid.New().String()
}

func (s *AuthService) storeToken(ctx context.Context, kind domain.TokenKind, email string, code *string) (string, error) {
	token, err := auth.NewOpaqueToken()
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	t := &domain.OneTimeToken{
		ID:        newID(),
		Kind:      kind,
		Email:     email,
		TokenHash: auth.HashToken(token),
		ExpiresAt: now.Add(kind.TTL()),
		CreatedAt: now,
	}
	if code != nil {
		h := auth.HashToken(*code)
		t.CodeHash = &h
	}
	if err := s.oneTimeTokens.Create(ctx, t); err != nil {
		return "", fmt.Errorf("store %s token: %w", kind, err)
	}
	return token, nil
}

// sendVerification issues a verification token and code and mails them.
// Failures are logged; the calling flow continues.
func (s *AuthService) sendVerification(ctx context.Context, email string) {
	code, err := auth.NewNumericCode()
	if err == nil {
		var token string
		token, err = s.storeToken(ctx, domain.TokenEmailVerification, email, &code)
		if err == nil {
			s.send(ctx, s.links.Verification(email, token, code))
			return
		}
	}
	s.logger.ErrorContext(ctx, "failed to issue verification token",
		slog.String("email", email),
		slog.String("error", err.Error()),
	)
}

func (s *AuthService) sendPasswordReset(ctx context.Context, email string) {
	token, err := s.storeToken(ctx, domain.TokenPasswordReset, email, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue password reset token",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
		return
	}
	s.send(ctx, s.links.PasswordReset(email, token))
}

func (s *AuthService) send(ctx context.Context, msg mailer.Message) {
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "failed to send mail",
			slog.String("to", msg.To),
			slog.String("template", msg.Template),
			slog.String("error", err.Error()),
		)
	}
}

// allow enforces the per-address cooldown on mail-sending endpoints. A
// cooldown store outage lets the request through.
func (s *AuthService) allow(ctx context.Context, purpose, email string) error {
	if s.cooldown == nil {
		return nil
	}
	ok, err := s.cooldown.Allow(ctx, throttle.Key(purpose, email))
	if err != nil {
		s.logger.WarnContext(ctx, "cooldown check failed", slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return &apperrors.AppError{
			Code:    "RATE_LIMITED",
			Message: "Please wait before requesting another email",
			Status:  http.StatusTooManyRequests,
		}
	}
	return nil
}

func (s *AuthService) record(ctx context.Context, eventType, subject, actor string, client domain.ClientInfo, data map[string]any) {
	s.audit.Record(ctx, audit.Event{
		Type:      eventType,
		Subject:   subject,
		Actor:     actor,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		Data:      data,
		At:        s.now().UTC(),
	})
}

// tokenError maps a failed claim to the uniform invalid-token error.
func tokenError(err error) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return apperrors.InvalidInput(msgInvalidToken)
	}
	return fmt.Errorf("redeem token: %w", err)
}

func normalizeEmail(raw string) (string, error) {
	email := domain.NormalizeEmail(raw)
	if email == "" {
		return "", apperrors.InvalidInput("email is required")
	}
	if err := validator.Var(email, "email"); err != nil {
		return "", apperrors.InvalidInput("A valid email is required")
	}
	return email, nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("Password must be at least %d characters", minPasswordLength))
	}
	return nil
}
