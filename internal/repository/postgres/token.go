package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/database"
	apperrors "github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/errors"
)

const refreshColumns = `id, user_email, token_hash, expires_at, revoked_at, ip_address, user_agent, created_at`

// RefreshTokenRepository implements repository.RefreshTokenRepository using PostgreSQL.
type RefreshTokenRepository struct {
	db database.DBTX
}

// NewRefreshTokenRepository creates a new PostgreSQL-backed refresh token repository.
func NewRefreshTokenRepository(db database.DBTX) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create stores a new refresh token hash.
func (r *RefreshTokenRepository) Create(ctx context.Context, t *domain.RefreshToken) (err error) {
	query := `INSERT INTO refresh_tokens (` + refreshColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	ctx, end := database.TraceQuery(ctx, "refresh_tokens.Create", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query,
		t.ID, t.UserEmail, t.TokenHash, t.ExpiresAt, t.RevokedAt, t.IPAddress, t.UserAgent, t.CreatedAt,
	); err != nil {
		if database.IsForeignKeyViolation(err) {
			return apperrors.NotFound("user", t.UserEmail)
		}
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// Claim revokes and returns the active token in a single statement, so two
// concurrent rotations of the same token cannot both succeed.
func (r *RefreshTokenRepository) Claim(ctx context.Context, tokenHash string) (t *domain.RefreshToken, err error) {
	query := `
		UPDATE refresh_tokens SET revoked_at = now()
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > now()
		RETURNING ` + refreshColumns

	ctx, end := database.TraceQuery(ctx, "refresh_tokens.Claim", query)
	defer func() { end(err) }()

	t, err = scanRefreshToken(r.db.QueryRow(ctx, query, tokenHash))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("claim refresh token: %w", err)
	}
	return t, nil
}

// RevokeByHash revokes one token; revoking twice is a no-op.
func (r *RefreshTokenRepository) RevokeByHash(ctx context.Context, tokenHash string) (err error) {
	query := `UPDATE refresh_tokens SET revoked_at = now() WHERE token_hash = $1 AND revoked_at IS NULL`

	ctx, end := database.TraceQuery(ctx, "refresh_tokens.RevokeByHash", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query, tokenHash); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeByID revokes one of the user's active tokens.
func (r *RefreshTokenRepository) RevokeByID(ctx context.Context, email, id string) (err error) {
	query := `
		UPDATE refresh_tokens SET revoked_at = now()
		WHERE id = $1 AND user_email = $2 AND revoked_at IS NULL`

	ctx, end := database.TraceQuery(ctx, "refresh_tokens.RevokeByID", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, id, email)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("session", id)
	}
	return nil
}

// RevokeAllForUser revokes every active token of the user.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, email string) (n int64, err error) {
	query := `UPDATE refresh_tokens SET revoked_at = now() WHERE user_email = $1 AND revoked_at IS NULL`

	ctx, end := database.TraceQuery(ctx, "refresh_tokens.RevokeAllForUser", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, email)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return ct.RowsAffected(), nil
}

// ListActiveForUser returns the user's live sessions, newest first.
func (r *RefreshTokenRepository) ListActiveForUser(ctx context.Context, email string) (out []domain.RefreshToken, err error) {
	query := `
		SELECT ` + refreshColumns + ` FROM refresh_tokens
		WHERE user_email = $1 AND revoked_at IS NULL AND expires_at > now()
		ORDER BY created_at DESC`

	ctx, end := database.TraceQuery(ctx, "refresh_tokens.ListActiveForUser", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, email)
	if err != nil {
		return nil, fmt.Errorf("list refresh tokens: %w", err)
	}
	defer rows.Close()

	out = []domain.RefreshToken{}
	for rows.Next() {
		t, err := scanRefreshToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan refresh token: %w", err)
		}
		out = append(out, *t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refresh tokens: %w", err)
	}
	return out, nil
}

func scanRefreshToken(row rowScanner) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	if err := row.Scan(&t.ID, &t.UserEmail, &t.TokenHash, &t.ExpiresAt, &t.RevokedAt, &t.IPAddress, &t.UserAgent, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// OneTimeTokenRepository implements repository.OneTimeTokenRepository using
// one table per token kind.
type OneTimeTokenRepository struct {
	db database.DBTX
}

// NewOneTimeTokenRepository creates a new PostgreSQL-backed one-time token repository.
func NewOneTimeTokenRepository(db database.DBTX) *OneTimeTokenRepository {
	return &OneTimeTokenRepository{db: db}
}

func tokenTable(kind domain.TokenKind) (string, error) {
	switch kind {
	case domain.TokenEmailVerification:
		return "email_verification_tokens", nil
	case domain.TokenPasswordReset:
		return "password_reset_tokens", nil
	case domain.TokenMagicLink:
		return "magic_link_tokens", nil
	}
	return "", fmt.Errorf("unknown token kind %q", kind)
}

// Create stores a token hash (and code hash for verification tokens).
func (r *OneTimeTokenRepository) Create(ctx context.Context, t *domain.OneTimeToken) (err error) {
	table, err := tokenTable(t.Kind)
	if err != nil {
		return err
	}

	var query string
	var args []any
	if t.Kind == domain.TokenEmailVerification {
		query = `INSERT INTO ` + table + ` (id, email, token_hash, code_hash, expires_at, created_at) VALUES ($1, $2, $3, $4, $5, $6)`
		args = []any{t.ID, t.Email, t.TokenHash, t.CodeHash, t.ExpiresAt, t.CreatedAt}
	} else {
		query = `INSERT INTO ` + table + ` (id, email, token_hash, expires_at, created_at) VALUES ($1, $2, $3, $4, $5)`
		args = []any{t.ID, t.Email, t.TokenHash, t.ExpiresAt, t.CreatedAt}
	}

	ctx, end := database.TraceQuery(ctx, table+".Create", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

// Claim marks an unused, unexpired token as used in one statement.
func (r *OneTimeTokenRepository) Claim(ctx context.Context, kind domain.TokenKind, tokenHash string) (email string, err error) {
	table, err := tokenTable(kind)
	if err != nil {
		return "", err
	}
	query := `
		UPDATE ` + table + ` SET used_at = now()
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > now()
		RETURNING email`

	ctx, end := database.TraceQuery(ctx, table+".Claim", query)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, query, tokenHash).Scan(&email); err != nil {
		if database.IsNoRows(err) {
			return "", apperrors.ErrNotFound
		}
		return "", fmt.Errorf("claim %s: %w", table, err)
	}
	return email, nil
}

// ClaimCode redeems the newest unused verification token of the email when
// its code matches. A miss counts against the token, and the
// domain.MaxCodeAttempts-th miss burns it.
func (r *OneTimeTokenRepository) ClaimCode(ctx context.Context, email, codeHash string) (err error) {
	query := `
		WITH target AS (
			SELECT id, COALESCE(code_hash = $2, false) AS matched
			FROM email_verification_tokens
			WHERE email = $1 AND used_at IS NULL AND expires_at > now()
			ORDER BY created_at DESC
			LIMIT 1
			FOR UPDATE
		)
		UPDATE email_verification_tokens t SET
			failed_attempts = t.failed_attempts + CASE WHEN target.matched THEN 0 ELSE 1 END,
			used_at = CASE
				WHEN target.matched OR t.failed_attempts + 1 >= $3 THEN now()
				ELSE NULL
			END
		FROM target
		WHERE t.id = target.id
		RETURNING target.matched`

	ctx, end := database.TraceQuery(ctx, "email_verification_tokens.ClaimCode", query)
	defer func() { end(err) }()

	var matched bool
	if err = r.db.QueryRow(ctx, query, email, codeHash, domain.MaxCodeAttempts).Scan(&matched); err != nil {
		if database.IsNoRows(err) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("claim verification code: %w", err)
	}
	if !matched {
		return apperrors.ErrNotFound
	}
	return nil
}

// LastIssued returns when the newest token of the kind was issued to email,
// or nil when none was.
func (r *OneTimeTokenRepository) LastIssued(ctx context.Context, kind domain.TokenKind, email string) (at *time.Time, err error) {
	table, err := tokenTable(kind)
	if err != nil {
		return nil, err
	}
	query := `SELECT max(created_at) FROM ` + table + ` WHERE email = $1`

	ctx, end := database.TraceQuery(ctx, table+".LastIssued", query)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, query, email).Scan(&at); err != nil {
		return nil, fmt.Errorf("last issued %s: %w", table, err)
	}
	return at, nil
}
