package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/database"
	apperrors "github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/errors"
)

const userColumns = `email, password_hash, email_verified, two_factor_enabled, locked, role,
		metadata, profile_fields, profile_picture_url, created_at, updated_at, last_login`

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db database.DBTX
}

// NewUserRepository creates a new PostgreSQL-backed user repository.
func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user into the database.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) (err error) {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	ctx, end := database.TraceQuery(ctx, "users.Create", query)
	defer func() { end(err) }()

	args, err := userArgs(u)
	if err != nil {
		return err
	}
	if _, err = r.db.Exec(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.AlreadyExists("user", "email", u.Email)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// CreateIfAbsent inserts the user unless the email already exists.
func (r *UserRepository) CreateIfAbsent(ctx context.Context, u *domain.User) (created bool, err error) {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (email) DO NOTHING`

	ctx, end := database.TraceQuery(ctx, "users.CreateIfAbsent", query)
	defer func() { end(err) }()

	args, err := userArgs(u)
	if err != nil {
		return false, err
	}
	ct, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert user: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// GetByEmail retrieves a user by email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (u *domain.User, err error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	ctx, end := database.TraceQuery(ctx, "users.GetByEmail", query)
	defer func() { end(err) }()

	u, err = scanUser(r.db.QueryRow(ctx, query, email))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, apperrors.NotFound("user", email)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// List returns a page of users ordered by email.
func (r *UserRepository) List(ctx context.Context, f domain.UserFilter) (users []domain.User, total int, err error) {
	where := ""
	args := []any{}
	if f.Query != "" {
		args = append(args, likePattern(f.Query))
		where = ` WHERE email ILIKE $1 OR profile_fields::text ILIKE $1`
	}

	countQuery := `SELECT count(*) FROM users` + where
	ctx, end := database.TraceQuery(ctx, "users.List", countQuery)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM users%s ORDER BY email LIMIT $%d OFFSET $%d`,
		userColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users = []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate users: %w", err)
	}
	return users, total, nil
}

// Update applies the non-nil fields of upd.
func (r *UserRepository) Update(ctx context.Context, email string, upd domain.UserUpdate) (u *domain.User, err error) {
	var sets []string
	var args []any
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.EmailVerified != nil {
		set("email_verified", *upd.EmailVerified)
	}
	if upd.TwoFactorEnabled != nil {
		set("two_factor_enabled", *upd.TwoFactorEnabled)
	}
	if upd.Locked != nil {
		set("locked", *upd.Locked)
	}
	if upd.Role != nil {
		set("role", *upd.Role)
	}
	if upd.PasswordHash != nil {
		set("password_hash", *upd.PasswordHash)
	}
	if upd.ProfilePictureURL != nil {
		set("profile_picture_url", *upd.ProfilePictureURL)
	}
	if upd.Metadata != nil {
		b, err := marshalJSONB(upd.Metadata)
		if err != nil {
			return nil, err
		}
		set("metadata", b)
	}
	if upd.ProfileFields != nil {
		b, err := marshalJSONB(upd.ProfileFields)
		if err != nil {
			return nil, err
		}
		set("profile_fields", b)
	}
	set("updated_at", time.Now().UTC())
	args = append(args, email)

	query := fmt.Sprintf(`UPDATE users SET %s WHERE email = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), userColumns)

	ctx, end := database.TraceQuery(ctx, "users.Update", query)
	defer func() { end(err) }()

	u, err = scanUser(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, apperrors.NotFound("user", email)
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	return u, nil
}

// SetPasswordIfUnset stores hash only when password_hash is NULL.
func (r *UserRepository) SetPasswordIfUnset(ctx context.Context, email, hash string) (updated bool, err error) {
	query := `
		UPDATE users SET password_hash = $1, updated_at = now()
		WHERE email = $2 AND password_hash IS NULL`

	ctx, end := database.TraceQuery(ctx, "users.SetPasswordIfUnset", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, hash, email)
	if err != nil {
		return false, fmt.Errorf("set password: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// TouchLastLogin records the login time.
func (r *UserRepository) TouchLastLogin(ctx context.Context, email string, at time.Time) (err error) {
	query := `UPDATE users SET last_login = $1 WHERE email = $2`

	ctx, end := database.TraceQuery(ctx, "users.TouchLastLogin", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query, at, email); err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}
	return nil
}

// Delete removes a user. Sessions, memberships and overrides cascade through
// foreign keys; permission-set assignments have none and go in the same
// statement.
func (r *UserRepository) Delete(ctx context.Context, email string) (err error) {
	query := `
		WITH a AS (
			DELETE FROM permission_set_assignments WHERE principal_type = 'user' AND principal_id = $1
		)
		DELETE FROM users WHERE email = $1`

	ctx, end := database.TraceQuery(ctx, "users.Delete", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, email)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", email)
	}
	return nil
}

func userArgs(u *domain.User) ([]any, error) {
	metadata, err := marshalJSONB(u.Metadata)
	if err != nil {
		return nil, err
	}
	profile, err := marshalJSONB(u.ProfileFields)
	if err != nil {
		return nil, err
	}
	return []any{
		u.Email, u.PasswordHash, u.EmailVerified, u.TwoFactorEnabled, u.Locked, u.Role,
		metadata, profile, u.ProfilePictureURL, u.CreatedAt, u.UpdatedAt, u.LastLogin,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	var metadata, profile []byte
	if err := row.Scan(
		&u.Email,
		&u.PasswordHash,
		&u.EmailVerified,
		&u.TwoFactorEnabled,
		&u.Locked,
		&u.Role,
		&metadata,
		&profile,
		&u.ProfilePictureURL,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.LastLogin,
	); err != nil {
		return nil, err
	}

	var err error
	if u.Metadata, err = unmarshalJSONB(metadata); err != nil {
		return nil, err
	}
	if u.ProfileFields, err = unmarshalJSONB(profile); err != nil {
		return nil, err
	}
	return &u, nil
}
