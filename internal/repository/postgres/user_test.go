package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/database"
	apperrors "github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/errors"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	return database.NewMockPool(t)
}

func sampleUser() *domain.User {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	hash := "scrypt$16384$8$1$c2FsdA$a2V5"
	return &domain.User{
		Email:         "alice@example.com",
		PasswordHash:  &hash,
		EmailVerified: true,
		Role:          "user",
		Metadata:      map[string]any{},
		ProfileFields: map[string]any{"first_name": "Alice"},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func userColumnNames() []string {
	return []string{
		"email", "password_hash", "email_verified", "two_factor_enabled", "locked", "role",
		"metadata", "profile_fields", "profile_picture_url", "created_at", "updated_at", "last_login",
	}
}

func userRow(u *domain.User) *pgxmock.Rows {
	return pgxmock.NewRows(userColumnNames()).AddRow(
		u.Email, u.PasswordHash, u.EmailVerified, u.TwoFactorEnabled, u.Locked, u.Role,
		[]byte(`{}`), []byte(`{"first_name":"Alice"}`), u.ProfilePictureURL, u.CreatedAt, u.UpdatedAt, u.LastLogin,
	)
}

func anyUserArgs() []any {
	args := make([]any, len(userColumnNames()))
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestUserRepository_Create_Success(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)
	u := sampleUser()

	mock.ExpectExec("INSERT INTO users").
		WithArgs(
			u.Email, u.PasswordHash, u.EmailVerified, u.TwoFactorEnabled, u.Locked, u.Role,
			pgxmock.AnyArg(), pgxmock.AnyArg(), u.ProfilePictureURL, u.CreatedAt, u.UpdatedAt, u.LastLogin,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), u))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Create_DuplicateEmail(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)

	mock.ExpectExec("INSERT INTO users").
		WithArgs(anyUserArgs()...).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), sampleUser())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyExists))
	assert.Equal(t, 400, apperrors.HTTPStatus(err))
}

func TestUserRepository_CreateIfAbsent(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)

	mock.ExpectExec("(?s)INSERT INTO users .* ON CONFLICT \\(email\\) DO NOTHING").
		WithArgs(anyUserArgs()...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("(?s)INSERT INTO users .* ON CONFLICT \\(email\\) DO NOTHING").
		WithArgs(anyUserArgs()...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	created, err := repo.CreateIfAbsent(context.Background(), sampleUser())
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreateIfAbsent(context.Background(), sampleUser())
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Read
// ---------------------------------------------------------------------------

func TestUserRepository_GetByEmail_Success(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)
	want := sampleUser()

	mock.ExpectQuery("(?s)SELECT .* FROM users WHERE email = \\$1").
		WithArgs("alice@example.com").
		WillReturnRows(userRow(want))

	got, err := repo.GetByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, want.Email, got.Email)
	assert.Equal(t, *want.PasswordHash, *got.PasswordHash)
	assert.Equal(t, "Alice", got.ProfileFields["first_name"])
	assert.NotNil(t, got.Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_GetByEmail_NotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)

	mock.ExpectQuery("(?s)SELECT .* FROM users").
		WithArgs("ghost@example.com").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByEmail(context.Background(), "ghost@example.com")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestUserRepository_List_WithSearch(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM users WHERE email ILIKE \\$1").
		WithArgs("%ali%").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("(?s)SELECT .* FROM users WHERE .* ORDER BY email LIMIT \\$2 OFFSET \\$3").
		WithArgs("%ali%", 10, 0).
		WillReturnRows(userRow(sampleUser()))

	users, total, err := repo.List(context.Background(), domain.UserFilter{Query: "ali", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, users, 1)
	assert.Equal(t, "alice@example.com", users[0].Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLikePattern_EscapesWildcards(t *testing.T) {
	assert.Equal(t, `%a\%b\_c%`, likePattern("a%b_c"))
}

// ---------------------------------------------------------------------------
// Update / Delete
// ---------------------------------------------------------------------------

func TestUserRepository_Update_PartialFields(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)
	locked := true
	u := sampleUser()
	u.Locked = true

	mock.ExpectQuery("UPDATE users SET locked = \\$1, updated_at = \\$2 WHERE email = \\$3 RETURNING").
		WithArgs(true, pgxmock.AnyArg(), "alice@example.com").
		WillReturnRows(userRow(u))

	got, err := repo.Update(context.Background(), "alice@example.com", domain.UserUpdate{Locked: &locked})
	require.NoError(t, err)
	assert.True(t, got.Locked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Update_NotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)
	role := "admin"

	mock.ExpectQuery("UPDATE users SET role").
		WithArgs("admin", pgxmock.AnyArg(), "ghost@example.com").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Update(context.Background(), "ghost@example.com", domain.UserUpdate{Role: &role})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestUserRepository_SetPasswordIfUnset(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)

	mock.ExpectExec("(?s)UPDATE users SET password_hash = \\$1.*password_hash IS NULL").
		WithArgs("hash", "root@example.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	updated, err := repo.SetPasswordIfUnset(context.Background(), "root@example.com", "hash")
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestUserRepository_Delete(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)

	mock.ExpectExec("DELETE FROM users").
		WithArgs("alice@example.com").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM users").
		WithArgs("alice@example.com").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, repo.Delete(context.Background(), "alice@example.com"))
	err := repo.Delete(context.Background(), "alice@example.com")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestUserRepository_Delete_DropsUserAssignments(t *testing.T) {
	mock := newMock(t)
	repo := NewUserRepository(mock)

	mock.ExpectExec("(?s)DELETE FROM permission_set_assignments WHERE principal_type = 'user' AND principal_id = \\$1.*DELETE FROM users WHERE email = \\$1").
		WithArgs("bob@example.com").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, repo.Delete(context.Background(), "bob@example.com"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
