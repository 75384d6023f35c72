package postgres

import (
	"context"
	"fmt"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/database"
	apperrors "github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/errors"
)

const impersonationColumns = `id, admin_email, impersonated_email, started_at, ended_at, end_reason, ip_address, user_agent`

// ImpersonationRepository implements repository.ImpersonationRepository using PostgreSQL.
type ImpersonationRepository struct {
	db database.DBTX
}

// NewImpersonationRepository creates a new PostgreSQL-backed impersonation repository.
func NewImpersonationRepository(db database.DBTX) *ImpersonationRepository {
	return &ImpersonationRepository{db: db}
}

// Create inserts a new active session.
func (r *ImpersonationRepository) Create(ctx context.Context, s *domain.ImpersonationSession) (err error) {
	query := `INSERT INTO impersonation_sessions (` + impersonationColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	ctx, end := database.TraceQuery(ctx, "impersonation_sessions.Create", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query,
		s.ID, s.AdminEmail, s.ImpersonatedEmail, s.StartedAt, s.EndedAt, s.EndReason, s.IPAddress, s.UserAgent,
	); err != nil {
		return fmt.Errorf("insert impersonation session: %w", err)
	}
	return nil
}

// GetByID retrieves a session.
func (r *ImpersonationRepository) GetByID(ctx context.Context, id string) (s *domain.ImpersonationSession, err error) {
	query := `SELECT ` + impersonationColumns + ` FROM impersonation_sessions WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "impersonation_sessions.GetByID", query)
	defer func() { end(err) }()

	s, err = scanImpersonation(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, apperrors.NotFound("impersonation session", id)
		}
		return nil, fmt.Errorf("get impersonation session: %w", err)
	}
	return s, nil
}

// End closes the session if it is still active.
func (r *ImpersonationRepository) End(ctx context.Context, id, reason string) (ended bool, err error) {
	query := `
		UPDATE impersonation_sessions SET ended_at = now(), end_reason = $1
		WHERE id = $2 AND ended_at IS NULL`

	ctx, end := database.TraceQuery(ctx, "impersonation_sessions.End", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, reason, id)
	if err != nil {
		return false, fmt.Errorf("end impersonation session: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// ListRecent returns the newest sessions first.
func (r *ImpersonationRepository) ListRecent(ctx context.Context, limit int) (out []domain.ImpersonationSession, err error) {
	query := `SELECT ` + impersonationColumns + ` FROM impersonation_sessions ORDER BY started_at DESC LIMIT $1`

	ctx, end := database.TraceQuery(ctx, "impersonation_sessions.ListRecent", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list impersonation sessions: %w", err)
	}
	defer rows.Close()

	out = []domain.ImpersonationSession{}
	for rows.Next() {
		s, err := scanImpersonation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan impersonation session: %w", err)
		}
		out = append(out, *s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate impersonation sessions: %w", err)
	}
	return out, nil
}

func scanImpersonation(row rowScanner) (*domain.ImpersonationSession, error) {
	var s domain.ImpersonationSession
	if err := row.Scan(&s.ID, &s.AdminEmail, &s.ImpersonatedEmail, &s.StartedAt, &s.EndedAt, &s.EndReason, &s.IPAddress, &s.UserAgent); err != nil {
		return nil, err
	}
	return &s, nil
}
