package postgres

import (
	"context"
	"fmt"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/database"
	apperrors "github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/errors"
)

const actionColumns = `key, pack_name, label, description, default_enabled, created_at, updated_at`

// ActionRepository implements repository.ActionRepository using PostgreSQL.
type ActionRepository struct {
	db database.DBTX
}

// NewActionRepository creates a new PostgreSQL-backed action registry.
func NewActionRepository(db database.DBTX) *ActionRepository {
	return &ActionRepository{db: db}
}

// Create registers a new action.
func (r *ActionRepository) Create(ctx context.Context, a *domain.PermissionAction) (err error) {
	query := `INSERT INTO permission_actions (` + actionColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	ctx, end := database.TraceQuery(ctx, "permission_actions.Create", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query,
		a.Key, a.PackName, a.Label, a.Description, a.DefaultEnabled, a.CreatedAt, a.UpdatedAt,
	); err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.AlreadyExists("action", "key", a.Key)
		}
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

// Upsert registers an action or refreshes its metadata. created_at is kept on update.
func (r *ActionRepository) Upsert(ctx context.Context, a *domain.PermissionAction) (err error) {
	query := `
		INSERT INTO permission_actions (` + actionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE SET
			pack_name = EXCLUDED.pack_name,
			label = EXCLUDED.label,
			description = EXCLUDED.description,
			default_enabled = EXCLUDED.default_enabled,
			updated_at = EXCLUDED.updated_at`

	ctx, end := database.TraceQuery(ctx, "permission_actions.Upsert", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query,
		a.Key, a.PackName, a.Label, a.Description, a.DefaultEnabled, a.CreatedAt, a.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert action: %w", err)
	}
	return nil
}

// Get retrieves a registry entry.
func (r *ActionRepository) Get(ctx context.Context, key string) (a *domain.PermissionAction, err error) {
	query := `SELECT ` + actionColumns + ` FROM permission_actions WHERE key = $1`

	ctx, end := database.TraceQuery(ctx, "permission_actions.Get", query)
	defer func() { end(err) }()

	a, err = scanAction(r.db.QueryRow(ctx, query, key))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, apperrors.NotFound("action", key)
		}
		return nil, fmt.Errorf("get action: %w", err)
	}
	return a, nil
}

// List returns one page of actions matching the search term on key, label or pack.
func (r *ActionRepository) List(ctx context.Context, f domain.ActionFilter) (out []domain.PermissionAction, total int, err error) {
	where := ""
	args := []any{}
	if f.Query != "" {
		args = append(args, likePattern(f.Query))
		where = ` WHERE key ILIKE $1 OR label ILIKE $1 OR pack_name ILIKE $1`
	}

	countQuery := `SELECT count(*) FROM permission_actions` + where
	ctx, end := database.TraceQuery(ctx, "permission_actions.List", countQuery)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count actions: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM permission_actions%s ORDER BY pack_name, key LIMIT $%d OFFSET $%d`,
		actionColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	out = []domain.PermissionAction{}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan action: %w", err)
		}
		out = append(out, *a)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate actions: %w", err)
	}
	return out, total, nil
}

// Delete removes a registry entry.
func (r *ActionRepository) Delete(ctx context.Context, key string) (err error) {
	query := `DELETE FROM permission_actions WHERE key = $1`

	ctx, end := database.TraceQuery(ctx, "permission_actions.Delete", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, key)
	if err != nil {
		return fmt.Errorf("delete action: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("action", key)
	}
	return nil
}

func scanAction(row rowScanner) (*domain.PermissionAction, error) {
	var a domain.PermissionAction
	if err := row.Scan(&a.Key, &a.PackName, &a.Label, &a.Description, &a.DefaultEnabled, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
