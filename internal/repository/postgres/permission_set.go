package postgres

import (
	"context"
	"fmt"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/database"
	apperrors "github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/errors"
)

// PermissionSetRepository implements repository.PermissionSetRepository using PostgreSQL.
type PermissionSetRepository struct {
	db database.DBTX
}

// NewPermissionSetRepository creates a new PostgreSQL-backed permission set repository.
func NewPermissionSetRepository(db database.DBTX) *PermissionSetRepository {
	return &PermissionSetRepository{db: db}
}

// grantTable returns the table and key column of a grant kind.
func grantTable(kind domain.GrantKind) (table, column string, err error) {
	switch kind {
	case domain.GrantPage:
		return "permission_set_page_grants", "page_path", nil
	case domain.GrantAction:
		return "permission_set_action_grants", "action_key", nil
	case domain.GrantMetric:
		return "permission_set_metric_grants", "metric_key", nil
	}
	return "", "", fmt.Errorf("unknown grant kind %q", kind)
}

// Create inserts a new permission set.
func (r *PermissionSetRepository) Create(ctx context.Context, s *domain.PermissionSet) (err error) {
	query := `
		INSERT INTO permission_sets (id, name, description, template_role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	ctx, end := database.TraceQuery(ctx, "permission_sets.Create", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query, s.ID, s.Name, s.Description, s.TemplateRole, s.CreatedAt, s.UpdatedAt); err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.AlreadyExists("permission set", "name", s.Name)
		}
		return fmt.Errorf("insert permission set: %w", err)
	}
	return nil
}

const permissionSetColumns = `id, name, description, template_role, created_at, updated_at`

// GetByID retrieves a permission set.
func (r *PermissionSetRepository) GetByID(ctx context.Context, id string) (s *domain.PermissionSet, err error) {
	query := `SELECT ` + permissionSetColumns + ` FROM permission_sets WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "permission_sets.GetByID", query)
	defer func() { end(err) }()

	var ps domain.PermissionSet
	err = r.db.QueryRow(ctx, query, id).Scan(&ps.ID, &ps.Name, &ps.Description, &ps.TemplateRole, &ps.CreatedAt, &ps.UpdatedAt)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, apperrors.NotFound("permission set", id)
		}
		return nil, fmt.Errorf("get permission set: %w", err)
	}
	return &ps, nil
}

// List returns all permission sets ordered by name.
func (r *PermissionSetRepository) List(ctx context.Context) (out []domain.PermissionSet, err error) {
	query := `SELECT ` + permissionSetColumns + ` FROM permission_sets ORDER BY name`

	ctx, end := database.TraceQuery(ctx, "permission_sets.List", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list permission sets: %w", err)
	}
	defer rows.Close()

	out = []domain.PermissionSet{}
	for rows.Next() {
		var ps domain.PermissionSet
		if err = rows.Scan(&ps.ID, &ps.Name, &ps.Description, &ps.TemplateRole, &ps.CreatedAt, &ps.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan permission set: %w", err)
		}
		out = append(out, ps)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permission sets: %w", err)
	}
	return out, nil
}

// Update modifies a permission set.
func (r *PermissionSetRepository) Update(ctx context.Context, s *domain.PermissionSet) (err error) {
	query := `
		UPDATE permission_sets SET name = $1, description = $2, template_role = $3, updated_at = $4
		WHERE id = $5`

	ctx, end := database.TraceQuery(ctx, "permission_sets.Update", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, s.Name, s.Description, s.TemplateRole, s.UpdatedAt, s.ID)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.AlreadyExists("permission set", "name", s.Name)
		}
		return fmt.Errorf("update permission set: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("permission set", s.ID)
	}
	return nil
}

// Delete removes a permission set; grants and assignments cascade.
func (r *PermissionSetRepository) Delete(ctx context.Context, id string) (err error) {
	query := `DELETE FROM permission_sets WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "permission_sets.Delete", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete permission set: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("permission set", id)
	}
	return nil
}

// AddAssignment attaches the set to a principal.
func (r *PermissionSetRepository) AddAssignment(ctx context.Context, a *domain.Assignment) (err error) {
	query := `
		INSERT INTO permission_set_assignments (id, permission_set_id, principal_type, principal_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	ctx, end := database.TraceQuery(ctx, "permission_set_assignments.Create", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query, a.ID, a.PermissionSetID, string(a.PrincipalType), a.PrincipalID, a.CreatedAt); err != nil {
		switch {
		case database.IsUniqueViolation(err):
			return apperrors.AlreadyExists("assignment", "principal", string(a.PrincipalType)+":"+a.PrincipalID)
		case database.IsForeignKeyViolation(err):
			return apperrors.NotFound("permission set", a.PermissionSetID)
		}
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

// ListAssignments returns the assignments of a set.
func (r *PermissionSetRepository) ListAssignments(ctx context.Context, setID string) (out []domain.Assignment, err error) {
	query := `
		SELECT id, permission_set_id, principal_type, principal_id, created_at
		FROM permission_set_assignments WHERE permission_set_id = $1
		ORDER BY principal_type, principal_id`

	ctx, end := database.TraceQuery(ctx, "permission_set_assignments.List", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, setID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	out = []domain.Assignment{}
	for rows.Next() {
		var a domain.Assignment
		var pt string
		if err = rows.Scan(&a.ID, &a.PermissionSetID, &pt, &a.PrincipalID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.PrincipalType = domain.PrincipalType(pt)
		out = append(out, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return out, nil
}

// DeleteAssignment removes an assignment of the set.
func (r *PermissionSetRepository) DeleteAssignment(ctx context.Context, setID, assignmentID string) (err error) {
	query := `DELETE FROM permission_set_assignments WHERE id = $1 AND permission_set_id = $2`

	ctx, end := database.TraceQuery(ctx, "permission_set_assignments.Delete", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, assignmentID, setID)
	if err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("assignment", assignmentID)
	}
	return nil
}

// AddGrant inserts a page, action or metric grant.
func (r *PermissionSetRepository) AddGrant(ctx context.Context, g *domain.Grant) (err error) {
	table, column, err := grantTable(g.Kind)
	if err != nil {
		return err
	}
	query := `INSERT INTO ` + table + ` (id, permission_set_id, ` + column + `, created_at) VALUES ($1, $2, $3, $4)`

	ctx, end := database.TraceQuery(ctx, table+".Create", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query, g.ID, g.PermissionSetID, g.Key, g.CreatedAt); err != nil {
		switch {
		case database.IsUniqueViolation(err):
			return apperrors.AlreadyExists("grant", column, g.Key)
		case database.IsForeignKeyViolation(err):
			return apperrors.NotFound("permission set", g.PermissionSetID)
		}
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

// ListGrants returns the grants of one kind for a set.
func (r *PermissionSetRepository) ListGrants(ctx context.Context, setID string, kind domain.GrantKind) (out []domain.Grant, err error) {
	table, column, err := grantTable(kind)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, permission_set_id, ` + column + `, created_at FROM ` + table + ` WHERE permission_set_id = $1 ORDER BY ` + column

	ctx, end := database.TraceQuery(ctx, table+".List", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, setID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	out = []domain.Grant{}
	for rows.Next() {
		g := domain.Grant{Kind: kind}
		if err = rows.Scan(&g.ID, &g.PermissionSetID, &g.Key, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		out = append(out, g)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}
	return out, nil
}

// DeleteGrant removes a grant of the set.
func (r *PermissionSetRepository) DeleteGrant(ctx context.Context, setID string, kind domain.GrantKind, grantID string) (err error) {
	table, _, err := grantTable(kind)
	if err != nil {
		return err
	}
	query := `DELETE FROM ` + table + ` WHERE id = $1 AND permission_set_id = $2`

	ctx, end := database.TraceQuery(ctx, table+".Delete", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, grantID, setID)
	if err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("grant", grantID)
	}
	return nil
}

// GrantedKeys resolves grants through user, role and group assignments in one query.
func (r *PermissionSetRepository) GrantedKeys(ctx context.Context, kind domain.GrantKind, reach domain.Reach, keys []string) (out []string, err error) {
	table, column, err := grantTable(kind)
	if err != nil {
		return nil, err
	}

	groupIDs := reach.GroupIDs
	if groupIDs == nil {
		groupIDs = []string{}
	}
	args := []any{reach.Email, reach.Role, groupIDs}
	query := `
		SELECT DISTINCT g.` + column + `
		FROM ` + table + ` g
		JOIN permission_set_assignments a ON a.permission_set_id = g.permission_set_id
		WHERE ((a.principal_type = 'user' AND a.principal_id = $1)
		    OR (a.principal_type = 'role' AND a.principal_id = $2)
		    OR (a.principal_type = 'group' AND a.principal_id = ANY($3)))`
	if keys != nil {
		args = append(args, keys)
		query += ` AND g.` + column + ` = ANY($4)`
	}

	ctx, end := database.TraceQuery(ctx, table+".GrantedKeys", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve grants: %w", err)
	}
	defer rows.Close()

	out = []string{}
	for rows.Next() {
		var key string
		if err = rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan grant key: %w", err)
		}
		out = append(out, key)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grant keys: %w", err)
	}
	return out, nil
}
