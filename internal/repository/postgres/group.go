package postgres

import (
	"context"
	"fmt"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/database"
	apperrors "github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/errors"
)

// GroupRepository implements repository.GroupRepository using PostgreSQL.
type GroupRepository struct {
	db database.DBTX
}

// NewGroupRepository creates a new PostgreSQL-backed group repository.
func NewGroupRepository(db database.DBTX) *GroupRepository {
	return &GroupRepository{db: db}
}

// Create inserts a new group.
func (r *GroupRepository) Create(ctx context.Context, g *domain.Group) (err error) {
	query := `
		INSERT INTO groups (id, name, description, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	ctx, end := database.TraceQuery(ctx, "groups.Create", query)
	defer func() { end(err) }()

	metadata, err := marshalJSONB(g.Metadata)
	if err != nil {
		return err
	}
	if _, err = r.db.Exec(ctx, query, g.ID, g.Name, g.Description, metadata, g.CreatedAt, g.UpdatedAt); err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.AlreadyExists("group", "name", g.Name)
		}
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

const groupSelect = `
		SELECT g.id, g.name, g.description, g.metadata, g.created_at, g.updated_at,
		       (SELECT count(*) FROM user_groups ug WHERE ug.group_id = g.id)
		FROM groups g`

// GetByID retrieves a group with its member count.
func (r *GroupRepository) GetByID(ctx context.Context, id string) (g *domain.Group, err error) {
	query := groupSelect + ` WHERE g.id = $1`

	ctx, end := database.TraceQuery(ctx, "groups.GetByID", query)
	defer func() { end(err) }()

	g, err = scanGroup(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, apperrors.NotFound("group", id)
		}
		return nil, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

// List returns all groups ordered by name.
func (r *GroupRepository) List(ctx context.Context) (groups []domain.Group, err error) {
	query := groupSelect + ` ORDER BY g.name`

	ctx, end := database.TraceQuery(ctx, "groups.List", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	groups = []domain.Group{}
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, *g)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return groups, nil
}

// Update modifies a group's name, description and metadata.
func (r *GroupRepository) Update(ctx context.Context, g *domain.Group) (err error) {
	query := `
		UPDATE groups SET name = $1, description = $2, metadata = $3, updated_at = $4
		WHERE id = $5`

	ctx, end := database.TraceQuery(ctx, "groups.Update", query)
	defer func() { end(err) }()

	metadata, err := marshalJSONB(g.Metadata)
	if err != nil {
		return err
	}
	ct, err := r.db.Exec(ctx, query, g.Name, g.Description, metadata, g.UpdatedAt, g.ID)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.AlreadyExists("group", "name", g.Name)
		}
		return fmt.Errorf("update group: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("group", g.ID)
	}
	return nil
}

// Delete removes a group; memberships and group permission rows cascade and
// group assignments are removed alongside.
func (r *GroupRepository) Delete(ctx context.Context, id string) (err error) {
	query := `
		WITH a AS (
			DELETE FROM permission_set_assignments WHERE principal_type = 'group' AND principal_id = $1
		)
		DELETE FROM groups WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "groups.Delete", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("group", id)
	}
	return nil
}

// AddMember inserts a membership row.
func (r *GroupRepository) AddMember(ctx context.Context, m *domain.Membership) (err error) {
	query := `
		INSERT INTO user_groups (group_id, user_email, created_at, created_by)
		VALUES ($1, $2, $3, $4)`

	ctx, end := database.TraceQuery(ctx, "groups.AddMember", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query, m.GroupID, m.UserEmail, m.CreatedAt, m.CreatedBy); err != nil {
		switch {
		case database.IsUniqueViolation(err):
			return apperrors.AlreadyExists("membership", "user_email", m.UserEmail)
		case database.IsForeignKeyViolation(err):
			return apperrors.NotFound("group or user", m.GroupID+"/"+m.UserEmail)
		}
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

// RemoveMember deletes a membership row.
func (r *GroupRepository) RemoveMember(ctx context.Context, groupID, email string) (err error) {
	query := `DELETE FROM user_groups WHERE group_id = $1 AND user_email = $2`

	ctx, end := database.TraceQuery(ctx, "groups.RemoveMember", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, groupID, email)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("membership", email)
	}
	return nil
}

// ListMembers returns the memberships of a group ordered by email.
func (r *GroupRepository) ListMembers(ctx context.Context, groupID string) ([]domain.Membership, error) {
	query := `
		SELECT ug.group_id, g.name, ug.user_email, ug.created_at, ug.created_by
		FROM user_groups ug JOIN groups g ON g.id = ug.group_id
		WHERE ug.group_id = $1
		ORDER BY ug.user_email`
	return r.listMemberships(ctx, "groups.ListMembers", query, groupID)
}

// ListForUser returns the groups a user belongs to.
func (r *GroupRepository) ListForUser(ctx context.Context, email string) ([]domain.Membership, error) {
	query := `
		SELECT ug.group_id, g.name, ug.user_email, ug.created_at, ug.created_by
		FROM user_groups ug JOIN groups g ON g.id = ug.group_id
		WHERE ug.user_email = $1
		ORDER BY g.name`
	return r.listMemberships(ctx, "groups.ListForUser", query, email)
}

func (r *GroupRepository) listMemberships(ctx context.Context, op, query, arg string) (out []domain.Membership, err error) {
	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	out = []domain.Membership{}
	for rows.Next() {
		var m domain.Membership
		if err = rows.Scan(&m.GroupID, &m.GroupName, &m.UserEmail, &m.CreatedAt, &m.CreatedBy); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return out, nil
}

func scanGroup(row rowScanner) (*domain.Group, error) {
	var g domain.Group
	var metadata []byte
	if err := row.Scan(&g.ID, &g.Name, &g.Description, &metadata, &g.CreatedAt, &g.UpdatedAt, &g.MemberCount); err != nil {
		return nil, err
	}
	var err error
	if g.Metadata, err = unmarshalJSONB(metadata); err != nil {
		return nil, err
	}
	return &g, nil
}
