package postgres

import (
	"context"
	"fmt"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/database"
	apperrors "github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/errors"
)

// RuleRepository implements repository.RuleRepository over the six
// role/group/user page/action tables.
type RuleRepository struct {
	db database.DBTX
}

// NewRuleRepository creates a new PostgreSQL-backed rule repository.
func NewRuleRepository(db database.DBTX) *RuleRepository {
	return &RuleRepository{db: db}
}

type ruleTable struct {
	name         string
	principalCol string
	keyCol       string
}

func ruleTableFor(scope domain.RuleScope, resource domain.RuleResource) (ruleTable, error) {
	var t ruleTable
	switch scope {
	case domain.ScopeRole:
		t.principalCol = "role"
	case domain.ScopeGroup:
		t.principalCol = "group_id"
	case domain.ScopeUser:
		t.principalCol = "user_email"
	default:
		return t, fmt.Errorf("unknown rule scope %q", scope)
	}

	switch resource {
	case domain.ResourcePage:
		t.keyCol = "page_path"
	case domain.ResourceAction:
		t.keyCol = "action_key"
	default:
		return t, fmt.Errorf("unknown rule resource %q", resource)
	}

	switch {
	case scope == domain.ScopeRole && resource == domain.ResourcePage:
		t.name = "role_page_permissions"
	case scope == domain.ScopeRole:
		t.name = "role_action_permissions"
	case scope == domain.ScopeGroup && resource == domain.ResourcePage:
		t.name = "group_page_permissions"
	case scope == domain.ScopeGroup:
		t.name = "group_action_permissions"
	case resource == domain.ResourcePage:
		t.name = "user_page_overrides"
	default:
		t.name = "user_action_overrides"
	}
	return t, nil
}

// List returns the rows of one principal.
func (r *RuleRepository) List(ctx context.Context, scope domain.RuleScope, principal string, resource domain.RuleResource) ([]domain.Rule, error) {
	t, err := ruleTableFor(scope, resource)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s, %s, enabled FROM %s WHERE %s = $1 ORDER BY %s`,
		t.principalCol, t.keyCol, t.name, t.principalCol, t.keyCol)
	return r.query(ctx, t.name+".List", query, scope, resource, principal)
}

// Upsert inserts or updates a single rule row.
func (r *RuleRepository) Upsert(ctx context.Context, rule domain.Rule) (err error) {
	t, err := ruleTableFor(rule.Scope, rule.Resource)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, enabled) VALUES ($1, $2, $3)
		ON CONFLICT (%s, %s) DO UPDATE SET enabled = EXCLUDED.enabled`,
		t.name, t.principalCol, t.keyCol, t.principalCol, t.keyCol)

	ctx, end := database.TraceQuery(ctx, t.name+".Upsert", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query, rule.Principal, rule.Key, rule.Enabled); err != nil {
		if database.IsForeignKeyViolation(err) {
			return apperrors.NotFound(string(rule.Scope), rule.Principal)
		}
		return fmt.Errorf("upsert %s: %w", t.name, err)
	}
	return nil
}

// Delete removes a single rule row.
func (r *RuleRepository) Delete(ctx context.Context, scope domain.RuleScope, principal string, resource domain.RuleResource, key string) (err error) {
	t, err := ruleTableFor(scope, resource)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND %s = $2`, t.name, t.principalCol, t.keyCol)

	ctx, end := database.TraceQuery(ctx, t.name+".Delete", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, principal, key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", t.name, err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("rule", key)
	}
	return nil
}

// Lookup returns the rows matching any of the principals. A nil keys slice
// returns every key.
func (r *RuleRepository) Lookup(ctx context.Context, scope domain.RuleScope, resource domain.RuleResource, principals, keys []string) ([]domain.Rule, error) {
	if len(principals) == 0 {
		return []domain.Rule{}, nil
	}
	t, err := ruleTableFor(scope, resource)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s, %s, enabled FROM %s WHERE %s = ANY($1)`,
		t.principalCol, t.keyCol, t.name, t.principalCol)
	args := []any{principals}
	if keys != nil {
		query += fmt.Sprintf(` AND %s = ANY($2)`, t.keyCol)
		args = append(args, keys)
	}
	return r.query(ctx, t.name+".Lookup", query, scope, resource, args...)
}

func (r *RuleRepository) query(ctx context.Context, op, query string, scope domain.RuleScope, resource domain.RuleResource, args ...any) (out []domain.Rule, err error) {
	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	out = []domain.Rule{}
	for rows.Next() {
		rule := domain.Rule{Scope: scope, Resource: resource}
		if err = rows.Scan(&rule.Principal, &rule.Key, &rule.Enabled); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, rule)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return out, nil
}
