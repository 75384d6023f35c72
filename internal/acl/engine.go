// Package acl resolves action, page and metric permissions for a principal
// by walking the override, group, role, permission-set and default layers.
package acl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/metrics"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/repository"
	apperrors "github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/errors"
)

// Decision sources reported with every check.
const (
	SourceMissingKey    = "missing_action_key"
	SourceUserOverride  = "user_override"
	SourcePermissionSet = "permission_set"
	SourceGroupAction   = "group_action_permission"
	SourceRoleAction    = "role_action_permission"
	SourceGroupPage     = "group_page_permission"
	SourceRolePage      = "role_page_permission"
	SourceDefault       = "default"
	SourceUnknownAction = "unknown_action"
)

// Check kinds used as metric labels.
const (
	kindAction = "action"
	kindPage   = "page"
	kindMetric = "metric"
)

// Principal is the caller a check is evaluated for.
type Principal struct {
	Email string
	Roles []string
}

// Decision is the outcome of a single check.
type Decision struct {
	HasPermission bool   `json:"has_permission"`
	Source        string `json:"source"`
}

// Engine evaluates permission checks against the grant store.
type Engine struct {
	groups  repository.GroupRepository
	sets    repository.PermissionSetRepository
	rules   repository.RuleRepository
	actions repository.ActionRepository
}

// NewEngine creates an engine over the given store.
func NewEngine(store *repository.Store) *Engine {
	return &Engine{
		groups:  store.Groups,
		sets:    store.PermissionSets,
		rules:   store.Rules,
		actions: store.Actions,
	}
}

// Reach resolves the role and group memberships permissions are inherited through.
func (e *Engine) Reach(ctx context.Context, p Principal) (domain.Reach, error) {
	email := domain.NormalizeEmail(p.Email)
	reach := domain.Reach{Email: email, Role: domain.ResolveRole(p.Roles)}
	if email == "" {
		return reach, nil
	}
	memberships, err := e.groups.ListForUser(ctx, email)
	if err != nil {
		return reach, fmt.Errorf("list groups for %s: %w", email, err)
	}
	for _, m := range memberships {
		reach.GroupIDs = append(reach.GroupIDs, m.GroupID)
	}
	return reach, nil
}

// CheckAction decides whether the principal may perform the action key.
func (e *Engine) CheckAction(ctx context.Context, p Principal, key string) (Decision, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return e.record(kindAction, Decision{Source: SourceMissingKey}), nil
	}

	reach, err := e.Reach(ctx, p)
	if err != nil {
		return Decision{}, err
	}
	keys := []string{key}

	overrides, err := e.rules.Lookup(ctx, domain.ScopeUser, domain.ResourceAction, []string{reach.Email}, keys)
	if err != nil {
		return Decision{}, fmt.Errorf("lookup user action override: %w", err)
	}
	if len(overrides) > 0 {
		return e.record(kindAction, Decision{HasPermission: overrides[0].Enabled, Source: SourceUserOverride}), nil
	}

	granted, err := e.sets.GrantedKeys(ctx, domain.GrantAction, reach, keys)
	if err != nil {
		return Decision{}, fmt.Errorf("lookup action grants: %w", err)
	}
	if len(granted) > 0 {
		return e.record(kindAction, Decision{HasPermission: true, Source: SourcePermissionSet}), nil
	}

	if len(reach.GroupIDs) > 0 {
		rows, err := e.rules.Lookup(ctx, domain.ScopeGroup, domain.ResourceAction, reach.GroupIDs, keys)
		if err != nil {
			return Decision{}, fmt.Errorf("lookup group action permissions: %w", err)
		}
		if allowed, ok := denyWins(rows)[key]; ok {
			return e.record(kindAction, Decision{HasPermission: allowed, Source: SourceGroupAction}), nil
		}
	}

	rows, err := e.rules.Lookup(ctx, domain.ScopeRole, domain.ResourceAction, []string{reach.Role}, keys)
	if err != nil {
		return Decision{}, fmt.Errorf("lookup role action permission: %w", err)
	}
	if len(rows) > 0 {
		return e.record(kindAction, Decision{HasPermission: rows[0].Enabled, Source: SourceRoleAction}), nil
	}

	action, err := e.actions.Get(ctx, key)
	if errors.Is(err, apperrors.ErrNotFound) {
		return e.record(kindAction, Decision{Source: SourceUnknownAction}), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("get action %s: %w", key, err)
	}
	return e.record(kindAction, Decision{HasPermission: action.DefaultEnabled, Source: SourceDefault}), nil
}

// CheckPage decides whether the principal may open a single page.
func (e *Engine) CheckPage(ctx context.Context, p Principal, path string) (Decision, error) {
	path = domain.NormalizePagePath(path)
	decisions, err := e.checkPages(ctx, p, []string{path})
	if err != nil {
		return Decision{}, err
	}
	return decisions[path], nil
}

// CheckPages decides every path with one lookup per layer. The result is
// keyed by the paths as given.
func (e *Engine) CheckPages(ctx context.Context, p Principal, paths []string) (map[string]bool, error) {
	normalized := make([]string, 0, len(paths))
	for _, path := range paths {
		normalized = append(normalized, domain.NormalizePagePath(path))
	}
	decisions, err := e.checkPages(ctx, p, normalized)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(paths))
	for i, path := range paths {
		out[path] = decisions[normalized[i]].HasPermission
	}
	return out, nil
}

func (e *Engine) checkPages(ctx context.Context, p Principal, paths []string) (map[string]Decision, error) {
	reach, err := e.Reach(ctx, p)
	if err != nil {
		return nil, err
	}
	paths = unique(paths)
	out := make(map[string]Decision, len(paths))
	pending := func() []string {
		var rest []string
		for _, path := range paths {
			if _, done := out[path]; !done {
				rest = append(rest, path)
			}
		}
		return rest
	}

	overrides, err := e.rules.Lookup(ctx, domain.ScopeUser, domain.ResourcePage, []string{reach.Email}, paths)
	if err != nil {
		return nil, fmt.Errorf("lookup user page overrides: %w", err)
	}
	for _, row := range overrides {
		out[row.Key] = Decision{HasPermission: row.Enabled, Source: SourceUserOverride}
	}

	if rest := pending(); len(rest) > 0 && len(reach.GroupIDs) > 0 {
		rows, err := e.rules.Lookup(ctx, domain.ScopeGroup, domain.ResourcePage, reach.GroupIDs, rest)
		if err != nil {
			return nil, fmt.Errorf("lookup group page permissions: %w", err)
		}
		for key, allowed := range denyWins(rows) {
			out[key] = Decision{HasPermission: allowed, Source: SourceGroupPage}
		}
	}

	if rest := pending(); len(rest) > 0 {
		rows, err := e.rules.Lookup(ctx, domain.ScopeRole, domain.ResourcePage, []string{reach.Role}, rest)
		if err != nil {
			return nil, fmt.Errorf("lookup role page permissions: %w", err)
		}
		for _, row := range rows {
			out[row.Key] = Decision{HasPermission: row.Enabled, Source: SourceRolePage}
		}
	}

	if rest := pending(); len(rest) > 0 {
		// Wildcard grants cannot be matched in the store, so every page grant
		// of the reach is loaded once.
		grants, err := e.sets.GrantedKeys(ctx, domain.GrantPage, reach, nil)
		if err != nil {
			return nil, fmt.Errorf("lookup page grants: %w", err)
		}
		for _, path := range rest {
			if MatchPageGrant(path, grants) {
				out[path] = Decision{HasPermission: true, Source: SourcePermissionSet}
			} else {
				out[path] = Decision{HasPermission: true, Source: SourceDefault}
			}
		}
	}

	for _, d := range out {
		e.record(kindPage, d)
	}
	return out, nil
}

// CheckMetric decides a single metric key. Metrics are denied unless a
// reachable permission set grants them.
func (e *Engine) CheckMetric(ctx context.Context, p Principal, key string) (Decision, error) {
	results, err := e.CheckMetrics(ctx, p, []string{key})
	if err != nil {
		return Decision{}, err
	}
	if results[key] {
		return Decision{HasPermission: true, Source: SourcePermissionSet}, nil
	}
	return Decision{Source: SourceDefault}, nil
}

// CheckMetrics decides every metric key with a single grant lookup.
func (e *Engine) CheckMetrics(ctx context.Context, p Principal, keys []string) (map[string]bool, error) {
	var wanted []string
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			wanted = append(wanted, k)
		}
	}
	granted := map[string]bool{}
	if len(wanted) > 0 {
		reach, err := e.Reach(ctx, p)
		if err != nil {
			return nil, err
		}
		rows, err := e.sets.GrantedKeys(ctx, domain.GrantMetric, reach, wanted)
		if err != nil {
			return nil, fmt.Errorf("lookup metric grants: %w", err)
		}
		for _, k := range rows {
			granted[k] = true
		}
	}

	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		allowed := granted[strings.TrimSpace(k)]
		out[k] = allowed
		source := SourceDefault
		if allowed {
			source = SourcePermissionSet
		}
		metrics.RecordDecision(kindMetric, source, allowed)
	}
	return out, nil
}

// MatchPageGrant reports whether any grant covers path. A grant ending in
// "/*" covers its prefix and every path nested under it.
func MatchPageGrant(path string, grants []string) bool {
	for _, g := range grants {
		if g == path {
			return true
		}
		if prefix, ok := strings.CutSuffix(g, "/*"); ok {
			if path == prefix || strings.HasPrefix(path, prefix+"/") {
				return true
			}
		}
	}
	return false
}

func (e *Engine) record(kind string, d Decision) Decision {
	metrics.RecordDecision(kind, d.Source, d.HasPermission)
	return d
}

// denyWins folds rule rows per key: any disabled row denies.
func denyWins(rows []domain.Rule) map[string]bool {
	out := make(map[string]bool, len(rows))
	for _, row := range rows {
		allowed, seen := out[row.Key]
		out[row.Key] = row.Enabled && (!seen || allowed)
	}
	return out
}

// unique drops repeated entries and keeps first-seen order.
func unique(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, v := range list {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
