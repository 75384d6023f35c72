package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/audit"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/repository"
	apperrors "github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/errors"
)

// PermissionService administers permission sets, rule rows and the action registry.
type PermissionService struct {
	users   repository.UserRepository
	groups  repository.GroupRepository
	sets    repository.PermissionSetRepository
	rules   repository.RuleRepository
	actions repository.ActionRepository
	audit   audit.Sink
	logger  *slog.Logger
	now     func() time.Time
}

// NewPermissionService creates a new permission service.
func NewPermissionService(store *repository.Store, sink audit.Sink, logger *slog.Logger) *PermissionService {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &PermissionService{
		users:   store.Users,
		groups:  store.Groups,
		sets:    store.PermissionSets,
		rules:   store.Rules,
		actions: store.Actions,
		audit:   sink,
		logger:  logger,
		now:     time.Now,
	}
}

// PermissionSetPatch carries the editable set fields; nil fields are left unchanged.
// An empty TemplateRole clears it.
type PermissionSetPatch struct {
	Name         *string
	Description  *string
	TemplateRole *string
}

// PermissionSetDetail is a set with its assignments and grants.
type PermissionSetDetail struct {
	domain.PermissionSet
	Assignments  []domain.Assignment `json:"assignments"`
	PageGrants   []domain.Grant      `json:"page_grants"`
	ActionGrants []domain.Grant      `json:"action_grants"`
	MetricGrants []domain.Grant      `json:"metric_grants"`
}

// --- Permission sets ---

// ListSets returns every permission set.
func (s *PermissionService) ListSets(ctx context.Context) ([]domain.PermissionSet, error) {
	return s.sets.List(ctx)
}

// GetSet returns a set with its assignments and grants.
func (s *PermissionService) GetSet(ctx context.Context, id string) (*PermissionSetDetail, error) {
	set, err := s.sets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &PermissionSetDetail{PermissionSet: *set}
	if detail.Assignments, err = s.sets.ListAssignments(ctx, id); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	if detail.PageGrants, err = s.sets.ListGrants(ctx, id, domain.GrantPage); err != nil {
		return nil, fmt.Errorf("list page grants: %w", err)
	}
	if detail.ActionGrants, err = s.sets.ListGrants(ctx, id, domain.GrantAction); err != nil {
		return nil, fmt.Errorf("list action grants: %w", err)
	}
	if detail.MetricGrants, err = s.sets.ListGrants(ctx, id, domain.GrantMetric); err != nil {
		return nil, fmt.Errorf("list metric grants: %w", err)
	}
	return detail, nil
}

// CreateSet creates a permission set with a unique name.
func (s *PermissionService) CreateSet(ctx context.Context, actor string, patch PermissionSetPatch) (*domain.PermissionSet, error) {
	if patch.Name == nil || strings.TrimSpace(*patch.Name) == "" {
		return nil, apperrors.InvalidInput("name is required")
	}
	now := s.now().UTC()
	set := &domain.PermissionSet{ID: newID(), CreatedAt: now, UpdatedAt: now}
	if err := applySetPatch(set, patch); err != nil {
		return nil, err
	}
	if err := s.sets.Create(ctx, set); err != nil {
		return nil, fmt.Errorf("create permission set: %w", err)
	}
	s.record(ctx, actor, "set_created", map[string]any{"permission_set_id": set.ID, "name": set.Name})
	return set, nil
}

// UpdateSet applies a patch to an existing set.
func (s *PermissionService) UpdateSet(ctx context.Context, actor, id string, patch PermissionSetPatch) (*domain.PermissionSet, error) {
	set, err := s.sets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := applySetPatch(set, patch); err != nil {
		return nil, err
	}
	set.UpdatedAt = s.now().UTC()
	if err := s.sets.Update(ctx, set); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "set_updated", map[string]any{"permission_set_id": id})
	return set, nil
}

// DeleteSet removes a set with its assignments and grants.
func (s *PermissionService) DeleteSet(ctx context.Context, actor, id string) error {
	if err := s.sets.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "set_deleted", map[string]any{"permission_set_id": id})
	return nil
}

func applySetPatch(set *domain.PermissionSet, patch PermissionSetPatch) error {
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return apperrors.InvalidInput("name cannot be empty")
		}
		set.Name = name
	}
	if patch.Description != nil {
		set.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.TemplateRole != nil {
		role := strings.ToLower(strings.TrimSpace(*patch.TemplateRole))
		switch {
		case role == "":
			set.TemplateRole = nil
		case domain.IsValidRole(role):
			set.TemplateRole = &role
		default:
			return apperrors.InvalidInput(fmt.Sprintf("template_role must be one of %s", strings.Join(domain.ValidRoles(), ", ")))
		}
	}
	return nil
}

// --- Assignments ---

// ListAssignments returns the assignments of a set.
func (s *PermissionService) ListAssignments(ctx context.Context, setID string) ([]domain.Assignment, error) {
	if _, err := s.sets.GetByID(ctx, setID); err != nil {
		return nil, err
	}
	return s.sets.ListAssignments(ctx, setID)
}

// AddAssignment assigns a set to a principal. User and group principals must exist.
func (s *PermissionService) AddAssignment(ctx context.Context, actor, setID string, pt domain.PrincipalType, principal string) (*domain.Assignment, error) {
	id, err := domain.ValidateAssignmentPrincipal(pt, principal)
	if err != nil {
		return nil, err
	}
	switch pt {
	case domain.PrincipalUser:
		if _, err := s.users.GetByEmail(ctx, id); err != nil {
			return nil, err
		}
	case domain.PrincipalGroup:
		if _, err := s.groups.GetByID(ctx, id); err != nil {
			return nil, err
		}
	}

	a := &domain.Assignment{
		ID:              newID(),
		PermissionSetID: setID,
		PrincipalType:   pt,
		PrincipalID:     id,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.sets.AddAssignment(ctx, a); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "assignment_added", map[string]any{
		"permission_set_id": setID, "principal_type": string(pt), "principal_id": id,
	})
	return a, nil
}

// DeleteAssignment removes an assignment from a set.
func (s *PermissionService) DeleteAssignment(ctx context.Context, actor, setID, assignmentID string) error {
	if err := s.sets.DeleteAssignment(ctx, setID, assignmentID); err != nil {
		return err
	}
	s.record(ctx, actor, "assignment_removed", map[string]any{"permission_set_id": setID, "assignment_id": assignmentID})
	return nil
}

// --- Grants ---

// ListGrants returns the grants of one kind in a set.
func (s *PermissionService) ListGrants(ctx context.Context, setID string, kind domain.GrantKind) ([]domain.Grant, error) {
	if _, err := s.sets.GetByID(ctx, setID); err != nil {
		return nil, err
	}
	return s.sets.ListGrants(ctx, setID, kind)
}

// AddGrant adds a page path, action key or metric key to a set.
func (s *PermissionService) AddGrant(ctx context.Context, actor, setID string, kind domain.GrantKind, key string) (*domain.Grant, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, apperrors.InvalidInput("key is required")
	}
	if kind == domain.GrantPage {
		key = domain.NormalizePagePath(key)
	}
	g := &domain.Grant{
		ID:              newID(),
		PermissionSetID: setID,
		Kind:            kind,
		Key:             key,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.sets.AddGrant(ctx, g); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "grant_added", map[string]any{"permission_set_id": setID, "kind": string(kind), "key": key})
	return g, nil
}

// DeleteGrant removes a grant from a set.
func (s *PermissionService) DeleteGrant(ctx context.Context, actor, setID string, kind domain.GrantKind, grantID string) error {
	if err := s.sets.DeleteGrant(ctx, setID, kind, grantID); err != nil {
		return err
	}
	s.record(ctx, actor, "grant_removed", map[string]any{"permission_set_id": setID, "kind": string(kind), "grant_id": grantID})
	return nil
}

// --- Rule rows ---

// ListRules returns the rows of one principal.
func (s *PermissionService) ListRules(ctx context.Context, scope domain.RuleScope, principal string, res domain.RuleResource) ([]domain.Rule, error) {
	p, err := s.rulePrincipal(ctx, scope, principal, false)
	if err != nil {
		return nil, err
	}
	return s.rules.List(ctx, scope, p, res)
}

// PutRule creates or replaces one allow/deny row.
func (s *PermissionService) PutRule(ctx context.Context, actor string, rule domain.Rule) (*domain.Rule, error) {
	p, err := s.rulePrincipal(ctx, rule.Scope, rule.Principal, true)
	if err != nil {
		return nil, err
	}
	rule.Principal = p
	rule.Key = ruleKey(rule.Resource, rule.Key)
	if rule.Key == "" {
		return nil, apperrors.InvalidInput("key is required")
	}
	if err := s.rules.Upsert(ctx, rule); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "rule_set", map[string]any{
		"scope": string(rule.Scope), "principal": p, "resource": string(rule.Resource), "key": rule.Key, "enabled": rule.Enabled,
	})
	return &rule, nil
}

// DeleteRule removes one row.
func (s *PermissionService) DeleteRule(ctx context.Context, actor string, scope domain.RuleScope, principal string, res domain.RuleResource, key string) error {
	p, err := s.rulePrincipal(ctx, scope, principal, false)
	if err != nil {
		return err
	}
	key = ruleKey(res, key)
	if key == "" {
		return apperrors.InvalidInput("key is required")
	}
	if err := s.rules.Delete(ctx, scope, p, res, key); err != nil {
		return err
	}
	s.record(ctx, actor, "rule_deleted", map[string]any{
		"scope": string(scope), "principal": p, "resource": string(res), "key": key,
	})
	return nil
}

// rulePrincipal normalizes the principal of a rule row. On writes the user or
// group it names must exist.
func (s *PermissionService) rulePrincipal(ctx context.Context, scope domain.RuleScope, raw string, write bool) (string, error) {
	switch scope {
	case domain.ScopeRole:
		role := strings.ToLower(strings.TrimSpace(raw))
		if !domain.IsValidRole(role) {
			return "", apperrors.InvalidInput(fmt.Sprintf("role must be one of %s", strings.Join(domain.ValidRoles(), ", ")))
		}
		return role, nil
	case domain.ScopeUser:
		email := domain.NormalizeEmail(raw)
		if email == "" {
			return "", apperrors.InvalidInput("user email is required")
		}
		if write {
			if _, err := s.users.GetByEmail(ctx, email); err != nil {
				return "", err
			}
		}
		return email, nil
	case domain.ScopeGroup:
		id := strings.TrimSpace(raw)
		if id == "" {
			return "", apperrors.InvalidInput("group id is required")
		}
		if write {
			if _, err := s.groups.GetByID(ctx, id); err != nil {
				return "", err
			}
		}
		return id, nil
	}
	return "", apperrors.InvalidInput("scope must be one of roles, groups, users")
}

func ruleKey(res domain.RuleResource, key string) string {
	key = strings.TrimSpace(key)
	if key != "" && res == domain.ResourcePage {
		return domain.NormalizePagePath(key)
	}
	return key
}

// --- Action registry ---

// ListActions returns one page of the action registry.
func (s *PermissionService) ListActions(ctx context.Context, filter domain.ActionFilter) ([]domain.PermissionAction, int, error) {
	filter.Query = strings.ToLower(strings.TrimSpace(filter.Query))
	return s.actions.List(ctx, filter)
}

func (s *PermissionService) normalizeAction(action *domain.PermissionAction) error {
	action.Key = strings.TrimSpace(action.Key)
	if action.Key == "" {
		return apperrors.InvalidInput("key is required")
	}
	action.PackName = strings.TrimSpace(action.PackName)
	if action.PackName == "" {
		if pack, _, ok := strings.Cut(action.Key, "."); ok {
			action.PackName = pack
		}
	}
	if strings.TrimSpace(action.Label) == "" {
		action.Label = action.Key
	}
	now := s.now().UTC()
	action.CreatedAt = now
	action.UpdatedAt = now
	return nil
}

// CreateAction registers a new action. A key already in the registry is
// rejected as a duplicate.
func (s *PermissionService) CreateAction(ctx context.Context, actor string, action domain.PermissionAction) (*domain.PermissionAction, error) {
	if err := s.normalizeAction(&action); err != nil {
		return nil, err
	}
	if err := s.actions.Create(ctx, &action); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "action_created", map[string]any{"key": action.Key, "default_enabled": action.DefaultEnabled})
	return &action, nil
}

// DeleteAction removes an action from the registry.
func (s *PermissionService) DeleteAction(ctx context.Context, actor, key string) error {
	if err := s.actions.Delete(ctx, strings.TrimSpace(key)); err != nil {
		return err
	}
	s.record(ctx, actor, "action_deleted", map[string]any{"key": key})
	return nil
}

// SeedActions upserts a catalog and returns the number of actions written.
// Existing keys keep their created_at and take the catalog's metadata.
func (s *PermissionService) SeedActions(ctx context.Context, catalog *ActionCatalog) (int, error) {
	n := 0
	for _, action := range catalog.Actions() {
		if err := s.normalizeAction(&action); err != nil {
			return n, fmt.Errorf("seed action %s: %w", action.Key, err)
		}
		if err := s.actions.Upsert(ctx, &action); err != nil {
			return n, fmt.Errorf("seed action %s: %w", action.Key, err)
		}
		n++
	}
	return n, nil
}

func (s *PermissionService) record(ctx context.Context, actor, change string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["change"] = change
	s.audit.Record(ctx, audit.Event{Type: audit.EventPermissionChanged, Subject: actor, Actor: actor, Data: data, At: s.now().UTC()})
}
