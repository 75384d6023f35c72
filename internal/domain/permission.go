package domain

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/errors"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/validator"
)

// PermissionSet bundles page, action and metric grants that are handed to
// principals through assignments.
type PermissionSet struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	TemplateRole *string   `json:"template_role,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PrincipalType is the kind of principal a permission set is assigned to.
type PrincipalType string

const (
	PrincipalUser  PrincipalType = "user"
	PrincipalGroup PrincipalType = "group"
	PrincipalRole  PrincipalType = "role"
)

// Assignment attaches a permission set to a principal.
type Assignment struct {
	ID              string        `json:"id"`
	PermissionSetID string        `json:"permission_set_id"`
	PrincipalType   PrincipalType `json:"principal_type"`
	PrincipalID     string        `json:"principal_id"`
	CreatedAt       time.Time     `json:"created_at"`
}

// ValidateAssignmentPrincipal normalizes and checks a principal. Role
// principals must be a valid role, user principals a syntactically valid
// email. Existence of users and groups is checked by the caller.
func ValidateAssignmentPrincipal(pt PrincipalType, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", apperrors.InvalidInput("principal_id is required")
	}
	switch pt {
	case PrincipalRole:
		role := strings.ToLower(id)
		if !IsValidRole(role) {
			return "", apperrors.InvalidInput(fmt.Sprintf("role principal must be one of %s", strings.Join(ValidRoles(), ", ")))
		}
		return role, nil
	case PrincipalUser:
		email := NormalizeEmail(id)
		if err := validator.Var(email, "email"); err != nil {
			return "", apperrors.InvalidInput("user principal must be a valid email")
		}
		return email, nil
	case PrincipalGroup:
		return id, nil
	default:
		return "", apperrors.InvalidInput("principal_type must be one of user, group, role")
	}
}

// GrantKind identifies which grant table a permission-set grant lives in.
type GrantKind string

const (
	GrantPage   GrantKind = "pages"
	GrantAction GrantKind = "actions"
	GrantMetric GrantKind = "metrics"
)

// ParseGrantKind maps a URL segment to a grant kind.
func ParseGrantKind(s string) (GrantKind, bool) {
	switch GrantKind(s) {
	case GrantPage, GrantAction, GrantMetric:
		return GrantKind(s), true
	}
	return "", false
}

// Grant is a single page path, action key or metric key granted by a set.
type Grant struct {
	ID              string    `json:"id"`
	PermissionSetID string    `json:"permission_set_id"`
	Kind            GrantKind `json:"kind"`
	Key             string    `json:"key"`
	CreatedAt       time.Time `json:"created_at"`
}

// RuleScope is the principal layer a rule row belongs to.
type RuleScope string

const (
	ScopeRole  RuleScope = "roles"
	ScopeGroup RuleScope = "groups"
	ScopeUser  RuleScope = "users"
)

// ParseRuleScope maps a URL segment to a rule scope.
func ParseRuleScope(s string) (RuleScope, bool) {
	switch RuleScope(s) {
	case ScopeRole, ScopeGroup, ScopeUser:
		return RuleScope(s), true
	}
	return "", false
}

// RuleResource selects the page or action flavour of a rule table.
type RuleResource string

const (
	ResourcePage   RuleResource = "pages"
	ResourceAction RuleResource = "actions"
)

// ParseRuleResource maps a URL segment to a rule resource.
func ParseRuleResource(s string) (RuleResource, bool) {
	switch RuleResource(s) {
	case ResourcePage, ResourceAction:
		return RuleResource(s), true
	}
	return "", false
}

// Rule is a single allow/deny row for a role, group or user.
type Rule struct {
	Scope     RuleScope    `json:"scope"`
	Principal string       `json:"principal"`
	Resource  RuleResource `json:"resource"`
	Key       string       `json:"key"`
	Enabled   bool         `json:"enabled"`
}

// PermissionAction is an entry in the action registry.
type PermissionAction struct {
	Key            string    `json:"key"`
	PackName       string    `json:"pack_name"`
	Label          string    `json:"label"`
	Description    string    `json:"description,omitempty"`
	DefaultEnabled bool      `json:"default_enabled"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ActionFilter narrows an action registry listing.
type ActionFilter struct {
	Query  string
	Limit  int
	Offset int
}

// NormalizePagePath trims a page path and ensures a single leading slash.
func NormalizePagePath(path string) string {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// Reach identifies everything a principal can inherit permissions through:
// its own email, its resolved role and its group memberships.
type Reach struct {
	Email    string
	Role     string
	GroupIDs []string
}
