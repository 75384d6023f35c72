// Package memory implements the repository interfaces in process. It backs
// STORAGE_DRIVER=memory for local development and the handler tests; every
// claim runs under one mutex so it has the same single-winner behaviour as
// the conditional statements in the postgres driver.
package memory

import (
	"maps"
	"sync"
	"time"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/repository"
)

type ruleKey struct {
	scope     domain.RuleScope
	resource  domain.RuleResource
	principal string
	key       string
}

type db struct {
	mu  sync.Mutex
	now func() time.Time

	users       map[string]*domain.User
	groups      map[string]*domain.Group
	memberships map[string]map[string]domain.Membership // group id -> email
	refresh     map[string]*domain.RefreshToken         // token hash
	oneTime     map[domain.TokenKind]map[string]*domain.OneTimeToken
	sessions    map[string]*domain.ImpersonationSession
	sets        map[string]*domain.PermissionSet
	assignments map[string]*domain.Assignment
	grants      map[string]*domain.Grant
	rules       map[ruleKey]bool
	actions     map[string]*domain.PermissionAction
}

// NewStore returns an empty in-memory store.
func NewStore() *repository.Store {
	return newStoreWithClock(time.Now)
}

func newStoreWithClock(now func() time.Time) *repository.Store {
	d := &db{
		now:         now,
		users:       map[string]*domain.User{},
		groups:      map[string]*domain.Group{},
		memberships: map[string]map[string]domain.Membership{},
		refresh:     map[string]*domain.RefreshToken{},
		oneTime: map[domain.TokenKind]map[string]*domain.OneTimeToken{
			domain.TokenEmailVerification: {},
			domain.TokenPasswordReset:     {},
			domain.TokenMagicLink:         {},
		},
		sessions:    map[string]*domain.ImpersonationSession{},
		sets:        map[string]*domain.PermissionSet{},
		assignments: map[string]*domain.Assignment{},
		grants:      map[string]*domain.Grant{},
		rules:       map[ruleKey]bool{},
		actions:     map[string]*domain.PermissionAction{},
	}
	return &repository.Store{
		Users:          &userRepo{d},
		Groups:         &groupRepo{d},
		RefreshTokens:  &refreshRepo{d},
		OneTimeTokens:  &oneTimeRepo{d},
		Impersonations: &impersonationRepo{d},
		PermissionSets: &permissionSetRepo{d},
		Rules:          &ruleRepo{d},
		Actions:        &actionRepo{d},
	}
}

// dropAssignments removes every permission-set assignment naming the principal.
// Callers hold mu.
func (d *db) dropAssignments(pt domain.PrincipalType, id string) {
	for aid, a := range d.assignments {
		if a.PrincipalType == pt && a.PrincipalID == id {
			delete(d.assignments, aid)
		}
	}
}

func copyUser(u *domain.User) *domain.User {
	c := *u
	c.Metadata = maps.Clone(u.Metadata)
	c.ProfileFields = maps.Clone(u.ProfileFields)
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	if c.ProfileFields == nil {
		c.ProfileFields = map[string]any{}
	}
	return &c
}

func window[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		limit = 20
	}
	if offset > len(items) {
		offset = len(items)
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
