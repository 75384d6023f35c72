package acl

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/repository"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/repository/memory"
)

const alice = "alice@example.com"

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *repository.Store
	eng   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.Users.Create(ctx, &domain.User{Email: alice, Role: domain.RoleUser}))
	return &fixture{t: t, ctx: ctx, store: store, eng: NewEngine(store)}
}

func (f *fixture) group(id string) {
	f.t.Helper()
	require.NoError(f.t, f.store.Groups.Create(f.ctx, &domain.Group{ID: id, Name: id}))
	require.NoError(f.t, f.store.Groups.AddMember(f.ctx, &domain.Membership{GroupID: id, UserEmail: alice}))
}

func (f *fixture) rule(scope domain.RuleScope, principal string, res domain.RuleResource, key string, enabled bool) {
	f.t.Helper()
	require.NoError(f.t, f.store.Rules.Upsert(f.ctx, domain.Rule{Scope: scope, Principal: principal, Resource: res, Key: key, Enabled: enabled}))
}

func (f *fixture) grant(setID string, pt domain.PrincipalType, principal string, kind domain.GrantKind, key string) {
	f.t.Helper()
	if _, err := f.store.PermissionSets.GetByID(f.ctx, setID); err != nil {
		require.NoError(f.t, f.store.PermissionSets.Create(f.ctx, &domain.PermissionSet{ID: setID, Name: setID}))
		require.NoError(f.t, f.store.PermissionSets.AddAssignment(f.ctx, &domain.Assignment{
			ID: setID + "-a", PermissionSetID: setID, PrincipalType: pt, PrincipalID: principal,
		}))
	}
	require.NoError(f.t, f.store.PermissionSets.AddGrant(f.ctx, &domain.Grant{
		ID: setID + "-" + key, PermissionSetID: setID, Kind: kind, Key: key,
	}))
}

func (f *fixture) action(key string, defaultEnabled bool) {
	f.t.Helper()
	require.NoError(f.t, f.store.Actions.Upsert(f.ctx, &domain.PermissionAction{Key: key, PackName: "crm", Label: key, DefaultEnabled: defaultEnabled}))
}

func user() Principal { return Principal{Email: alice, Roles: []string{"user"}} }

// --- Actions ---

func TestCheckAction_MissingKey(t *testing.T) {
	f := newFixture(t)
	d, err := f.eng.CheckAction(f.ctx, user(), "  ")
	require.NoError(t, err)
	assert.Equal(t, Decision{Source: SourceMissingKey}, d)
}

func TestCheckAction_UnknownAndDefault(t *testing.T) {
	f := newFixture(t)
	f.action("crm.export", true)
	f.action("crm.purge", false)

	d, err := f.eng.CheckAction(f.ctx, user(), "crm.nope")
	require.NoError(t, err)
	assert.Equal(t, Decision{Source: SourceUnknownAction}, d)

	d, _ = f.eng.CheckAction(f.ctx, user(), "crm.export")
	assert.Equal(t, Decision{HasPermission: true, Source: SourceDefault}, d)

	d, _ = f.eng.CheckAction(f.ctx, user(), "crm.purge")
	assert.Equal(t, Decision{HasPermission: false, Source: SourceDefault}, d)
}

func TestCheckAction_Precedence(t *testing.T) {
	f := newFixture(t)
	f.action("crm.export", true)

	f.rule(domain.ScopeRole, "user", domain.ResourceAction, "crm.export", false)
	d, _ := f.eng.CheckAction(f.ctx, user(), "crm.export")
	assert.Equal(t, Decision{HasPermission: false, Source: SourceRoleAction}, d)

	f.group("sales")
	f.rule(domain.ScopeGroup, "sales", domain.ResourceAction, "crm.export", true)
	d, _ = f.eng.CheckAction(f.ctx, user(), "crm.export")
	assert.Equal(t, Decision{HasPermission: true, Source: SourceGroupAction}, d)

	f.rule(domain.ScopeUser, alice, domain.ResourceAction, "crm.export", false)
	d, _ = f.eng.CheckAction(f.ctx, user(), "crm.export")
	assert.Equal(t, Decision{HasPermission: false, Source: SourceUserOverride}, d)
}

func TestCheckAction_GroupDenyWins(t *testing.T) {
	f := newFixture(t)
	f.group("sales")
	f.group("support")
	f.rule(domain.ScopeGroup, "sales", domain.ResourceAction, "crm.export", true)
	f.rule(domain.ScopeGroup, "support", domain.ResourceAction, "crm.export", false)

	d, err := f.eng.CheckAction(f.ctx, user(), "crm.export")
	require.NoError(t, err)
	assert.Equal(t, Decision{HasPermission: false, Source: SourceGroupAction}, d)
}

func TestCheckAction_PermissionSetBeatsGroupDeny(t *testing.T) {
	f := newFixture(t)
	f.group("sales")
	f.rule(domain.ScopeGroup, "sales", domain.ResourceAction, "crm.export", false)
	f.grant("exporters", domain.PrincipalGroup, "sales", domain.GrantAction, "crm.export")

	d, err := f.eng.CheckAction(f.ctx, user(), "crm.export")
	require.NoError(t, err)
	assert.Equal(t, Decision{HasPermission: true, Source: SourcePermissionSet}, d)
}

func TestCheckAction_RoleResolvesCaseInsensitively(t *testing.T) {
	f := newFixture(t)
	f.rule(domain.ScopeRole, "admin", domain.ResourceAction, "crm.purge", true)

	d, err := f.eng.CheckAction(f.ctx, Principal{Email: alice, Roles: []string{"user", "ADMIN"}}, "crm.purge")
	require.NoError(t, err)
	assert.Equal(t, Decision{HasPermission: true, Source: SourceRoleAction}, d)
}

// --- Pages ---

func TestCheckPage_DefaultAllow(t *testing.T) {
	f := newFixture(t)
	d, err := f.eng.CheckPage(f.ctx, user(), "dashboard")
	require.NoError(t, err)
	assert.Equal(t, Decision{HasPermission: true, Source: SourceDefault}, d)
}

func TestCheckPage_Layers(t *testing.T) {
	f := newFixture(t)
	f.rule(domain.ScopeRole, "user", domain.ResourcePage, "/admin", false)
	d, _ := f.eng.CheckPage(f.ctx, user(), " /admin ")
	assert.Equal(t, Decision{HasPermission: false, Source: SourceRolePage}, d)

	f.group("ops")
	f.rule(domain.ScopeGroup, "ops", domain.ResourcePage, "/admin", true)
	d, _ = f.eng.CheckPage(f.ctx, user(), "/admin")
	assert.Equal(t, Decision{HasPermission: true, Source: SourceGroupPage}, d)

	f.rule(domain.ScopeUser, alice, domain.ResourcePage, "/admin", false)
	d, _ = f.eng.CheckPage(f.ctx, user(), "/admin")
	assert.Equal(t, Decision{HasPermission: false, Source: SourceUserOverride}, d)
}

func TestCheckPage_WildcardGrant(t *testing.T) {
	f := newFixture(t)
	f.grant("reporting", domain.PrincipalUser, alice, domain.GrantPage, "/reports/*")

	for _, path := range []string{"/reports", "/reports/q1", "/reports/q1/detail"} {
		d, err := f.eng.CheckPage(f.ctx, user(), path)
		require.NoError(t, err)
		assert.Equal(t, SourcePermissionSet, d.Source, path)
	}
	for _, path := range []string{"/report", "/reportsX"} {
		d, err := f.eng.CheckPage(f.ctx, user(), path)
		require.NoError(t, err)
		assert.Equal(t, SourceDefault, d.Source, path)
	}
}

func TestCheckPages_Batch(t *testing.T) {
	f := newFixture(t)
	f.rule(domain.ScopeRole, "user", domain.ResourcePage, "/admin", false)
	f.rule(domain.ScopeUser, alice, domain.ResourcePage, "/billing", false)

	results, err := f.eng.CheckPages(f.ctx, user(), []string{"/admin", "billing", "/home"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"/admin": false, "billing": false, "/home": true}, results)
}

func TestCheckPages_LargeBatchWithRepeats(t *testing.T) {
	f := newFixture(t)
	f.rule(domain.ScopeRole, "user", domain.ResourcePage, "/p/7", false)

	paths := make([]string, 0, 1000)
	for i := range 500 {
		p := "/p/" + strconv.Itoa(i)
		paths = append(paths, p, p)
	}

	results, err := f.eng.CheckPages(f.ctx, user(), paths)
	require.NoError(t, err)
	assert.Len(t, results, 500)
	assert.False(t, results["/p/7"])
	assert.True(t, results["/p/499"])
}

func TestUnique(t *testing.T) {
	assert.Equal(t, []string{"/a", "/b", "/c"}, unique([]string{"/a", "/b", "/a", "/c", "/b"}))
	assert.Empty(t, unique(nil))
}

func TestCheckAction_DeletedUserGrantsDoNotCarryOver(t *testing.T) {
	f := newFixture(t)
	f.grant("ps-export", domain.PrincipalUser, alice, domain.GrantAction, "reports.export")

	d, err := f.eng.CheckAction(f.ctx, user(), "reports.export")
	require.NoError(t, err)
	assert.Equal(t, Decision{HasPermission: true, Source: SourcePermissionSet}, d)

	require.NoError(t, f.store.Users.Delete(f.ctx, alice))
	require.NoError(t, f.store.Users.Create(f.ctx, &domain.User{Email: alice, Role: domain.RoleUser}))

	d, err = f.eng.CheckAction(f.ctx, user(), "reports.export")
	require.NoError(t, err)
	assert.False(t, d.HasPermission)
	assert.Equal(t, SourceUnknownAction, d.Source)
}

func TestMatchPageGrant(t *testing.T) {
	tests := []struct {
		path   string
		grants []string
		want   bool
	}{
		{"/reports", []string{"/reports"}, true},
		{"/reports/q1", []string{"/reports"}, false},
		{"/reports", []string{"/reports/*"}, true},
		{"/reports/q1/detail", []string{"/reports/*"}, true},
		{"/report", []string{"/reports/*"}, false},
		{"/reportsX", []string{"/reports/*"}, false},
		{"/anything", []string{"/*"}, true},
		{"/x", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchPageGrant(tt.path, tt.grants))
		})
	}
}

// --- Metrics ---

func TestCheckMetric_DefaultDeny(t *testing.T) {
	f := newFixture(t)
	d, err := f.eng.CheckMetric(f.ctx, user(), "revenue.total")
	require.NoError(t, err)
	assert.Equal(t, Decision{Source: SourceDefault}, d)
}

func TestCheckMetrics_RoleGrant(t *testing.T) {
	f := newFixture(t)
	f.grant("analysts", domain.PrincipalRole, "user", domain.GrantMetric, "revenue.total")

	results, err := f.eng.CheckMetrics(f.ctx, user(), []string{"revenue.total", "churn.rate", ""})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"revenue.total": true, "churn.rate": false, "": false}, results)

	d, err := f.eng.CheckMetric(f.ctx, user(), "revenue.total")
	require.NoError(t, err)
	assert.Equal(t, Decision{HasPermission: true, Source: SourcePermissionSet}, d)
}
