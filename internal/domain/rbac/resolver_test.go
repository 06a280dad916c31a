package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybridauth/internal/core/apperror"
)

const (
	permUpdate = "Users.users.update"
	permCreate = "Users.users.create"
	permAssign = "RolesAndPermissions.roles.assign"
	permRead   = "Analytics.login_analytics.read"
)

func newRBAC() (*Resolver, *RoleService, *memRoles, context.Context) {
	catalog := newCatalog(permUpdate, permCreate, permAssign, permRead)
	roles := newMemRoles()
	return NewResolver(catalog, roles), NewRoleService(catalog, roles), roles, roles.scope()
}

func TestHasPermissionThroughRole(t *testing.T) {
	resolver, svc, _, ctx := newRBAC()
	const local int64 = 10

	_, err := svc.CreateRoleWithPermissions(ctx, "editor", []string{permUpdate})
	require.NoError(t, err)

	ok, err := resolver.HasPermission(ctx, local, permUpdate)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, svc.AssignRole(ctx, local, "editor"))

	ok, err = resolver.HasPermission(ctx, local, permUpdate)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.RemoveRole(ctx, local, "editor"))
	ok, err = resolver.HasPermission(ctx, local, permUpdate)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnknownPermissionIsFalse(t *testing.T) {
	resolver, _, roles, ctx := newRBAC()
	const local int64 = 1

	// A tenant row linking a name the catalog does not define.
	r := &Role{Name: "legacy"}
	require.NoError(t, roles.Create(ctx, r))
	require.NoError(t, roles.SetPermissions(ctx, r.ID, []string{"Ghost.things.haunt", permRead}))
	require.NoError(t, roles.Assign(ctx, r.ID, local))

	ok, err := resolver.HasPermission(ctx, local, "Ghost.things.haunt")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = resolver.HasAny(ctx, local, "Ghost.things.haunt")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = resolver.HasPermission(ctx, local, permRead)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAssignmentIsMonotonic(t *testing.T) {
	resolver, svc, _, ctx := newRBAC()
	const local int64 = 5

	_, err := svc.CreateRoleWithPermissions(ctx, "creator", []string{permCreate})
	require.NoError(t, err)
	_, err = svc.CreateRoleWithPermissions(ctx, "assigner", []string{permAssign})
	require.NoError(t, err)
	_, err = svc.CreateRoleWithPermissions(ctx, "empty", nil)
	require.NoError(t, err)

	require.NoError(t, svc.AssignRole(ctx, local, "creator"))
	for _, extra := range []string{"assigner", "empty", "creator"} {
		require.NoError(t, svc.AssignRole(ctx, local, extra))
		ok, err := resolver.HasPermission(ctx, local, permCreate)
		require.NoError(t, err)
		assert.True(t, ok, "lost permission after assigning %s", extra)
	}
}

func TestSatisfiesMixedExpression(t *testing.T) {
	resolver, svc, _, ctx := newRBAC()
	expr := MustParseExpression("Users.users.update|Users.users.create", "RolesAndPermissions.roles.assign")

	_, err := svc.CreateRoleWithPermissions(ctx, "creator", []string{permCreate})
	require.NoError(t, err)
	_, err = svc.CreateRoleWithPermissions(ctx, "assigner", []string{permAssign})
	require.NoError(t, err)

	const onlyCreate, both int64 = 1, 2
	require.NoError(t, svc.AssignRole(ctx, onlyCreate, "creator"))
	require.NoError(t, svc.SyncRoles(ctx, both, "creator", "assigner"))

	ok, _, err := resolver.Satisfies(ctx, onlyCreate, expr)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, set, err := resolver.Satisfies(ctx, both, expr)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ElementsMatch(t, []string{permCreate, permAssign}, set.Names())
}

func TestHasAllAndAny(t *testing.T) {
	resolver, svc, _, ctx := newRBAC()
	_, err := svc.CreateRoleWithPermissions(ctx, "editor", []string{permUpdate, permCreate})
	require.NoError(t, err)
	require.NoError(t, svc.AssignRole(ctx, 3, "editor"))

	ok, err := resolver.HasAll(ctx, 3, permUpdate, permCreate)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = resolver.HasAll(ctx, 3, permUpdate, permAssign)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = resolver.HasAny(ctx, 3, permAssign, permCreate)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateRoleRejectsUnknownPermissionsAtomically(t *testing.T) {
	_, svc, roles, ctx := newRBAC()

	_, err := svc.CreateRoleWithPermissions(ctx, "broken", []string{permRead, "Ghost.things.haunt"})
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeValidation, appErr.Code)
	assert.Equal(t, []string{"Ghost.things.haunt"}, appErr.Details["unknown"])

	_, err = roles.GetByName(ctx, "broken")
	assert.True(t, apperror.IsNotFound(err))
	assert.Zero(t, roles.setPermsCalled)
}

func TestCreateRoleRollsBackWhenLinkingFails(t *testing.T) {
	_, svc, roles, ctx := newRBAC()
	roles.failSetPerms = true

	_, err := svc.CreateRoleWithPermissions(ctx, "editor", []string{permUpdate})
	require.Error(t, err)

	_, err = roles.GetByName(ctx, "editor")
	assert.True(t, apperror.IsNotFound(err))
}

func TestCreateRoleDuplicate(t *testing.T) {
	_, svc, _, ctx := newRBAC()
	_, err := svc.CreateRoleWithPermissions(ctx, "editor", []string{permUpdate})
	require.NoError(t, err)

	_, err = svc.CreateRoleWithPermissions(ctx, "editor", []string{permCreate})
	assert.True(t, apperror.HasCode(err, apperror.CodeDuplicate))
}

func TestUpdateRolePermissions(t *testing.T) {
	resolver, svc, _, ctx := newRBAC()
	_, err := svc.CreateRoleWithPermissions(ctx, "editor", []string{permUpdate})
	require.NoError(t, err)
	require.NoError(t, svc.AssignRole(ctx, 9, "editor"))

	_, err = svc.UpdateRolePermissions(ctx, "editor", []string{permCreate, "Ghost.things.haunt"})
	require.Error(t, err)

	r, err := svc.UpdateRolePermissions(ctx, "editor", []string{permCreate, permCreate})
	require.NoError(t, err)
	assert.Equal(t, []string{permCreate}, r.Permissions)

	ok, err := resolver.HasPermission(ctx, 9, permUpdate)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOwnerRoleCannotBeDeleted(t *testing.T) {
	_, svc, _, ctx := newRBAC()
	err := svc.DeleteRole(ctx, RoleOwner)
	assert.True(t, apperror.HasCode(err, apperror.CodeForbidden))
}

func TestRoleServiceRequiresScope(t *testing.T) {
	_, svc, _, _ := newRBAC()
	_, err := svc.CreateRoleWithPermissions(context.Background(), "editor", []string{permUpdate})
	assert.True(t, apperror.HasCode(err, apperror.CodeInternal))
}
