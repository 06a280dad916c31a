package rbac

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func holding(names ...string) func(string) bool {
	set := map[string]bool{}
	for _, n := range names {
		set[n] = true
	}
	return func(n string) bool { return set[n] }
}

func TestParseExpressionStructure(t *testing.T) {
	expr, err := ParseExpression("Users.users.update|Users.users.create", "RolesAndPermissions.roles.assign")
	require.NoError(t, err)
	require.Len(t, expr.Groups, 2)
	assert.Equal(t, OrGroup{"Users.users.update", "Users.users.create"}, expr.Groups[0])
	assert.Equal(t, OrGroup{"RolesAndPermissions.roles.assign"}, expr.Groups[1])
	assert.Equal(t, "Users.users.update|Users.users.create,RolesAndPermissions.roles.assign", expr.String())

	single, err := ParseExpression(expr.String())
	require.NoError(t, err)
	assert.Equal(t, expr, single)
}

func TestEvaluateMixedExpression(t *testing.T) {
	expr := MustParseExpression("Users.users.update|Users.users.create", "RolesAndPermissions.roles.assign")

	tests := []struct {
		name string
		held []string
		want bool
	}{
		{"create and assign", []string{"Users.users.create", "RolesAndPermissions.roles.assign"}, true},
		{"update and assign", []string{"Users.users.update", "RolesAndPermissions.roles.assign"}, true},
		{"only create", []string{"Users.users.create"}, false},
		{"only assign", []string{"RolesAndPermissions.roles.assign"}, false},
		{"nothing", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expr.Evaluate(holding(tt.held...)))
		})
	}
}

func TestCommaIsAndPipeIsOr(t *testing.T) {
	and := MustParseExpression("A.b.c,D.e.f")
	assert.False(t, and.Evaluate(holding("A.b.c")))
	assert.True(t, and.Evaluate(holding("A.b.c", "D.e.f")))

	or := MustParseExpression("A.b.c|D.e.f")
	assert.True(t, or.Evaluate(holding("D.e.f")))
	assert.False(t, or.Evaluate(holding("X.y.z")))
}

func TestEmptyExpressionRequiresNothing(t *testing.T) {
	var expr Expression
	assert.True(t, expr.IsEmpty())
	assert.True(t, expr.Evaluate(holding()))
}

func TestParseExpressionErrors(t *testing.T) {
	for _, in := range [][]string{{""}, {"A.b.c,"}, {"A.b.c||D.e.f"}, {"A.b c"}} {
		_, err := ParseExpression(in...)
		assert.Error(t, err, strings.Join(in, ";"))
	}
}

func TestNamesDeduplicates(t *testing.T) {
	expr := MustParseExpression("A.b.c|D.e.f", "A.b.c")
	assert.Equal(t, []string{"A.b.c", "D.e.f"}, expr.Names())
}

func TestLoadNamedOverrides(t *testing.T) {
	named, err := LoadNamed(strings.NewReader("admin:\n  - System.system.manage_all\nauditor:\n  - Audit.logs.read\n"))
	require.NoError(t, err)

	assert.Equal(t, "System.system.manage_all", named.Get(ExprAdmin).String())
	assert.Equal(t, "Audit.logs.read", named.Get("auditor").String())
	assert.Equal(t, "Analytics.login_analytics.read|Analytics.user_analytics.read", named.Get(ExprAnalyticsAccess).String())

	_, err = LoadNamed(strings.NewReader("bad:\n  - ''\n"))
	assert.Error(t, err)

	named, err = LoadNamed(strings.NewReader(""))
	require.NoError(t, err)
	assert.Len(t, named, len(DefaultNamed()))
}
