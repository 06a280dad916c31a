package rbac

import (
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

// Named expressions used by routes.
const (
	ExprOwner           = "owner"
	ExprAdmin           = "admin"
	ExprUserManager     = "userManager"
	ExprAnalyticsAccess = "analyticsAccess"
	ExprWebhookManager  = "webhookManager"
)

// Named maps expression names to parsed expressions.
type Named map[string]Expression

// DefaultNamed returns the built-in named expressions.
func DefaultNamed() Named {
	return Named{
		ExprOwner:           MustParseExpression("System.system.manage_all"),
		ExprAdmin:           MustParseExpression("Users.users.update|RolesAndPermissions.roles.assign"),
		ExprUserManager:     MustParseExpression("Users.users.create,Users.users.update,Users.users.delete"),
		ExprAnalyticsAccess: MustParseExpression("Analytics.login_analytics.read|Analytics.user_analytics.read"),
		ExprWebhookManager:  MustParseExpression("Webhooks.webhooks.create,Webhooks.webhooks.update,Webhooks.webhooks.delete"),
	}
}

// Get returns the named expression or panics. Route wiring only.
func (n Named) Get(name string) Expression {
	expr, ok := n[name]
	if !ok {
		panic(fmt.Sprintf("unknown permission expression %q", name))
	}
	return expr
}

// LoadNamed reads overrides from YAML and merges them over the defaults:
//
//	admin:
//	  - Users.users.update|RolesAndPermissions.roles.assign
func LoadNamed(r io.Reader) (Named, error) {
	raw := map[string][]string{}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode permission expressions: %w", err)
	}

	named := DefaultNamed()
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(raw[k]) == 0 {
			return nil, fmt.Errorf("expression %q has no clauses", k)
		}
		expr, err := ParseExpression(raw[k]...)
		if err != nil {
			return nil, fmt.Errorf("expression %q: %w", k, err)
		}
		named[k] = expr
	}
	return named, nil
}
