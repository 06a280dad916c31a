// Package rbac resolves permissions for tenant-local identities.
//
// Permission names ("Module.resource.action") are defined once in the central
// catalog. Roles and their permission links live in each tenant database and
// reference permissions by name. A name absent from the catalog never grants
// anything, whatever a tenant has linked.
package rbac

import (
	"fmt"
	"strings"
)

// OrGroup is satisfied when any of its names is held.
type OrGroup []string

// Expression is a conjunction of OrGroups. The zero Expression requires nothing.
//
// Textual form: a list of clauses; inside a clause "," separates AND terms and
// "|" separates OR alternatives. Separate clauses are ANDed together, so
// ["A|B", "C"] and ["A|B,C"] are the same expression.
type Expression struct {
	Groups []OrGroup
}

// ParseExpression parses one or more clauses into an Expression.
func ParseExpression(clauses ...string) (Expression, error) {
	var expr Expression
	for _, clause := range clauses {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			return Expression{}, fmt.Errorf("empty permission clause")
		}
		for _, term := range strings.Split(clause, ",") {
			var group OrGroup
			for _, name := range strings.Split(term, "|") {
				name = strings.TrimSpace(name)
				if err := validateName(name); err != nil {
					return Expression{}, fmt.Errorf("clause %q: %w", clause, err)
				}
				group = append(group, name)
			}
			expr.Groups = append(expr.Groups, group)
		}
	}
	return expr, nil
}

// MustParseExpression is ParseExpression for route wiring; it panics on error.
func MustParseExpression(clauses ...string) Expression {
	expr, err := ParseExpression(clauses...)
	if err != nil {
		panic(err)
	}
	return expr
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty permission name")
	}
	if strings.ContainsAny(name, " \t\n") {
		return fmt.Errorf("permission name %q contains whitespace", name)
	}
	return nil
}

// IsEmpty reports whether the expression requires nothing.
func (e Expression) IsEmpty() bool {
	return len(e.Groups) == 0
}

// Evaluate reports whether has satisfies every group.
func (e Expression) Evaluate(has func(name string) bool) bool {
	for _, group := range e.Groups {
		ok := false
		for _, name := range group {
			if has(name) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Names returns every distinct name referenced by the expression.
func (e Expression) Names() []string {
	seen := make(map[string]bool)
	var out []string
	for _, g := range e.Groups {
		for _, n := range g {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

// String renders the expression in single-clause form.
func (e Expression) String() string {
	parts := make([]string, len(e.Groups))
	for i, g := range e.Groups {
		parts[i] = strings.Join(g, "|")
	}
	return strings.Join(parts, ",")
}
