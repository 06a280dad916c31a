package webhooks

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Filter is a compiled CEL expression deciding whether an event is sent.
// The expression sees three variables: event (string), tenant_id (string)
// and data (map of the event payload), and must evaluate to bool.
type Filter struct {
	source  string
	program cel.Program
}

var filterEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("event", cel.StringType),
		cel.Variable("tenant_id", cel.StringType),
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
	)
})

// CompileFilter compiles expr. An empty expression yields a nil filter that
// matches everything.
func CompileFilter(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	env, err := filterEnv()
	if err != nil {
		return nil, fmt.Errorf("filter environment: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, iss.Err()
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter must evaluate to bool, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("filter program: %w", err)
	}
	return &Filter{source: expr, program: prg}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}

// Match evaluates the filter. A nil filter always matches.
func (f *Filter) Match(eventType, tenantID string, data map[string]any) (bool, error) {
	if f == nil {
		return true, nil
	}
	if data == nil {
		data = map[string]any{}
	}
	out, _, err := f.program.Eval(map[string]any{
		"event":     eventType,
		"tenant_id": tenantID,
		"data":      data,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate filter: %w", err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("filter returned %T", out.Value())
	}
	return ok, nil
}
