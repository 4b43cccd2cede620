package workflow

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/mergegate/mergegate/models"
)

// ExprPrefix marks a step input as a dynamic expression instead of a literal
const ExprPrefix = "$expr:"

// ExprContext is the state an expression can observe
type ExprContext struct {
	Event   *models.Event
	Needs   map[string]models.Status
	Vars    map[string]string
	Secrets map[string]string
}

// Evaluate runs a JavaScript expression against the run context and returns
// the exported Go value. Expressions are wrapped so a bare expression works:
// `event.labels.includes('no changelog')`.
func Evaluate(expr string, ec *ExprContext) (any, error) {
	runtime := goja.New()

	if err := runtime.Set("event", eventObject(ec.Event)); err != nil {
		return nil, fmt.Errorf("failed to set event context: %w", err)
	}

	needs := make(map[string]any, len(ec.Needs))
	for id, status := range ec.Needs {
		needs[id] = map[string]any{"result": string(status)}
	}
	if err := runtime.Set("needs", needs); err != nil {
		return nil, fmt.Errorf("failed to set needs context: %w", err)
	}

	if err := runtime.Set("vars", toAnyMap(ec.Vars)); err != nil {
		return nil, fmt.Errorf("failed to set vars: %w", err)
	}
	if err := runtime.Set("secrets", toAnyMap(ec.Secrets)); err != nil {
		return nil, fmt.Errorf("failed to set secrets: %w", err)
	}

	wrapped := "(function() {\n return " + expr + "\n})()"
	result, err := runtime.RunString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("failed to execute expression %q: %w", expr, err)
	}

	return result.Export(), nil
}

// EvaluateBool evaluates a condition expression. An empty expression is true.
func EvaluateBool(expr string, ec *ExprContext) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	result, err := Evaluate(expr, ec)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q must evaluate to a boolean, got %T", expr, result)
	}
	return b, nil
}

// Compile checks an expression for syntax errors without running it
func Compile(expr string) error {
	_, err := goja.Compile("", "(function() {\n return "+expr+"\n})", false)
	if err != nil {
		return fmt.Errorf("invalid expression %q: %w", expr, err)
	}
	return nil
}

// ResolveValue resolves a step input: strings with the $expr: prefix are
// evaluated, everything else passes through as a literal
func ResolveValue(v any, ec *ExprContext) (any, error) {
	str, ok := v.(string)
	if !ok || !strings.HasPrefix(str, ExprPrefix) {
		return v, nil
	}
	expr := strings.TrimSpace(strings.TrimPrefix(str, ExprPrefix))
	return Evaluate(expr, ec)
}

// ResolveString resolves a step input and renders it as a string
func ResolveString(v any, ec *ExprContext) (string, error) {
	resolved, err := ResolveValue(v, ec)
	if err != nil {
		return "", err
	}
	if resolved == nil {
		return "", nil
	}
	return fmt.Sprintf("%v", resolved), nil
}

func eventObject(ev *models.Event) map[string]any {
	if ev == nil {
		return map[string]any{}
	}
	return map[string]any{
		"kind":        string(ev.Kind),
		"action":      ev.Action,
		"owner":       ev.Owner,
		"repo":        ev.Repo,
		"number":      ev.Number,
		"base_branch": ev.BaseBranch,
		"head_branch": ev.HeadBranch,
		"head_sha":    ev.HeadSHA,
		"labels":      toAnySlice(ev.Labels),
		"files":       toAnySlice(ev.ChangedFiles),
	}
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func toAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
