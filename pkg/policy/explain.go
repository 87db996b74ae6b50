package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"
)

// Explainer compiles and evaluates CEL expressions that turn a preview
// sample's before/after decision into a human-readable explanation string.
// The decision pipeline itself stays ordered pattern matching per spec
// §4.6 — this is strictly a reporting-layer templating hook, kept
// optional so Preview works identically with no Explainer wired in.
type Explainer struct {
	env *cel.Env

	mu       sync.RWMutex
	compiled map[string]cel.Program
}

// NewExplainer builds an Explainer whose CEL environment exposes the
// sample label and both sides' decision/reason as string variables.
func NewExplainer() (*Explainer, error) {
	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("label", types.StringType),
			decls.NewVariable("before_decision", types.StringType),
			decls.NewVariable("after_decision", types.StringType),
			decls.NewVariable("before_reason", types.StringType),
			decls.NewVariable("after_reason", types.StringType),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: build explainer env: %w", err)
	}
	return &Explainer{env: env, compiled: make(map[string]cel.Program)}, nil
}

// Compile registers a named CEL expression, returning a string, for later
// use by Explain. Re-registering a name replaces its expression.
func (ex *Explainer) Compile(name, expr string) error {
	ast, issues := ex.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("policy: compile explanation %q: %w", name, issues.Err())
	}
	prg, err := ex.env.Program(ast)
	if err != nil {
		return fmt.Errorf("policy: build explanation program %q: %w", name, err)
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.compiled[name] = prg
	return nil
}

// Explain evaluates the named expression against one changed sample's
// before/after outcomes. Returns ("", false) if name was never compiled
// or evaluation fails, so a bad template degrades the report rather than
// the preview run itself.
func (ex *Explainer) Explain(name string, before, after SampleOutcome) (string, bool) {
	ex.mu.RLock()
	prg, ok := ex.compiled[name]
	ex.mu.RUnlock()
	if !ok {
		return "", false
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"label":           before.Label,
		"before_decision": string(before.Decision),
		"after_decision":  string(after.Decision),
		"before_reason":   before.ReasonCode,
		"after_reason":    after.ReasonCode,
	})
	if err != nil {
		return "", false
	}
	text, ok := out.Value().(string)
	return text, ok
}
