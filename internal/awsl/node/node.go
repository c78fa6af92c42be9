// Package node defines the capability every node function implements and
// the process-wide registry that maps a workflow's symbolic `call` names to
// concrete implementations. Concrete node functions (LLM calls, web
// scraping, file operations) are not defined here (package builtin offers
// a few optional ones); only the registration/dispatch contract lives here.
package node

import (
	"context"
	"fmt"
)

// Config carries per-invocation static configuration: a node's declared
// `constants`. Workflow-level metadata is not included. It is the sole
// mechanism by which per-node static configuration reaches a function.
type Config struct {
	Metadata map[string]any
}

// Func is the capability a registered node function implements: read the
// task's projected inputs, and either return a map of output values, ask
// the engine to suspend the run by returning an *Interrupt, or fail.
type Func func(ctx context.Context, input map[string]any, cfg Config) (map[string]any, error)

// Interrupt is returned as the error value of a Func that wants to suspend
// the run and surface Payload to the human-in-the-loop caller. It is not a
// failure: the engine intercepts it via errors.As before it ever reaches
// run-failure handling.
type Interrupt struct {
	Payload any
}

func (i *Interrupt) Error() string { return "workflow run interrupted" }

// Registry maps a workflow's symbolic `call` names to registered Funcs.
// Registration is static per binary build; registering the same name twice
// is a startup-time error rather than silently overwriting.
type Registry map[string]Func

// NewRegistry returns an empty Registry.
func NewRegistry() Registry {
	return Registry{}
}

// Register adds fn under call, failing if call is already bound.
func (r Registry) Register(call string, fn Func) error {
	if _, exists := r[call]; exists {
		return fmt.Errorf("node function %q already registered", call)
	}
	r[call] = fn
	return nil
}

// MustRegister panics if call is already bound. Intended for package-init
// style registration in cmd/ binaries.
func (r Registry) MustRegister(call string, fn Func) {
	if err := r.Register(call, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the function bound to call, if any.
func (r Registry) Lookup(call string) (Func, bool) {
	fn, ok := r[call]
	return fn, ok
}
