// Package compile implements the graph compiler (C3): it translates a
// parsed Workflow IR into a Pregel plan of channels, triggers, and node
// bodies that the execution engine (C4) drives to a fixed point.
//
// Compilation is pure — no node function is invoked while building a Plan,
// and a *Plan is safe to run concurrently for many independent runs (the
// worker pool compiles a workflow once and reuses the Plan across runs; all
// per-run state such as run-once tracking lives in the engine, not here).
package compile

import (
	"context"

	"github.com/madmag77/bpmn-workflows/internal/awsl/node"
)

// Reducer is the commutative-per-step merge rule for a channel's writes
// within one super-step.
type Reducer int

const (
	// ReducerLast keeps the most recent non-null write of the super-step,
	// or the previous value if every write was null.
	ReducerLast Reducer = iota
	// ReducerSum accumulates integers monotonically; used for iteration
	// counters.
	ReducerSum
	// ReducerAppend concatenates the super-step's writes, in issue order,
	// onto the channel's existing list value.
	ReducerAppend
)

func (r Reducer) String() string {
	switch r {
	case ReducerLast:
		return "LAST"
	case ReducerSum:
		return "SUM"
	case ReducerAppend:
		return "APPEND"
	default:
		return "UNKNOWN"
	}
}

// Channel is a globally unique, content-addressed slot of run state.
type Channel struct {
	Key     string
	Reducer Reducer
}

// clearMarker is the sentinel write value that resets a LAST channel to
// nil, used by cycle-start nodes to clear the previous iteration's
// non-APPEND outputs (spec.md §4.3 step 3c). The SUM and APPEND reducers
// do not treat it specially.
type clearMarker struct{}

// Clear is the sentinel a node body writes to force a channel back to nil.
var Clear = clearMarker{}

// IsClear reports whether v is the Clear sentinel.
func IsClear(v any) bool {
	_, ok := v.(clearMarker)
	return ok
}

// OutcomeKind tags the sum type returned by a PlanNode's Body.
type OutcomeKind int

const (
	// OutcomeNoop is the zero value; bodies should return OutcomeRedirect
	// to NoopNodeName instead of relying on it.
	OutcomeNoop OutcomeKind = iota
	// OutcomeWrites carries a map of fully-qualified channel key -> value.
	OutcomeWrites
	// OutcomeRedirect is the NOOP re-routing path used when a node isn't
	// ready or its `when` guard is false: the engine applies no channel
	// write and does not mark the node fired. The engine does not look up
	// or trigger the Redirect target; every body here uses NoopNodeName.
	OutcomeRedirect
	// OutcomeInterrupt suspends the run; Interrupt carries the opaque
	// payload surfaced to the human-in-the-loop caller.
	OutcomeInterrupt
)

// Outcome is the tagged union a PlanNode body returns: exactly one of
// Writes, Redirect, or Interrupt is meaningful, selected by Kind.
type Outcome struct {
	Kind      OutcomeKind
	Writes    map[string]any
	Redirect  string
	Interrupt any
}

// Body is a compiled node's executable form: given the full current
// channel state and the run's function registry, decide readiness, invoke
// the registered function if ready, and translate its result into an
// Outcome.
type Body func(ctx context.Context, state map[string]any, registry node.Registry) (Outcome, error)

// PlanNode is one schedulable unit of the compiled graph: a top-level
// node, an in-cycle node, or one of a cycle's synthetic start/guard nodes.
type PlanNode struct {
	Name string

	// Triggers are the channel keys whose write in super-step t queues
	// this node for execution in super-step t+1.
	Triggers []string

	// Reads are the channel keys this node's task input is projected
	// from; informational (the engine passes the full state snapshot to
	// Body, which itself knows which ports to project).
	Reads []string

	// RunOnce marks nodes outside any cycle: the engine executes their
	// Body's underlying function at most once per run: once the node has
	// produced writes, collectReady skips it on any later trigger.
	RunOnce bool

	Body Body
}

// Plan is the compiled Pregel graph produced by Compile.
type Plan struct {
	WorkflowName string
	Channels     map[string]Channel
	Nodes        []*PlanNode

	// StartChannel is written once, at super-step 0, with a sentinel
	// value; nodes with no data-flow trigger at all are triggered by it.
	StartChannel string

	// InputChannels are the workflow's declared input port names — also
	// their channel keys, since workflow-input channels are keyed by the
	// bare port name.
	InputChannels []string

	// Outputs projects the workflow's declared output ports into the
	// final result.
	Outputs []OutputSpec

	// CycleCounters are every cycle's iteration_counter channel key;
	// always projected into the result alongside declared outputs.
	CycleCounters []string
}

// OutputSpec describes one workflow output port's projection into the
// final result map.
type OutputSpec struct {
	// ResultKey is the key under which this output appears in the final
	// result map. For a reference-valued output this is the channel key
	// it resolves to (e.g. "FinalAnswer.final_answer"), matching the
	// original runtime's convention of keying results by source channel
	// rather than by declared output name. For a literal-valued output
	// (no reference to project) it is the output port's own name.
	ResultKey string
	// Literal is true when the output has a constant value baked in at
	// compile time rather than being read from a channel at run end.
	Literal bool
	Value   any
}

const (
	// StartChannelKey is the channel written once at super-step 0.
	StartChannelKey = "__start__"
	// NoopNodeName is the target of a Redirect when a node isn't ready.
	NoopNodeName = "NOOP_NODE"
	// StartNodeName is the name of the synthetic entry point that writes
	// StartChannelKey; it has no corresponding PlanNode.
	StartNodeName = "START_NODE"
)
