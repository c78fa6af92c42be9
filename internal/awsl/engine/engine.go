// Package engine implements the execution engine (C4): a Pregel-style
// super-step loop that drives a compiled Plan to a fixed point, applying
// channel reducers in bulk between steps and handling cycles, NOOP
// re-routing, and human-in-the-loop interrupts.
package engine

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/madmag77/bpmn-workflows/internal/awsl/awslerr"
	"github.com/madmag77/bpmn-workflows/internal/awsl/compile"
	"github.com/madmag77/bpmn-workflows/internal/awsl/node"
)

// DefaultRecursionLimit bounds the number of super-steps per run
// (spec.md §4.4) even if a cycle's guard misbehaves.
const DefaultRecursionLimit = 100

// Result is what a run produces: either a completed/partial projection of
// the declared outputs, or a suspended run's interrupt payload.
type Result struct {
	// Values holds the projected workflow outputs (plus every cycle's
	// iteration_counter) on normal completion, or exactly the
	// "__interrupt__" key on suspension.
	Values map[string]any

	Interrupted bool
	Interrupt   any

	// Canceled is true when the run loop observed context cancellation
	// between super-steps (spec.md §5 "suspension points").
	Canceled bool

	// SuperSteps is the number of super-steps actually executed; exposed
	// for tests asserting bounded-cycle behavior.
	SuperSteps int
}

// Snapshot is the durable state a Checkpointer persists across a
// suspend/resume round trip: the full channel state, the set of run-once
// nodes that have already fired, and which node's output the next
// Resume call must overwrite.
type Snapshot struct {
	State           map[string]any
	Fired           map[string]bool
	InterruptedNode string
}

// Checkpointer persists and retrieves a run's Snapshot, scoped by
// thread_id (spec.md §4.4/§4.5 cross-run isolation).
type Checkpointer interface {
	Save(ctx context.Context, threadID string, snap Snapshot) error
	Load(ctx context.Context, threadID string) (Snapshot, bool, error)
}

// Engine runs a compiled Plan against a function registry.
type Engine struct {
	Registry       node.Registry
	Checkpointer   Checkpointer
	RecursionLimit int
}

// New returns an Engine with the default recursion limit; callers may
// override RecursionLimit and Checkpointer directly.
func New(registry node.Registry, checkpointer Checkpointer) *Engine {
	return &Engine{Registry: registry, Checkpointer: checkpointer, RecursionLimit: DefaultRecursionLimit}
}

// Run starts a fresh execution of plan under threadID with params bound to
// the workflow's declared input channels.
func (e *Engine) Run(ctx context.Context, plan *compile.Plan, threadID string, params map[string]any) (*Result, error) {
	state := map[string]any{plan.StartChannel: true}
	dirty := map[string]bool{plan.StartChannel: true}
	for _, key := range plan.InputChannels {
		if v, ok := params[key]; ok {
			state[key] = v
			dirty[key] = true
		}
	}
	return e.runLoop(ctx, plan, threadID, state, map[string]bool{}, dirty)
}

// ErrNoCheckpoint is returned by Resume when no Snapshot exists for
// threadID — the run was never interrupted, or its checkpoint expired.
var ErrNoCheckpoint = awslerr.NewInvalidWorkflow("", "no checkpoint for thread_id")

// Resume re-enters a suspended run, replacing the interrupting node's
// output channel(s) with resumeValue and continuing from the next
// super-step (spec.md §4.4 Interrupts).
func (e *Engine) Resume(ctx context.Context, plan *compile.Plan, threadID string, resumeValue any) (*Result, error) {
	if e.Checkpointer == nil {
		return nil, ErrNoCheckpoint
	}
	snap, ok, err := e.Checkpointer.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoCheckpoint
	}

	state := snap.State
	fired := snap.Fired
	if fired == nil {
		fired = map[string]bool{}
	}

	dirty := map[string]bool{}
	prefix := snap.InterruptedNode + "."
	for key := range plan.Channels {
		if strings.HasPrefix(key, prefix) {
			state[key] = resumeValue
			dirty[key] = true
		}
	}
	fired[snap.InterruptedNode] = true

	return e.runLoop(ctx, plan, threadID, state, fired, dirty)
}

func (e *Engine) runLoop(ctx context.Context, plan *compile.Plan, threadID string, state map[string]any, fired map[string]bool, dirty map[string]bool) (*Result, error) {
	limit := e.RecursionLimit
	if limit <= 0 {
		limit = DefaultRecursionLimit
	}

	logger := log.With().Str("run_id", threadID).Str("graph_name", plan.WorkflowName).Logger()

	step := 0
	for ; step < limit; step++ {
		if err := ctx.Err(); err != nil {
			return &Result{Canceled: true, Values: project(plan, state), SuperSteps: step}, nil
		}

		ready := collectReady(plan, fired, dirty)
		if len(ready) == 0 {
			break
		}

		writes := map[string][]any{}
		for _, pn := range ready {
			outcome, err := pn.Body(ctx, state, e.Registry)
			if err != nil {
				logger.Debug().Str("node", pn.Name).Int("super_step", step).Err(err).Msg("node body failed")
				return nil, err
			}

			switch outcome.Kind {
			case compile.OutcomeWrites:
				for k, v := range outcome.Writes {
					writes[k] = append(writes[k], v)
				}
				if pn.RunOnce {
					fired[pn.Name] = true
				}
			case compile.OutcomeRedirect:
				// NOOP: no channel write, node stays pending for its next trigger.
			case compile.OutcomeInterrupt:
				snap := Snapshot{State: state, Fired: fired, InterruptedNode: pn.Name}
				if e.Checkpointer != nil {
					if err := e.Checkpointer.Save(ctx, threadID, snap); err != nil {
						return nil, err
					}
				}
				logger.Debug().Str("node", pn.Name).Int("super_step", step).Msg("run interrupted")
				return &Result{
					Interrupted: true,
					Interrupt:   outcome.Interrupt,
					Values:      map[string]any{"__interrupt__": outcome.Interrupt},
					SuperSteps:  step + 1,
				}, nil
			}
		}

		if len(writes) == 0 {
			dirty = map[string]bool{}
			continue
		}

		dirty = make(map[string]bool, len(writes))
		for key, vals := range writes {
			ch := plan.Channels[key]
			state[key] = reduce(ch.Reducer, state[key], vals)
			dirty[key] = true
		}
	}

	return &Result{Values: project(plan, state), SuperSteps: step}, nil
}

// collectReady returns every PlanNode with at least one trigger channel in
// dirty, excluding run-once nodes that have already fired.
func collectReady(plan *compile.Plan, fired map[string]bool, dirty map[string]bool) []*compile.PlanNode {
	var ready []*compile.PlanNode
	for _, pn := range plan.Nodes {
		if pn.RunOnce && fired[pn.Name] {
			continue
		}
		for _, t := range pn.Triggers {
			if dirty[t] {
				ready = append(ready, pn)
				break
			}
		}
	}
	return ready
}

// reduce applies one super-step's writes to a channel's previous value
// according to its Reducer (spec.md §3/§8 reducer laws).
func reduce(r compile.Reducer, prev any, writes []any) any {
	switch r {
	case compile.ReducerSum:
		total := asInt(prev)
		for _, v := range writes {
			total += asInt(v)
		}
		return total

	case compile.ReducerAppend:
		var list []any
		if pl, ok := prev.([]any); ok {
			list = append(list, pl...)
		}
		list = append(list, writes...)
		return list

	default: // ReducerLast
		last := prev
		for _, v := range writes {
			if compile.IsClear(v) {
				last = nil
				continue
			}
			if v != nil {
				last = v
			}
		}
		return last
	}
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// project builds the final result map from a Plan's declared output
// projections plus every cycle's iteration counter.
func project(plan *compile.Plan, state map[string]any) map[string]any {
	out := make(map[string]any, len(plan.Outputs)+len(plan.CycleCounters))
	for _, spec := range plan.Outputs {
		if spec.Literal {
			out[spec.ResultKey] = spec.Value
			continue
		}
		out[spec.ResultKey] = state[spec.ResultKey]
	}
	for _, key := range plan.CycleCounters {
		out[key] = state[key]
	}
	return out
}
