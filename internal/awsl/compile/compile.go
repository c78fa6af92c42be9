package compile

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/madmag77/bpmn-workflows/internal/awsl/awslerr"
	"github.com/madmag77/bpmn-workflows/internal/awsl/eval"
	"github.com/madmag77/bpmn-workflows/internal/awsl/ir"
	"github.com/madmag77/bpmn-workflows/internal/awsl/node"
)

// resolvedRef is the result of resolving a port's default_value against a
// bare-name scope: either a channel key to read at run time, or a literal
// to evaluate directly.
type resolvedRef struct {
	literal    bool
	channelKey string
}

// resolveRef resolves v against scope (bare identifier -> channel key).
// Qualified references ("Name.port") always resolve to their own channel
// key regardless of scope; bare identifiers must be present in scope or
// the reference is unresolvable (spec.md IR invariant 2). Any other kind
// is a literal constant.
func resolveRef(v ir.Value, scope map[string]string) (resolvedRef, error) {
	switch v.Kind {
	case "qualified":
		return resolvedRef{channelKey: v.Qualifier + "." + v.Str}, nil
	case "ident":
		if key, ok := scope[v.Str]; ok {
			return resolvedRef{channelKey: key}, nil
		}
		return resolvedRef{}, awslerr.NewInvalidWorkflow(v.Str,
			"reference does not resolve to a workflow input or a sibling node's output")
	default:
		return resolvedRef{literal: true}, nil
	}
}

// portValue reads a resolved port's current value out of state, evaluating
// the literal branch through eval.Value.
func portValue(raw ir.Value, r resolvedRef, state map[string]any) any {
	if r.literal {
		return eval.Value(raw, state)
	}
	return state[r.channelKey]
}

// Compile translates a parsed Workflow IR into a Pregel Plan. It validates
// the IR's invariants (unique names, resolvable references, exactly one
// sink) and returns *awslerr.InvalidWorkflow on violation.
func Compile(wf *ir.Workflow) (*Plan, error) {
	plan := &Plan{
		WorkflowName: wf.Name,
		Channels:     map[string]Channel{StartChannelKey: {Key: StartChannelKey, Reducer: ReducerLast}},
		StartChannel: StartChannelKey,
	}

	workflowScope := map[string]string{}
	for _, in := range wf.Inputs {
		plan.Channels[in.Name] = Channel{Key: in.Name, Reducer: ReducerLast}
		plan.InputChannels = append(plan.InputChannels, in.Name)
		workflowScope[in.Name] = in.Name
	}

	names := map[string]bool{}
	outputsByStep := map[string][]string{}
	triggered := map[string]bool{}

	markTriggers := func(pn *PlanNode) {
		for _, t := range pn.Triggers {
			triggered[t] = true
		}
	}

	for _, step := range wf.Steps {
		switch {
		case step.Node != nil:
			n := step.Node
			if names[n.Name] {
				return nil, awslerr.NewInvalidWorkflow(n.Name, "duplicate node name")
			}
			names[n.Name] = true

			pn, channels, err := compileNode(n, workflowScope, true)
			if err != nil {
				return nil, err
			}
			for k, c := range channels {
				plan.Channels[k] = c
			}
			plan.Nodes = append(plan.Nodes, pn)
			markTriggers(pn)
			outputsByStep[n.Name] = outputChannelKeys(n.Name, n.Outputs)

		case step.Cycle != nil:
			c := step.Cycle
			if names[c.Name] {
				return nil, awslerr.NewInvalidWorkflow(c.Name, "duplicate cycle name")
			}
			names[c.Name] = true

			cp, err := compileCycle(c, workflowScope, names)
			if err != nil {
				return nil, err
			}
			for k, ch := range cp.channels {
				plan.Channels[k] = ch
			}
			plan.Nodes = append(plan.Nodes, cp.nodes...)
			for _, pn := range cp.nodes {
				markTriggers(pn)
			}
			outputsByStep[c.Name] = outputChannelKeys(c.Name, c.Outputs)
			plan.CycleCounters = append(plan.CycleCounters, cp.iterationKey)
		}
	}

	for _, pn := range plan.Nodes {
		for _, t := range pn.Triggers {
			if _, ok := plan.Channels[t]; !ok {
				return nil, awslerr.NewInvalidWorkflow(t,
					"reference does not resolve to a workflow input or a sibling node's output")
			}
		}
	}

	sink, err := validateSink(wf.Name, outputsByStep, triggered)
	if err != nil {
		return nil, err
	}
	_ = sink // sink is validated for uniqueness; its name isn't otherwise needed by the plan

	for _, out := range wf.Outputs {
		if !out.HasDefault {
			plan.Outputs = append(plan.Outputs, OutputSpec{ResultKey: out.Name, Literal: true, Value: nil})
			continue
		}
		r, err := resolveRef(out.DefaultValue, workflowScope)
		if err != nil {
			return nil, err
		}
		if r.literal {
			plan.Outputs = append(plan.Outputs, OutputSpec{
				ResultKey: out.Name, Literal: true, Value: eval.Value(out.DefaultValue, nil),
			})
			continue
		}
		if _, ok := plan.Channels[r.channelKey]; !ok {
			return nil, awslerr.NewInvalidWorkflow(r.channelKey,
				"reference does not resolve to a workflow input or a sibling node's output")
		}
		plan.Outputs = append(plan.Outputs, OutputSpec{ResultKey: r.channelKey})
	}

	return plan, nil
}

func outputChannelKeys(name string, ports []ir.Port) []string {
	keys := make([]string, len(ports))
	for i, p := range ports {
		keys[i] = name + "." + p.Name
	}
	return keys
}

// validateSink implements spec.md §4.3 step 4: the sink is the unique
// top-level step whose declared outputs are never any node's trigger.
func validateSink(workflowName string, outputsByStep map[string][]string, triggered map[string]bool) (string, error) {
	var candidates []string
	for name, outs := range outputsByStep {
		consumed := false
		for _, ch := range outs {
			if triggered[ch] {
				consumed = true
				break
			}
		}
		if !consumed {
			candidates = append(candidates, name)
		}
	}
	sort.Strings(candidates)

	switch len(candidates) {
	case 0:
		return "", awslerr.NewInvalidWorkflow(workflowName, "no sink node: every step's outputs are consumed by another step")
	case 1:
		return candidates[0], nil
	default:
		return "", awslerr.NewInvalidWorkflow(strings.Join(candidates, ", "), "more than one sink node detected")
	}
}

// compileNode compiles a single Node (top-level or in-cycle) into a
// PlanNode plus the channels its output ports declare. scope resolves bare
// identifier references (workflow inputs for top-level nodes, the
// enclosing cycle's inputs for in-cycle nodes).
func compileNode(n *ir.Node, scope map[string]string, runOnce bool) (*PlanNode, map[string]Channel, error) {
	channels := make(map[string]Channel, len(n.Outputs))
	for _, out := range n.Outputs {
		key := n.Name + "." + out.Name
		reducer := ReducerLast
		if out.Reducer == ir.ReducerAppend {
			reducer = ReducerAppend
		}
		channels[key] = Channel{Key: key, Reducer: reducer}
	}

	portSource := make(map[string]resolvedRef, len(n.Inputs))
	var triggers []string
	seenTrigger := map[string]bool{}
	for _, in := range n.Inputs {
		if !in.HasDefault {
			continue
		}
		r, err := resolveRef(in.DefaultValue, scope)
		if err != nil {
			return nil, nil, err
		}
		portSource[in.Name] = r
		if !r.literal && !seenTrigger[r.channelKey] {
			seenTrigger[r.channelKey] = true
			triggers = append(triggers, r.channelKey)
		}
	}
	if len(triggers) == 0 {
		triggers = []string{StartChannelKey}
	}

	body := func(ctx context.Context, state map[string]any, registry node.Registry) (Outcome, error) {
		for _, in := range n.Inputs {
			if in.Optional || !in.HasDefault {
				continue
			}
			if portValue(in.DefaultValue, portSource[in.Name], state) == nil {
				return Outcome{Kind: OutcomeRedirect, Redirect: NoopNodeName}, nil
			}
		}
		if n.When != "" && !eval.Condition(n.When, state) {
			return Outcome{Kind: OutcomeRedirect, Redirect: NoopNodeName}, nil
		}

		fn, ok := registry.Lookup(n.Call)
		if !ok {
			return Outcome{}, awslerr.NewFunctionNotProvided(n.Name, n.Call)
		}

		taskInput := make(map[string]any, len(n.Inputs))
		for _, in := range n.Inputs {
			if r, has := portSource[in.Name]; has {
				taskInput[in.Name] = portValue(in.DefaultValue, r, state)
			}
		}

		meta := make(map[string]any, len(n.Constants))
		for k, v := range n.Constants {
			meta[k] = eval.Value(v, state)
		}

		// spec.md §4.4: a node with a retry descriptor is retried up to
		// Attempts times with the declared backoff before the run fails;
		// a node with no descriptor gets exactly one attempt.
		maxAttempts := 1
		var initialDelay time.Duration
		exponential := false
		if n.Retry != nil {
			if n.Retry.Attempts > 0 {
				maxAttempts = n.Retry.Attempts
			}
			if d, derr := time.ParseDuration(n.Retry.Backoff); derr == nil {
				initialDelay = d
			}
			exponential = n.Retry.Policy == "exponential"
		}

		var result map[string]any
		var err error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			result, err = fn(ctx, taskInput, node.Config{Metadata: meta})
			if err == nil {
				break
			}

			var interrupt *node.Interrupt
			if errors.As(err, &interrupt) {
				return Outcome{Kind: OutcomeInterrupt, Interrupt: interrupt.Payload}, nil
			}

			if attempt == maxAttempts {
				return Outcome{}, awslerr.NewNodeBodyError(n.Name, attempt, err)
			}

			delay := initialDelay
			if exponential {
				delay = initialDelay * time.Duration(1<<uint(attempt-1))
			}
			if delay > 0 {
				select {
				case <-ctx.Done():
					return Outcome{}, awslerr.NewNodeBodyError(n.Name, attempt, ctx.Err())
				case <-time.After(delay):
				}
			}
		}

		writes := make(map[string]any, len(result))
		for k, v := range result {
			writes[n.Name+"."+k] = v
		}
		return Outcome{Kind: OutcomeWrites, Writes: writes}, nil
	}

	return &PlanNode{
		Name:     n.Name,
		Triggers: triggers,
		Reads:    append([]string(nil), triggers...),
		RunOnce:  runOnce,
		Body:     body,
	}, channels, nil
}
