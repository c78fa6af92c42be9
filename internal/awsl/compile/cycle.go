package compile

import (
	"context"
	"strings"
	"unicode"

	"github.com/madmag77/bpmn-workflows/internal/awsl/awslerr"
	"github.com/madmag77/bpmn-workflows/internal/awsl/eval"
	"github.com/madmag77/bpmn-workflows/internal/awsl/ir"
	"github.com/madmag77/bpmn-workflows/internal/awsl/node"
)

// compiledCycle is the intermediate result of compiling one ir.Cycle: the
// channels it declares and the PlanNodes (internal nodes plus the
// synthetic start/guard pair) that realize it.
type compiledCycle struct {
	channels     map[string]Channel
	nodes        []*PlanNode
	iterationKey string
}

// compileCycle implements spec.md §4.3 step 3: a Cycle compiles to three
// plan constructs sharing its name prefix.
//
// The iteration counter (SUM channel, "CycleName.iteration_counter") is
// incremented by exactly one write per actual iteration — the cycle-start
// node's own increment on each of its firings. Continuing the loop is
// driven by a separate, private retrigger channel
// ("CycleName.__retrigger") rather than by also adding to the counter
// channel: both the start node and a continuing guard writing to the same
// SUM channel would double-count each iteration after the first. This
// keeps the counter's value equal to the number of times the cycle's body
// has actually run, matching spec.md §8's literal iteration_counter
// expectations. See DESIGN.md for the open-question rationale.
func compileCycle(c *ir.Cycle, workflowScope map[string]string, globalNames map[string]bool) (*compiledCycle, error) {
	iterKey := c.Name + ".iteration_counter"
	retriggerKey := c.Name + ".__retrigger"

	channels := map[string]Channel{
		iterKey:      {Key: iterKey, Reducer: ReducerSum},
		retriggerKey: {Key: retriggerKey, Reducer: ReducerLast},
	}
	for _, p := range c.Inputs {
		key := c.Name + "." + p.Name
		channels[key] = Channel{Key: key, Reducer: ReducerLast}
	}
	for _, p := range c.Outputs {
		key := c.Name + "." + p.Name
		channels[key] = Channel{Key: key, Reducer: ReducerLast}
	}

	cycleScope := map[string]string{}
	for _, p := range c.Inputs {
		cycleScope[p.Name] = c.Name + "." + p.Name
	}

	siblings := map[string]bool{}
	for _, n := range c.Nodes {
		if globalNames[n.Name] {
			return nil, awslerr.NewInvalidWorkflow(n.Name, "duplicate node name")
		}
		globalNames[n.Name] = true
		siblings[n.Name] = true
	}

	var internalNodes []*PlanNode
	var clearKeys []string
	allInCycleOutputs := map[string]bool{}

	for _, n := range c.Nodes {
		if err := validateInCycleRefs(&n, cycleScope, siblings); err != nil {
			return nil, err
		}
		pn, nodeChannels, err := compileNode(&n, cycleScope, false)
		if err != nil {
			return nil, err
		}
		for k, ch := range nodeChannels {
			channels[k] = ch
			allInCycleOutputs[k] = true
			if ch.Reducer != ReducerAppend {
				clearKeys = append(clearKeys, k)
			}
		}
		internalNodes = append(internalNodes, pn)
	}

	for _, p := range c.Inputs {
		if !p.HasDefault {
			continue
		}
		if _, err := resolveRef(p.DefaultValue, workflowScope); err != nil {
			return nil, err
		}
	}

	startNode := compileCycleStart(c, workflowScope, iterKey, retriggerKey, clearKeys)
	guardNode := compileCycleGuard(c, cycleScope, iterKey, retriggerKey, allInCycleOutputs)

	nodes := append([]*PlanNode{startNode}, internalNodes...)
	nodes = append(nodes, guardNode)

	return &compiledCycle{channels: channels, nodes: nodes, iterationKey: iterKey}, nil
}

// validateInCycleRefs enforces spec.md IR invariant 2 for nodes inside a
// cycle: a qualified reference must name a sibling node within the same
// cycle (no reaching into the enclosing workflow except via the cycle's
// declared inputs, which resolve through cycleScope instead).
func validateInCycleRefs(n *ir.Node, cycleScope map[string]string, siblings map[string]bool) error {
	for _, in := range n.Inputs {
		if !in.HasDefault {
			continue
		}
		v := in.DefaultValue
		switch v.Kind {
		case "qualified":
			if !siblings[v.Qualifier] {
				return awslerr.NewInvalidWorkflow(v.Qualifier+"."+v.Str,
					"in-cycle node reference must name a sibling node within the same cycle")
			}
		case "ident":
			if _, ok := cycleScope[v.Str]; !ok {
				return awslerr.NewInvalidWorkflow(v.Str,
					"in-cycle node reference does not resolve to a cycle input")
			}
		}
	}
	return nil
}

func compileCycleStart(c *ir.Cycle, workflowScope map[string]string, iterKey, retriggerKey string, clearKeys []string) *PlanNode {
	type boundInput struct {
		port ir.Port
		ref  resolvedRef
	}
	bound := make([]boundInput, 0, len(c.Inputs))
	var triggers []string
	seen := map[string]bool{}
	for _, p := range c.Inputs {
		if !p.HasDefault {
			continue
		}
		r, err := resolveRef(p.DefaultValue, workflowScope)
		if err != nil {
			// Unresolvable cycle input references fall back to a literal
			// no-op; compileCycle has already rejected them, so this path
			// is defensive only.
			r = resolvedRef{literal: true}
		}
		bound = append(bound, boundInput{port: p, ref: r})
		if !r.literal && !seen[r.channelKey] {
			seen[r.channelKey] = true
			triggers = append(triggers, r.channelKey)
		}
	}
	triggers = append(triggers, retriggerKey)

	body := func(ctx context.Context, state map[string]any, registry node.Registry) (Outcome, error) {
		for _, b := range bound {
			if b.port.Optional {
				continue
			}
			if portValue(b.port.DefaultValue, b.ref, state) == nil {
				return Outcome{Kind: OutcomeRedirect, Redirect: NoopNodeName}, nil
			}
		}

		writes := make(map[string]any, len(bound)+len(clearKeys)+1)
		writes[iterKey] = int64(1)
		for _, b := range bound {
			writes[c.Name+"."+b.port.Name] = portValue(b.port.DefaultValue, b.ref, state)
		}
		for _, k := range clearKeys {
			writes[k] = Clear
		}
		return Outcome{Kind: OutcomeWrites, Writes: writes}, nil
	}

	return &PlanNode{
		Name:     c.Name + "_start",
		Triggers: triggers,
		Reads:    append([]string(nil), triggers...),
		RunOnce:  false,
		Body:     body,
	}
}

func compileCycleGuard(c *ir.Cycle, cycleScope map[string]string, iterKey, retriggerKey string, allInCycleOutputs map[string]bool) *PlanNode {
	type boundOutput struct {
		port ir.Port
		ref  resolvedRef
	}
	bound := make([]boundOutput, 0, len(c.Outputs))
	triggerSet := map[string]bool{}
	for _, p := range c.Outputs {
		if !p.HasDefault {
			continue
		}
		r, err := resolveRef(p.DefaultValue, cycleScope)
		if err != nil {
			r = resolvedRef{literal: true}
		}
		bound = append(bound, boundOutput{port: p, ref: r})
		if !r.literal {
			triggerSet[r.channelKey] = true
		}
	}
	for k := range allInCycleOutputs {
		triggerSet[k] = true
	}
	triggers := make([]string, 0, len(triggerSet))
	for k := range triggerSet {
		triggers = append(triggers, k)
	}

	maxIterations := c.MaxIterations
	guardExpr := c.Guard

	// guardChannels are every channel the guard expression itself reads
	// (e.g. an in-cycle node's output referenced only inside the guard,
	// not among the cycle's declared outputs). Requiring these to be
	// freshly written before evaluating, exactly like the bound cycle
	// outputs above, closes a same-super-step race: without it, the
	// guard can fire as soon as the cycle's declared outputs arrive,
	// read a not-yet-written guard channel as nil, and wrongly decide
	// to continue — double-incrementing the iteration counter once the
	// real value lands a super-step later.
	guardChannels := scanGuardChannels(guardExpr, cycleScope)

	body := func(ctx context.Context, state map[string]any, registry node.Registry) (Outcome, error) {
		for _, b := range bound {
			if b.port.Optional {
				continue
			}
			if portValue(b.port.DefaultValue, b.ref, state) == nil {
				return Outcome{Kind: OutcomeRedirect, Redirect: NoopNodeName}, nil
			}
		}
		for _, k := range guardChannels {
			if state[k] == nil {
				return Outcome{Kind: OutcomeRedirect, Redirect: NoopNodeName}, nil
			}
		}

		count := asInt(state[iterKey])
		if eval.Condition(guardExpr, state) || count >= int64(maxIterations) {
			writes := make(map[string]any, len(bound))
			for _, b := range bound {
				writes[c.Name+"."+b.port.Name] = portValue(b.port.DefaultValue, b.ref, state)
			}
			return Outcome{Kind: OutcomeWrites, Writes: writes}, nil
		}

		return Outcome{Kind: OutcomeWrites, Writes: map[string]any{retriggerKey: true}}, nil
	}

	return &PlanNode{
		Name:     c.Name + "_guard",
		Triggers: triggers,
		Reads:    append([]string(nil), triggers...),
		RunOnce:  false,
		Body:     body,
	}
}

// scanGuardChannels extracts every dotted "Name.port" reference in a guard
// expression directly as a channel key, and every bare identifier that
// resolves through scope, skipping quoted string contents and the boolean
// keywords. It mirrors the quote-aware identifier scan in package eval's
// normalize, but only collects channel keys rather than rewriting the
// expression.
func scanGuardChannels(expr string, scope map[string]string) []string {
	isStart := func(r rune) bool { return r == '_' || unicode.IsLetter(r) }
	isPart := func(r rune) bool { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }

	var keys []string
	runes := []rune(expr)
	i := 0
	inStr := false

	for i < len(runes) {
		r := runes[i]

		if inStr {
			if r == '"' {
				inStr = false
			}
			i++
			continue
		}
		if r == '"' {
			inStr = true
			i++
			continue
		}

		if isStart(r) {
			j := i + 1
			for j < len(runes) && isPart(runes[j]) {
				j++
			}
			full := string(runes[i:j])
			k := j
			for k < len(runes) && runes[k] == '.' && k+1 < len(runes) && isStart(runes[k+1]) {
				m := k + 1
				for m < len(runes) && isPart(runes[m]) {
					m++
				}
				full += "." + string(runes[k+1:m])
				k = m
			}

			switch full {
			case "True", "False", "true", "false", "and", "or", "not":
				// boolean keyword, not a channel reference
			default:
				if strings.Contains(full, ".") {
					keys = append(keys, full)
				} else if ck, ok := scope[full]; ok {
					keys = append(keys, ck)
				}
			}
			i = k
			continue
		}

		i++
	}
	return keys
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
