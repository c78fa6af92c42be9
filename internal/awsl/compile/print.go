package compile

import (
	"fmt"
	"io"
	"strings"

	"github.com/madmag77/bpmn-workflows/internal/awsl/ir"
)

// PrintStructure writes an indented human-readable dump of a parsed
// Workflow, grounded on the original grammar package's
// print_workflow_structure: workflow name and metadata, then inputs and
// outputs (with "= default" suffixed when a port carries one), then each
// step in declaration order. It operates on the IR rather than a compiled
// Plan, so it's available to `-print-structure` even for a workflow that
// later fails compilation.
func PrintStructure(w io.Writer, wf *ir.Workflow) {
	fmt.Fprintf(w, "Workflow: %s\n", wf.Name)
	if len(wf.Metadata) > 0 {
		fmt.Fprintln(w, "  Metadata:")
		for k, v := range wf.Metadata {
			fmt.Fprintf(w, "    %s: %s\n", k, formatValue(v))
		}
	}

	fmt.Fprintln(w, "  Inputs:")
	for _, p := range wf.Inputs {
		fmt.Fprintf(w, "    %s\n", formatPort(p))
	}

	fmt.Fprintln(w, "  Outputs:")
	for _, p := range wf.Outputs {
		fmt.Fprintf(w, "    %s\n", formatPort(p))
	}

	fmt.Fprintln(w, "  Steps:")
	for _, step := range wf.Steps {
		switch {
		case step.Node != nil:
			printNode(w, step.Node, "    ")
		case step.Cycle != nil:
			printCycle(w, step.Cycle, "    ")
		}
	}
}

func printNode(w io.Writer, n *ir.Node, indent string) {
	fmt.Fprintf(w, "%sNode %s (call=%s)\n", indent, n.Name, n.Call)
	if n.When != "" {
		fmt.Fprintf(w, "%s  when: %s\n", indent, n.When)
	}
	fmt.Fprintf(w, "%s  inputs:\n", indent)
	for _, p := range n.Inputs {
		fmt.Fprintf(w, "%s    %s\n", indent, formatPort(p))
	}
	fmt.Fprintf(w, "%s  outputs:\n", indent)
	for _, p := range n.Outputs {
		fmt.Fprintf(w, "%s    %s\n", indent, formatPort(p))
	}
	if len(n.Constants) > 0 {
		fmt.Fprintf(w, "%s  constants:\n", indent)
		for k, v := range n.Constants {
			fmt.Fprintf(w, "%s    %s = %s\n", indent, k, formatValue(v))
		}
	}
	if n.Retry != nil {
		fmt.Fprintf(w, "%s  retry: attempts=%d backoff=%s policy=%s\n",
			indent, n.Retry.Attempts, n.Retry.Backoff, n.Retry.Policy)
	}
	if n.Hitl != nil {
		fmt.Fprintf(w, "%s  hitl: questions=%v extra=%v\n", indent, n.Hitl.Questions, n.Hitl.Extra)
	}
}

func printCycle(w io.Writer, c *ir.Cycle, indent string) {
	fmt.Fprintf(w, "%sCycle %s (max_iterations=%d)\n", indent, c.Name, c.MaxIterations)
	fmt.Fprintf(w, "%s  guard: %s\n", indent, c.Guard)
	fmt.Fprintf(w, "%s  inputs:\n", indent)
	for _, p := range c.Inputs {
		fmt.Fprintf(w, "%s    %s\n", indent, formatPort(p))
	}
	fmt.Fprintf(w, "%s  outputs:\n", indent)
	for _, p := range c.Outputs {
		fmt.Fprintf(w, "%s    %s\n", indent, formatPort(p))
	}
	fmt.Fprintf(w, "%s  nodes:\n", indent)
	for i := range c.Nodes {
		printNode(w, &c.Nodes[i], indent+"  ")
	}
}

func formatPort(p ir.Port) string {
	s := fmt.Sprintf("%s %s", p.Type, p.Name)
	if p.HasDefault {
		s += " = " + formatValue(p.DefaultValue)
	}
	if p.Optional {
		s += " (optional)"
	}
	if p.Reducer == ir.ReducerAppend {
		s += " [APPEND]"
	}
	return s
}

func formatValue(v any) string {
	switch raw := v.(type) {
	case ir.Value:
		switch raw.Kind {
		case "string":
			return fmt.Sprintf("%q", raw.Str)
		case "int":
			return fmt.Sprintf("%d", raw.Int)
		case "float":
			return fmt.Sprintf("%g", raw.Float)
		case "bool":
			return fmt.Sprintf("%t", raw.Bool)
		case "duration":
			return raw.Duration.String()
		case "qualified":
			return raw.Qualifier + "." + raw.Str
		case "ident":
			return raw.Str
		default:
			return "<?>"
		}
	case string:
		return raw
	default:
		return strings.TrimSpace(fmt.Sprint(raw))
	}
}
