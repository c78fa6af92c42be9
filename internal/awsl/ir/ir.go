// Package ir defines the Workflow intermediate representation produced by
// the parser (C1) and consumed by the graph compiler (C3).
//
// The shape mirrors the dataclasses built by the original Lark transformer
// (ASTBuilder in workflow_parser.py): Workflow, Metadata, Input, Output,
// NodeClass, CycleClass, HitlConfig, RetryConfig.
package ir

// Value is a parsed scalar literal or reference: an integer, a float, a
// bool, a quoted string, a duration, a bare identifier (a reference to a
// workflow input or, inside a node, left to the compiler to resolve), or a
// qualified reference "Name.name".
type Value struct {
	// Kind classifies the literal. One of: "int", "float", "bool",
	// "string", "duration", "ident", "qualified".
	Kind string

	Int      int64
	Float    float64
	Bool     bool
	Str      string // unquoted string literal, or the identifier text for "ident"/"qualified"
	Duration string // raw duration text, e.g. "24h"

	// Qualifier is set only when Kind == "qualified": Str holds the port
	// name, Qualifier holds the node/cycle name before the dot.
	Qualifier string
}

// IsReference reports whether the value is a bare or qualified identifier
// rather than a literal constant.
func (v Value) IsReference() bool {
	return v.Kind == "ident" || v.Kind == "qualified"
}

// QualifiedRef reports whether the value is a "Name.port" reference and
// returns its two parts.
func (v Value) QualifiedRef() (node, port string, ok bool) {
	if v.Kind != "qualified" {
		return "", "", false
	}
	return v.Qualifier, v.Str, true
}

// Reducer tags the reduction rule declared on an output port. APPEND
// concatenates cross-super-step writes into a list; LAST (the implicit
// default) keeps the most recent non-null write.
type Reducer string

const (
	ReducerLast   Reducer = "LAST"
	ReducerAppend Reducer = "APPEND"
)

// Port is a declared input or output port on a Node, Cycle, or the
// workflow's top-level inputs/outputs block.
type Port struct {
	Type string
	Name string

	// HasDefault is false for ports with no default_value expression at all.
	HasDefault   bool
	DefaultValue Value

	Optional bool

	// Reducer applies to output ports only; zero value means LAST.
	Reducer Reducer
}

// RetryConfig describes a node's retry policy.
type RetryConfig struct {
	Attempts int
	Backoff  string // duration literal, e.g. "5s"
	Policy   string // e.g. "fixed" or "exponential"
}

// HitlConfig marks a node as capable of emitting an Interrupt; the fields
// are opaque metadata recorded by the parser. The compiler does not pass
// them to the node body: config.metadata carries only the node's constants.
type HitlConfig struct {
	Questions []string
	Extra     map[string]Value
}

// Node is a single workflow step invoking a named user function.
type Node struct {
	Name    string
	Call    string
	Inputs  []Port
	Outputs []Port

	// When holds the raw guard expression text, or "" if absent.
	When string

	Constants map[string]Value

	Retry *RetryConfig
	Hitl  *HitlConfig
}

// Cycle is a bounded, re-executed sub-graph of Nodes (no nested cycles).
type Cycle struct {
	Name    string
	Inputs  []Port
	Outputs []Port
	Nodes   []Node

	Guard         string
	MaxIterations int // default 10, applied by the parser if absent
}

// Step is a tagged union: exactly one of Node or Cycle is non-nil.
type Step struct {
	Node  *Node
	Cycle *Cycle
}

func (s Step) Name() string {
	if s.Node != nil {
		return s.Node.Name
	}
	if s.Cycle != nil {
		return s.Cycle.Name
	}
	return ""
}

// Workflow is the root IR value produced by the parser.
type Workflow struct {
	Name     string
	Metadata map[string]string
	Inputs   []Port
	Outputs  []Port
	Steps    []Step
}

// AllNodes flattens top-level nodes and in-cycle nodes into one slice,
// tagging each with its enclosing cycle name ("" for top-level nodes).
func (w *Workflow) AllNodes() []NodeRef {
	var out []NodeRef
	for _, s := range w.Steps {
		switch {
		case s.Node != nil:
			out = append(out, NodeRef{Node: s.Node})
		case s.Cycle != nil:
			for i := range s.Cycle.Nodes {
				out = append(out, NodeRef{Node: &s.Cycle.Nodes[i], Cycle: s.Cycle})
			}
		}
	}
	return out
}

// NodeRef pairs a Node with its enclosing Cycle, if any.
type NodeRef struct {
	Node  *Node
	Cycle *Cycle // nil for top-level nodes
}
