// Command awslc parses and compiles an AWSL file without running it,
// surfacing InvalidWorkflow errors (missing references, sink-count
// violations, duplicate names) per spec.md §7. Nested cycles are rejected
// earlier, by the parser, and are reported as a syntax error.
package main

import (
	"fmt"
	"os"

	"github.com/madmag77/bpmn-workflows/internal/awsl/compile"
	"github.com/madmag77/bpmn-workflows/internal/awsl/parser"
)

func main() {
	printStructure := false
	args := os.Args[1:]
	var path string
	for _, a := range args {
		if a == "-print-structure" {
			printStructure = true
			continue
		}
		path = a
	}

	if path == "" {
		fmt.Fprintln(os.Stderr, "usage: awslc [-print-structure] <file.awsl>")
		os.Exit(1)
	}

	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	wf, err := parser.Parse(string(src))
	if err != nil {
		fmt.Printf("Syntax error: %v\n", err)
		os.Exit(1)
	}

	if printStructure {
		compile.PrintStructure(os.Stdout, wf)
	}

	plan, err := compile.Compile(wf)
	if err != nil {
		fmt.Printf("Compile error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Compile OK: %d channels, %d nodes\n", len(plan.Channels), len(plan.Nodes))
}
