// Command verify is a parse-only syntax checker for AWSL source files,
// mirroring original_source/awsl/verifier.py: it never compiles (C3) or
// runs (C4) the workflow, only parses it (C1).
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
		fmt.Fprintln(os.Stderr, "usage: verify [-print-structure] <file.awsl>")
		os.Exit(1)
	}

	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Syntax error: %v\n", err)
		os.Exit(1)
	}

	wf, err := parser.Parse(string(src))
	if err != nil {
		fmt.Printf("Syntax error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Syntax OK")
	if printStructure {
		compile.PrintStructure(os.Stdout, wf)
	}
}
