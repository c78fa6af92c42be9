package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/madmag77/bpmn-workflows/internal/awsl/node"
)

// Echo copies every projected input straight through to identically-named
// outputs; useful for smoke-testing a workflow's wiring without a live
// dependency. Grounded on the teacher's JSONParserExecutor passthrough
// branch (already-parsed input is returned unchanged).
func Echo(ctx context.Context, input map[string]any, cfg node.Config) (map[string]any, error) {
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = v
	}
	return out, nil
}

// JSONParse parses the "input" string into structured data under "output",
// grounded on JSONParserExecutor.Execute.
func JSONParse(ctx context.Context, input map[string]any, cfg node.Config) (map[string]any, error) {
	raw, ok := input["input"].(string)
	if !ok {
		return nil, fmt.Errorf("json_parse: missing required string input %q", "input")
	}
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("json_parse: %w", err)
	}
	return map[string]any{"output": parsed}, nil
}
