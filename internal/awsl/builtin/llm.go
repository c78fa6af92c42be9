// Package builtin provides a small set of concrete node.Func
// implementations that worker binaries may register against `call` names
// appearing in AWSL source, grounded on the node-executor bodies of the
// teacher codebase (internal/application/executor/node_executors.go).
// Nothing in the engine depends on this package; it is purely an optional
// batteries-included set for workflows that want one.
package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/madmag77/bpmn-workflows/internal/awsl/node"
)

// LLMComplete calls an OpenAI-compatible chat completion endpoint. It reads
// "prompt" (required) and "model" (optional, default gpt-4o-mini) from the
// task's projected inputs, and writes "content", "prompt_tokens",
// "completion_tokens", and "latency_ms" to the outputs, mirroring
// OpenAICompletionExecutor.Execute's result shape.
type LLMComplete struct {
	client *openai.Client
}

// NewLLMComplete builds an LLMComplete bound to apiKey. The node's own
// `constants { api_key: ... }` (surfaced via cfg.Metadata) takes priority
// over apiKey when present, matching the teacher executor's config-first
// resolution order.
func NewLLMComplete(apiKey string) *LLMComplete {
	return &LLMComplete{client: openai.NewClient(apiKey)}
}

func (l *LLMComplete) Func() node.Func {
	return func(ctx context.Context, input map[string]any, cfg node.Config) (map[string]any, error) {
		prompt, _ := input["prompt"].(string)
		if strings.TrimSpace(prompt) == "" {
			return nil, fmt.Errorf("llm_complete: missing required input %q", "prompt")
		}

		model, _ := input["model"].(string)
		if model == "" {
			model = "gpt-4o-mini"
		}

		client := l.client
		if key, ok := cfg.Metadata["api_key"].(string); ok && key != "" {
			client = openai.NewClient(key)
		}

		start := time.Now()
		resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		latency := time.Since(start)
		if err != nil {
			return nil, fmt.Errorf("llm_complete: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("llm_complete: no choices returned")
		}

		content := strings.TrimSpace(resp.Choices[0].Message.Content)
		return map[string]any{
			"content":           content,
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"latency_ms":        latency.Milliseconds(),
		}, nil
	}
}
