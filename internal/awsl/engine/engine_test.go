package engine_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madmag77/bpmn-workflows/internal/awsl/compile"
	"github.com/madmag77/bpmn-workflows/internal/awsl/engine"
	"github.com/madmag77/bpmn-workflows/internal/awsl/node"
	"github.com/madmag77/bpmn-workflows/internal/awsl/parser"
)

const linearSource = `
workflow LinearPipeline {
  inputs {
    string query
  }
  outputs {
    string final_answer = FinalAnswer.final_answer
  }

  node QueryExtender {
    call query_extender
    inputs {
      string query = query
    }
    outputs {
      string extended_query
    }
  }

  node Retrieve {
    call retrieve
    inputs {
      string query = QueryExtender.extended_query
    }
    outputs {
      list chunks
    }
  }

  node FilterChunks {
    call filter_chunks
    inputs {
      list chunks = Retrieve.chunks
    }
    outputs {
      list filtered_chunks
    }
  }

  node FinalAnswer {
    call final_answer_generation
    inputs {
      list filtered_chunks = FilterChunks.filtered_chunks
      string extended_query = QueryExtender.extended_query
    }
    outputs {
      string final_answer
    }
  }
}
`

func compileSource(t *testing.T, src string) *compile.Plan {
	t.Helper()
	wf, err := parser.Parse(src)
	require.NoError(t, err)
	plan, err := compile.Compile(wf)
	require.NoError(t, err)
	return plan
}

func TestLinearPipeline(t *testing.T) {
	plan := compileSource(t, linearSource)

	registry := node.NewRegistry()
	registry.MustRegister("query_extender", func(ctx context.Context, in map[string]any, cfg node.Config) (map[string]any, error) {
		return map[string]any{"extended_query": "extended query"}, nil
	})
	registry.MustRegister("retrieve", func(ctx context.Context, in map[string]any, cfg node.Config) (map[string]any, error) {
		return map[string]any{"chunks": []any{"chunk for hello"}}, nil
	})
	registry.MustRegister("filter_chunks", func(ctx context.Context, in map[string]any, cfg node.Config) (map[string]any, error) {
		return map[string]any{"filtered_chunks": []any{"chunk for hello"}}, nil
	})
	registry.MustRegister("final_answer_generation", func(ctx context.Context, in map[string]any, cfg node.Config) (map[string]any, error) {
		assert.Equal(t, "extended query", in["extended_query"])
		return map[string]any{"final_answer": "final answer from chunks"}, nil
	})

	eng := engine.New(registry, engine.NewMemoryCheckpointer())
	result, err := eng.Run(context.Background(), plan, "run-1", map[string]any{"query": "hello"})
	require.NoError(t, err)
	require.False(t, result.Interrupted)
	assert.Equal(t, "final answer from chunks", result.Values["FinalAnswer.final_answer"])
}

func cycleSource(guard string, maxIterations int) string {
	return `
workflow CyclePipeline {
  inputs {
    string query
  }
  outputs {
    string final_answer = FinalAnswer.final_answer
  }

  node QueryExtender {
    call query_extender
    inputs {
      string query = query
    }
    outputs {
      string extended_query
    }
  }

  cycle RetrieveLoop {
    inputs {
      string query = QueryExtender.extended_query
    }
    outputs {
      list chunks = Retrieve.chunks
    }

    node Retrieve {
      call retrieve
      inputs {
        string query = query
      }
      outputs {
        list chunks
      }
    }

    node RetrieveResultsCheck {
      call retrieve_results_check
      inputs {
        list chunks = Retrieve.chunks
      }
      outputs {
        bool is_enough
      }
    }

    guard ` + guard + `
    max_iterations ` + strconv.Itoa(maxIterations) + `
  }

  node FilterChunks {
    call filter_chunks
    inputs {
      list chunks = RetrieveLoop.chunks
    }
    outputs {
      list filtered_chunks
    }
  }

  node FinalAnswer {
    call final_answer_generation
    inputs {
      list filtered_chunks = FilterChunks.filtered_chunks
    }
    outputs {
      string final_answer
    }
  }
}
`
}

func registerCommonNodes(registry node.Registry) {
	registry.MustRegister("query_extender", func(ctx context.Context, in map[string]any, cfg node.Config) (map[string]any, error) {
		return map[string]any{"extended_query": "extended query"}, nil
	})
	registry.MustRegister("filter_chunks", func(ctx context.Context, in map[string]any, cfg node.Config) (map[string]any, error) {
		return map[string]any{"filtered_chunks": in["chunks"]}, nil
	})
	registry.MustRegister("final_answer_generation", func(ctx context.Context, in map[string]any, cfg node.Config) (map[string]any, error) {
		return map[string]any{"final_answer": "final answer from chunks"}, nil
	})
}

func TestSinglePassCycle(t *testing.T) {
	plan := compileSource(t, cycleSource(`RetrieveResultsCheck.is_enough == true`, 4))

	registry := node.NewRegistry()
	registerCommonNodes(registry)
	registry.MustRegister("retrieve", func(ctx context.Context, in map[string]any, cfg node.Config) (map[string]any, error) {
		return map[string]any{"chunks": []any{"chunk for hello"}}, nil
	})
	registry.MustRegister("retrieve_results_check", func(ctx context.Context, in map[string]any, cfg node.Config) (map[string]any, error) {
		return map[string]any{"is_enough": true}, nil
	})

	eng := engine.New(registry, engine.NewMemoryCheckpointer())
	result, err := eng.Run(context.Background(), plan, "run-2", map[string]any{"query": "hello"})
	require.NoError(t, err)
	require.False(t, result.Interrupted)
	assert.Equal(t, int64(1), result.Values["RetrieveLoop.iteration_counter"])
	assert.Equal(t, "final answer from chunks", result.Values["FinalAnswer.final_answer"])
}

func TestTwoIterationCycle(t *testing.T) {
	plan := compileSource(t, cycleSource(`RetrieveResultsCheck.is_enough == true`, 4))

	registry := node.NewRegistry()
	registerCommonNodes(registry)
	calls := 0
	registry.MustRegister("retrieve", func(ctx context.Context, in map[string]any, cfg node.Config) (map[string]any, error) {
		return map[string]any{"chunks": []any{"chunk for hello"}}, nil
	})
	registry.MustRegister("retrieve_results_check", func(ctx context.Context, in map[string]any, cfg node.Config) (map[string]any, error) {
		calls++
		return map[string]any{"is_enough": calls >= 2}, nil
	})

	eng := engine.New(registry, engine.NewMemoryCheckpointer())
	result, err := eng.Run(context.Background(), plan, "run-3", map[string]any{"query": "hello"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Values["RetrieveLoop.iteration_counter"])
}

func TestExhaustedCycle(t *testing.T) {
	plan := compileSource(t, cycleSource(`RetrieveResultsCheck.is_enough == true`, 4))

	registry := node.NewRegistry()
	registerCommonNodes(registry)
	registry.MustRegister("retrieve", func(ctx context.Context, in map[string]any, cfg node.Config) (map[string]any, error) {
		return map[string]any{"chunks": []any{"chunk for hello"}}, nil
	})
	registry.MustRegister("retrieve_results_check", func(ctx context.Context, in map[string]any, cfg node.Config) (map[string]any, error) {
		return map[string]any{"is_enough": false}, nil
	})

	eng := engine.New(registry, engine.NewMemoryCheckpointer())
	result, err := eng.Run(context.Background(), plan, "run-4", map[string]any{"query": "hello"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), result.Values["RetrieveLoop.iteration_counter"])
	assert.Equal(t, "final answer from chunks", result.Values["FinalAnswer.final_answer"])
}

const hitlSource = `
workflow HitlPipeline {
  inputs {
    string query
  }
  outputs {
    string clarifications = ClarifyNode.clarifications
    string final_answer = FinalAnswer.final_answer
  }

  node ClarifyNode {
    call clarify
    inputs {
      string query = query
    }
    outputs {
      string clarifications
    }
    hitl {
      questions: ["clarify?"]
    }
  }

  node FinalAnswer {
    call final_answer_generation
    inputs {
      string clarifications = ClarifyNode.clarifications
    }
    outputs {
      string final_answer
    }
  }
}
`

func TestHitlInterruptAndResume(t *testing.T) {
	plan := compileSource(t, hitlSource)

	asked := false
	registry := node.NewRegistry()
	registry.MustRegister("clarify", func(ctx context.Context, in map[string]any, cfg node.Config) (map[string]any, error) {
		if !asked {
			asked = true
			return nil, &node.Interrupt{Payload: map[string]any{"questions": []string{"clarify?"}}}
		}
		return map[string]any{"clarifications": in["query"]}, nil
	})
	registry.MustRegister("final_answer_generation", func(ctx context.Context, in map[string]any, cfg node.Config) (map[string]any, error) {
		return map[string]any{"final_answer": "answer: " + in["clarifications"].(string)}, nil
	})

	eng := engine.New(registry, engine.NewMemoryCheckpointer())
	result, err := eng.Run(context.Background(), plan, "run-5", map[string]any{"query": "hello"})
	require.NoError(t, err)
	require.True(t, result.Interrupted)
	assert.NotNil(t, result.Values["__interrupt__"])

	resumed, err := eng.Resume(context.Background(), plan, "run-5", "answer")
	require.NoError(t, err)
	require.False(t, resumed.Interrupted)
	assert.Equal(t, "answer", resumed.Values["ClarifyNode.clarifications"])
	assert.Equal(t, "answer: answer", resumed.Values["FinalAnswer.final_answer"])
}

func TestResumeWithoutCheckpointFails(t *testing.T) {
	eng := engine.New(node.NewRegistry(), engine.NewMemoryCheckpointer())
	_, err := eng.Resume(context.Background(), &compile.Plan{}, "missing-run", "x")
	assert.ErrorIs(t, err, engine.ErrNoCheckpoint)
}
