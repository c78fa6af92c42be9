package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madmag77/bpmn-workflows/internal/awsl/awslerr"
	"github.com/madmag77/bpmn-workflows/internal/awsl/ir"
	"github.com/madmag77/bpmn-workflows/internal/awsl/parser"
)

func TestParseMinimalWorkflow(t *testing.T) {
	wf, err := parser.Parse(`
workflow Linear {
  inputs { string query }
  outputs { string final_answer = FinalAnswer.final_answer }

  node FinalAnswer {
    call final_answer_generation
    inputs { string query = query }
    outputs { string final_answer }
  }
}
`)
	require.NoError(t, err)
	assert.Equal(t, "Linear", wf.Name)
	require.Len(t, wf.Inputs, 1)
	assert.Equal(t, "query", wf.Inputs[0].Name)
	require.Len(t, wf.Outputs, 1)
	assert.Equal(t, ir.Value{Kind: "qualified", Qualifier: "FinalAnswer", Str: "final_answer"}, wf.Outputs[0].DefaultValue)
	require.Len(t, wf.Steps, 1)
	require.NotNil(t, wf.Steps[0].Node)
	assert.Equal(t, "final_answer_generation", wf.Steps[0].Node.Call)
}

func TestParseMetadataBlock(t *testing.T) {
	wf, err := parser.Parse(`
workflow WithMeta {
  metadata { owner: "team-x", version: "1" }
  inputs { string q }
  outputs { string out = N.out }

  node N {
    call f
    inputs { string q = q }
    outputs { string out }
  }
}
`)
	require.NoError(t, err)
	assert.Equal(t, "team-x", wf.Metadata["owner"])
	assert.Equal(t, "1", wf.Metadata["version"])
}

func TestParsePortDefaultsOptionalAndAppend(t *testing.T) {
	wf, err := parser.Parse(`
workflow Ports {
  inputs {
    string query = "hi"
    int limit optional
  }
  outputs { list log = Collector.log }

  node Collector {
    call collect
    inputs { string query = query }
    outputs { list log = append }
  }
}
`)
	require.NoError(t, err)
	require.Len(t, wf.Inputs, 2)
	assert.True(t, wf.Inputs[0].HasDefault)
	assert.Equal(t, "hi", wf.Inputs[0].DefaultValue.Str)
	assert.True(t, wf.Inputs[1].Optional)

	node := wf.Steps[0].Node
	require.Len(t, node.Outputs, 1)
	assert.Equal(t, ir.ReducerAppend, node.Outputs[0].Reducer)
}

func TestParseNodeWithConstantsRetryAndHitl(t *testing.T) {
	wf, err := parser.Parse(`
workflow WithHitl {
  inputs { string q }
  outputs { string a = Clarify.answer }

  node Clarify {
    call ask_human
    inputs { string q = q }
    outputs { string answer }
    constants { timeout_seconds: 30 }
    retry { attempts: 3, backoff: "5s", policy: "exponential" }
    hitl { questions: ["which?", "why?"] }
  }
}
`)
	require.NoError(t, err)
	node := wf.Steps[0].Node
	require.NotNil(t, node.Retry)
	assert.Equal(t, 3, node.Retry.Attempts)
	assert.Equal(t, "exponential", node.Retry.Policy)
	require.NotNil(t, node.Hitl)
	assert.Equal(t, []string{"which?", "why?"}, node.Hitl.Questions)
	assert.Equal(t, int64(30), node.Constants["timeout_seconds"].Int)
}

func TestParseCycleWithGuardAndMaxIterations(t *testing.T) {
	wf, err := parser.Parse(`
workflow WithCycle {
  inputs { string query }
  outputs { list chunks = Loop.chunks }

  cycle Loop {
    inputs { string query = query }
    outputs { list chunks = Retrieve.chunks }

    node Retrieve {
      call retrieve
      inputs { string query = query }
      outputs { list chunks }
    }

    guard Retrieve.chunks != None
    max_iterations 4
  }
}
`)
	require.NoError(t, err)
	require.Len(t, wf.Steps, 1)
	cycle := wf.Steps[0].Cycle
	require.NotNil(t, cycle)
	assert.Equal(t, "Loop", cycle.Name)
	assert.Equal(t, 4, cycle.MaxIterations)
	assert.Equal(t, "Retrieve.chunks != None", cycle.Guard)
}

func TestParseCycleDefaultsMaxIterationsToTen(t *testing.T) {
	wf, err := parser.Parse(`
workflow DefaultMax {
  inputs { string query }
  outputs { list chunks = Loop.chunks }

  cycle Loop {
    inputs { string query = query }
    outputs { list chunks = Retrieve.chunks }

    node Retrieve {
      call retrieve
      inputs { string query = query }
      outputs { list chunks }
    }

    guard true
  }
}
`)
	require.NoError(t, err)
	assert.Equal(t, 10, wf.Steps[0].Cycle.MaxIterations)
}

func TestParseRejectsNestedCycles(t *testing.T) {
	_, err := parser.Parse(`
workflow Nested {
  inputs { string query }
  outputs { list chunks = Outer.chunks }

  cycle Outer {
    inputs { string query = query }
    outputs { list chunks = Inner.chunks }

    cycle Inner {
      inputs { string query = query }
      outputs { list chunks = Retrieve.chunks }

      node Retrieve {
        call retrieve
        inputs { string query = query }
        outputs { list chunks }
      }

      guard true
    }

    guard true
  }
}
`)
	require.Error(t, err)
	var syn *awslerr.SyntaxError
	require.ErrorAs(t, err, &syn)
}

func TestParseRejectsMissingBrace(t *testing.T) {
	_, err := parser.Parse(`workflow Broken { inputs { string q }`)
	require.Error(t, err)
	var syn *awslerr.SyntaxError
	require.ErrorAs(t, err, &syn)
}

func TestParseRejectsTrailingContent(t *testing.T) {
	_, err := parser.Parse(`
workflow A {
  inputs { string q }
  outputs { string q2 = q }
}
garbage
`)
	require.Error(t, err)
}

func TestParseWhenGuardCapturesRawExpression(t *testing.T) {
	wf, err := parser.Parse(`
workflow WithWhen {
  inputs { bool flag }
  outputs { string out = N.out }

  node N {
    call f
    when flag == true
    inputs { bool flag = flag }
    outputs { string out }
  }
}
`)
	require.NoError(t, err)
	assert.Equal(t, "flag == true", wf.Steps[0].Node.When)
}
