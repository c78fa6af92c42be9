package parser

import (
	"strconv"
	"strings"

	"github.com/madmag77/bpmn-workflows/internal/awsl/awslerr"
	"github.com/madmag77/bpmn-workflows/internal/awsl/ir"
)

const defaultMaxIterations = 10

// Parser holds one token of lookahead over a lexer.
type parser struct {
	lx  *lexer
	cur token
}

// Parse tokenizes and parses AWSL source into a Workflow IR value, or
// returns a *awslerr.SyntaxError.
func Parse(src string) (wf *ir.Workflow, err error) {
	defer func() {
		if r := recover(); r != nil {
			if se, ok := r.(*awslerr.SyntaxError); ok {
				wf, err = nil, se
				return
			}
			panic(r)
		}
	}()

	p := &parser{lx: newLexer(src)}
	p.advance()
	return p.parseWorkflow(), nil
}

func (p *parser) advance() {
	p.cur = p.lx.next()
}

func (p *parser) pos() awslerr.Pos {
	return awslerr.Pos{Line: p.cur.line, Column: p.cur.column}
}

func (p *parser) fail(message string, expected ...string) {
	panic(awslerr.NewSyntaxError(p.pos(), message, expected...))
}

func (p *parser) expect(k tokenKind, what string) token {
	if p.cur.kind != k {
		p.fail("unexpected token "+describeToken(p.cur), what)
	}
	t := p.cur
	p.advance()
	return t
}

func describeToken(t token) string {
	if t.kind == tokEOF {
		return "<eof>"
	}
	return strconv.Quote(t.text)
}

// skipTerminators consumes any run of newline/semicolon/comma tokens.
func (p *parser) skipTerminators() {
	for p.cur.kind == tokNewline || p.cur.kind == tokSemi || p.cur.kind == tokComma {
		p.advance()
	}
}

func (p *parser) expectIdentText(text string) {
	if p.cur.kind != tokIdent || p.cur.text != text {
		p.fail("unexpected token "+describeToken(p.cur), text)
	}
	p.advance()
}

func (p *parser) atIdent(text string) bool {
	return p.cur.kind == tokIdent && p.cur.text == text
}

func (p *parser) parseWorkflow() *ir.Workflow {
	p.skipTerminators()
	p.expectIdentText("workflow")
	name := p.expect(tokIdent, "workflow name").text
	p.skipTerminators()
	p.expect(tokLBrace, "{")
	p.skipTerminators()

	wf := &ir.Workflow{Name: name, Metadata: map[string]string{}}

	for p.cur.kind != tokRBrace {
		switch {
		case p.atIdent("metadata"):
			wf.Metadata = p.parseMetadataBlock()
		case p.atIdent("inputs"):
			wf.Inputs = p.parsePortBlock()
		case p.atIdent("outputs"):
			wf.Outputs = p.parsePortBlock()
		case p.atIdent("node"):
			n := p.parseNodeBlock()
			wf.Steps = append(wf.Steps, ir.Step{Node: &n})
		case p.atIdent("cycle"):
			c := p.parseCycleBlock()
			wf.Steps = append(wf.Steps, ir.Step{Cycle: &c})
		default:
			p.fail("unexpected token "+describeToken(p.cur), "metadata", "inputs", "outputs", "node", "cycle")
		}
		p.skipTerminators()
	}
	p.expect(tokRBrace, "}")
	p.skipTerminators()
	if p.cur.kind != tokEOF {
		p.fail("unexpected trailing content after workflow block")
	}
	return wf
}

func (p *parser) parseMetadataBlock() map[string]string {
	p.advance() // 'metadata'
	p.skipTerminators()
	p.expect(tokLBrace, "{")
	p.skipTerminators()

	m := map[string]string{}
	for p.cur.kind != tokRBrace {
		key := p.expect(tokIdent, "metadata key").text
		p.expect(tokColon, ":")
		val := p.parseValue()
		m[key] = valueToString(val)
		p.skipTerminators()
	}
	p.expect(tokRBrace, "}")
	return m
}

// parsePortBlock parses an `inputs { ... }` or `outputs { ... }` block.
func (p *parser) parsePortBlock() []ir.Port {
	p.advance() // 'inputs' | 'outputs'
	p.skipTerminators()
	p.expect(tokLBrace, "{")
	p.skipTerminators()

	var ports []ir.Port
	for p.cur.kind != tokRBrace {
		ports = append(ports, p.parsePortDecl())
		p.skipTerminators()
	}
	p.expect(tokRBrace, "}")
	return ports
}

// parsePortDecl parses `TYPE NAME [= VALUE|append] [optional]`.
func (p *parser) parsePortDecl() ir.Port {
	typ := p.expect(tokIdent, "port type").text
	name := p.expect(tokIdent, "port name").text

	port := ir.Port{Type: typ, Name: name}

	if p.cur.kind == tokEquals {
		p.advance()
		if p.atIdent("append") {
			p.advance()
			port.Reducer = ir.ReducerAppend
		} else {
			port.HasDefault = true
			port.DefaultValue = p.parseValue()
		}
	}

	if p.atIdent("optional") {
		p.advance()
		port.Optional = true
	}

	return port
}

// parseValue parses a single scalar literal or (qualified) reference.
func (p *parser) parseValue() ir.Value {
	switch p.cur.kind {
	case tokString:
		v := ir.Value{Kind: "string", Str: p.cur.text}
		p.advance()
		return v
	case tokInt:
		n, _ := strconv.ParseInt(p.cur.text, 10, 64)
		v := ir.Value{Kind: "int", Int: n}
		p.advance()
		return v
	case tokFloat:
		f, _ := strconv.ParseFloat(p.cur.text, 64)
		v := ir.Value{Kind: "float", Float: f}
		p.advance()
		return v
	case tokDuration:
		v := ir.Value{Kind: "duration", Duration: p.cur.text}
		p.advance()
		return v
	case tokIdent:
		text := p.cur.text
		if text == "true" || text == "false" {
			v := ir.Value{Kind: "bool", Bool: text == "true"}
			p.advance()
			return v
		}
		p.advance()
		if p.cur.kind == tokDot {
			p.advance()
			port := p.expect(tokIdent, "port name").text
			return ir.Value{Kind: "qualified", Qualifier: text, Str: port}
		}
		return ir.Value{Kind: "ident", Str: text}
	default:
		p.fail("expected a value", "string", "number", "identifier", "duration")
		return ir.Value{}
	}
}

func valueToString(v ir.Value) string {
	switch v.Kind {
	case "string", "ident":
		return v.Str
	case "qualified":
		return v.Qualifier + "." + v.Str
	case "int":
		return strconv.FormatInt(v.Int, 10)
	case "float":
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case "bool":
		return strconv.FormatBool(v.Bool)
	case "duration":
		return v.Duration
	}
	return ""
}

// rawExprUntilTerminator captures raw source text from the current token's
// start up to (but not including) the next top-level newline, ';', or '}'.
// Expressions are free-form and parsed lazily by the evaluator (C2); the
// parser only slices out their text.
func (p *parser) rawExprUntilTerminator() string {
	src := p.lx.src
	start := p.cur.offset
	i := start
	depth := 0
	inStr := false
	for i < len(src) {
		r := src[i]
		if inStr {
			if r == '\\' && i+1 < len(src) {
				i += 2
				continue
			}
			if r == '"' {
				inStr = false
			}
			i++
			continue
		}
		switch r {
		case '"':
			inStr = true
		case '(':
			depth++
		case ')':
			depth--
		case '{':
			goto done
		case '}':
			goto done
		case ';':
			if depth <= 0 {
				goto done
			}
		case '\n':
			if depth <= 0 {
				goto done
			}
		}
		i++
	}
done:
	text := strings.TrimSpace(string(src[start:i]))
	p.lx.pos = i
	p.lx.recomputeLineCol(i)
	p.advance()
	return text
}

func (p *parser) parseNodeBlock() ir.Node {
	p.advance() // 'node'
	name := p.expect(tokIdent, "node name").text
	p.skipTerminators()
	p.expect(tokLBrace, "{")
	p.skipTerminators()

	n := ir.Node{Name: name}

	for p.cur.kind != tokRBrace {
		switch {
		case p.atIdent("call"):
			p.advance()
			n.Call = p.expect(tokIdent, "function name").text
		case p.atIdent("when"):
			p.advance()
			n.When = p.rawExprUntilTerminator()
		case p.atIdent("inputs"):
			n.Inputs = p.parsePortBlock()
		case p.atIdent("outputs"):
			n.Outputs = p.parsePortBlock()
		case p.atIdent("constants"):
			n.Constants = p.parseConstantsBlock()
		case p.atIdent("hitl"):
			h := p.parseHitlBlock()
			n.Hitl = &h
		case p.atIdent("retry"):
			r := p.parseRetryBlock()
			n.Retry = &r
		default:
			p.fail("unexpected token "+describeToken(p.cur), "call", "when", "inputs", "outputs", "constants", "hitl", "retry")
		}
		p.skipTerminators()
	}
	p.expect(tokRBrace, "}")
	return n
}

func (p *parser) parseConstantsBlock() map[string]ir.Value {
	p.advance() // 'constants'
	p.skipTerminators()
	p.expect(tokLBrace, "{")
	p.skipTerminators()

	m := map[string]ir.Value{}
	for p.cur.kind != tokRBrace {
		key := p.expect(tokIdent, "constant key").text
		p.expect(tokColon, ":")
		m[key] = p.parseValue()
		p.skipTerminators()
	}
	p.expect(tokRBrace, "}")
	return m
}

func (p *parser) parseStringList() []string {
	p.expect(tokLBrack, "[")
	p.skipTerminators()
	var out []string
	for p.cur.kind != tokRBrack {
		out = append(out, p.expect(tokString, "string").text)
		if p.cur.kind == tokComma {
			p.advance()
		}
		p.skipTerminators()
	}
	p.expect(tokRBrack, "]")
	return out
}

func (p *parser) parseHitlBlock() ir.HitlConfig {
	p.advance() // 'hitl'
	p.skipTerminators()
	p.expect(tokLBrace, "{")
	p.skipTerminators()

	h := ir.HitlConfig{Extra: map[string]ir.Value{}}
	for p.cur.kind != tokRBrace {
		key := p.expect(tokIdent, "hitl key").text
		p.expect(tokColon, ":")
		if key == "questions" {
			h.Questions = p.parseStringList()
		} else {
			h.Extra[key] = p.parseValue()
		}
		p.skipTerminators()
	}
	p.expect(tokRBrace, "}")
	return h
}

func (p *parser) parseRetryBlock() ir.RetryConfig {
	p.advance() // 'retry'
	p.skipTerminators()
	p.expect(tokLBrace, "{")
	p.skipTerminators()

	r := ir.RetryConfig{Policy: "fixed"}
	for p.cur.kind != tokRBrace {
		key := p.expect(tokIdent, "retry key").text
		p.expect(tokColon, ":")
		v := p.parseValue()
		switch key {
		case "attempts":
			r.Attempts = int(v.Int)
		case "backoff":
			r.Backoff = valueToString(v)
		case "policy":
			r.Policy = valueToString(v)
		}
		p.skipTerminators()
	}
	p.expect(tokRBrace, "}")
	return r
}

func (p *parser) parseCycleBlock() ir.Cycle {
	p.advance() // 'cycle'
	name := p.expect(tokIdent, "cycle name").text
	p.skipTerminators()
	p.expect(tokLBrace, "{")
	p.skipTerminators()

	c := ir.Cycle{Name: name, MaxIterations: defaultMaxIterations}

	for p.cur.kind != tokRBrace {
		switch {
		case p.atIdent("inputs"):
			c.Inputs = p.parsePortBlock()
		case p.atIdent("outputs"):
			c.Outputs = p.parsePortBlock()
		case p.atIdent("node"):
			c.Nodes = append(c.Nodes, p.parseNodeBlock())
		case p.atIdent("guard"):
			p.advance()
			c.Guard = p.rawExprUntilTerminator()
		case p.atIdent("max_iterations"):
			p.advance()
			v := p.parseValue()
			c.MaxIterations = int(v.Int)
		case p.atIdent("cycle"):
			p.fail("nested cycles are not permitted")
		default:
			p.fail("unexpected token "+describeToken(p.cur), "inputs", "outputs", "node", "guard", "max_iterations")
		}
		p.skipTerminators()
	}
	p.expect(tokRBrace, "}")
	return c
}
