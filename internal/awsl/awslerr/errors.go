// Package awslerr defines the typed error taxonomy used across the parser,
// compiler, engine, and queue.
package awslerr

import "fmt"

// Pos is a source position reported by the parser.
type Pos struct {
	Line   int
	Column int
}

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// SyntaxError is produced by C1 when AWSL source cannot be tokenized or
// parsed. Workflow load aborts on this error.
type SyntaxError struct {
	Pos      Pos
	Expected []string
	Message  string
}

func (e *SyntaxError) Error() string {
	if len(e.Expected) > 0 {
		return fmt.Sprintf("syntax error at %s: %s (expected one of %v)", e.Pos, e.Message, e.Expected)
	}
	return fmt.Sprintf("syntax error at %s: %s", e.Pos, e.Message)
}

// NewSyntaxError builds a SyntaxError.
func NewSyntaxError(pos Pos, message string, expected ...string) *SyntaxError {
	return &SyntaxError{Pos: pos, Message: message, Expected: expected}
}

// InvalidWorkflow is produced by C3 when the IR fails a compile-time
// invariant: missing references, zero or multiple sinks, duplicate names.
// Nested cycles never reach C3; the parser rejects them as a SyntaxError.
type InvalidWorkflow struct {
	Offending string
	Message   string
}

func (e *InvalidWorkflow) Error() string {
	return fmt.Sprintf("invalid workflow: %s: %s", e.Offending, e.Message)
}

// NewInvalidWorkflow builds an InvalidWorkflow error.
func NewInvalidWorkflow(offending, message string) *InvalidWorkflow {
	return &InvalidWorkflow{Offending: offending, Message: message}
}

// FunctionNotProvided is produced by C4 when a node's `call` has no entry
// in the function registry. The run fails immediately.
type FunctionNotProvided struct {
	NodeName string
	Call     string
}

func (e *FunctionNotProvided) Error() string {
	return fmt.Sprintf("function %q for node %q is not registered", e.Call, e.NodeName)
}

// NewFunctionNotProvided builds a FunctionNotProvided error.
func NewFunctionNotProvided(nodeName, call string) *FunctionNotProvided {
	return &FunctionNotProvided{NodeName: nodeName, Call: call}
}

// NodeBodyError wraps an error raised by a user function. It is subject to
// the node's retry policy; once retries are exhausted it is fatal to the run.
type NodeBodyError struct {
	NodeName string
	Attempt  int
	Cause    error
}

func (e *NodeBodyError) Error() string {
	return fmt.Sprintf("node %q failed (attempt %d): %v", e.NodeName, e.Attempt, e.Cause)
}

func (e *NodeBodyError) Unwrap() error { return e.Cause }

// NewNodeBodyError builds a NodeBodyError.
func NewNodeBodyError(nodeName string, attempt int, cause error) *NodeBodyError {
	return &NodeBodyError{NodeName: nodeName, Attempt: attempt, Cause: cause}
}

// ClaimLost indicates a run marked `running` whose worker vanished; eligible
// for requeue by the reaper.
type ClaimLost struct {
	RunID    string
	WorkerID string
}

func (e *ClaimLost) Error() string {
	return fmt.Sprintf("claim lost for run %s (worker %s)", e.RunID, e.WorkerID)
}

// StaleHeartbeat indicates a running row whose heartbeat_at exceeds the
// reaper's stale threshold.
type StaleHeartbeat struct {
	RunID         string
	LastHeartbeat string
}

func (e *StaleHeartbeat) Error() string {
	return fmt.Sprintf("stale heartbeat for run %s (last seen %s)", e.RunID, e.LastHeartbeat)
}

// ResumeOnTerminalRun is surfaced to the HTTP caller (400) when a resume is
// attempted against a run that is not in needs_input.
type ResumeOnTerminalRun struct {
	RunID string
	State string
}

func (e *ResumeOnTerminalRun) Error() string {
	return fmt.Sprintf("run %s cannot be resumed from state %q", e.RunID, e.State)
}

// NewResumeOnTerminalRun builds a ResumeOnTerminalRun error.
func NewResumeOnTerminalRun(runID, state string) *ResumeOnTerminalRun {
	return &ResumeOnTerminalRun{RunID: runID, State: state}
}
