// Package queue implements the durable run queue (C5): a relational
// workflow_runs table, a claim protocol giving at-most-one-worker-per-run
// concurrency, heartbeating, the run state machine, and resume payload
// handoff.
package queue

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// State is a workflow run's lifecycle stage (spec.md §3).
type State string

const (
	StateQueued     State = "queued"
	StateRunning    State = "running"
	StateNeedsInput State = "needs_input"
	StateFailed     State = "failed"
	StateSucceeded  State = "succeeded"
	StateCanceled   State = "canceled"
)

// IsTerminal reports whether no further state transition is possible.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCanceled
}

// RunModel is the workflow_runs row (spec.md §3 Run Record).
type RunModel struct {
	bun.BaseModel `bun:"table:workflow_runs,alias:r"`

	ID        uuid.UUID `bun:"id,pk"`
	GraphName string    `bun:"graph_name,notnull"`
	// ThreadID always equals ID.String(); stored denormalized because the
	// engine's Checkpointer is keyed by the string form, not the uuid.
	ThreadID string `bun:"thread_id,notnull"`

	State State `bun:"state,notnull"`

	Query         map[string]any `bun:"query,type:jsonb"`
	Result        map[string]any `bun:"result,type:jsonb"`
	Error         *string        `bun:"error"`
	ResumePayload map[string]any `bun:"resume_payload,type:jsonb"`

	WorkerID *string `bun:"worker_id"`
	Attempt  int     `bun:"attempt,notnull,default:0"`

	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	StartedAt   *time.Time `bun:"started_at"`
	HeartbeatAt *time.Time `bun:"heartbeat_at"`
	FinishedAt  *time.Time `bun:"finished_at"`
}
