package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/madmag77/bpmn-workflows/internal/awsl/awslerr"
)

// Store persists workflow_runs rows and implements the claim protocol that
// gives at-most-one-worker-per-run concurrency (spec.md §4.5).
type Store interface {
	// Create inserts a new queued run.
	Create(ctx context.Context, graphName string, query map[string]any) (*RunModel, error)

	// Claim atomically picks the oldest queued run and transitions it to
	// running under workerID, or returns (nil, nil) if none is queued.
	Claim(ctx context.Context, workerID string) (*RunModel, error)

	// Heartbeat refreshes heartbeat_at for a running run.
	Heartbeat(ctx context.Context, id uuid.UUID) error

	// Get returns the current row, or (nil, nil) if id is unknown.
	Get(ctx context.Context, id uuid.UUID) (*RunModel, error)

	// Complete transitions a running run to succeeded, persisting result.
	Complete(ctx context.Context, id uuid.UUID, result map[string]any) error

	// NeedsInput transitions a running run to needs_input on interrupt,
	// persisting the partial result (which carries "__interrupt__").
	NeedsInput(ctx context.Context, id uuid.UUID, result map[string]any) error

	// Fail transitions a running run to failed, persisting the error.
	Fail(ctx context.Context, id uuid.UUID, message string) error

	// Resume sets resume_payload and flips a needs_input run back to
	// queued. Returns *awslerr.ResumeOnTerminalRun if the run isn't
	// needs_input.
	Resume(ctx context.Context, id uuid.UUID, payload map[string]any) error

	// Cancel marks a queued or running run canceled. Returns
	// *awslerr.ResumeOnTerminalRun-shaped error if already terminal.
	Cancel(ctx context.Context, id uuid.UUID) error

	// RequeueStale transitions every running row whose heartbeat_at is
	// older than olderThan back to queued, clearing worker_id, and
	// returns how many rows it rescued.
	RequeueStale(ctx context.Context, olderThan time.Time) (int, error)
}

// ErrUnknownRun is returned by state-changing Store methods when id has no
// matching row.
var ErrUnknownRun = awslerr.NewInvalidWorkflow("", "no run with that id")
