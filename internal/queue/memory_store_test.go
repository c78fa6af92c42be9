package queue_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madmag77/bpmn-workflows/internal/awsl/awslerr"
	"github.com/madmag77/bpmn-workflows/internal/queue"
)

func TestCreateStartsQueued(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()

	run, err := store.Create(ctx, "Linear", map[string]any{"query": "hi"})
	require.NoError(t, err)
	assert.Equal(t, queue.StateQueued, run.State)
	assert.Equal(t, run.ID.String(), run.ThreadID)
	assert.Equal(t, 0, run.Attempt)
}

func TestClaimTransitionsToRunningAndIncrementsAttempt(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()

	created, err := store.Create(ctx, "Linear", nil)
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, created.ID, claimed.ID)
	assert.Equal(t, queue.StateRunning, claimed.State)
	assert.Equal(t, 1, claimed.Attempt)
	require.NotNil(t, claimed.WorkerID)
	assert.Equal(t, "worker-1", *claimed.WorkerID)
	require.NotNil(t, claimed.HeartbeatAt)
}

func TestClaimReturnsNilWhenNothingQueued(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()

	run, err := store.Claim(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestClaimPicksOldestFirst(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()

	first, err := store.Create(ctx, "Linear", nil)
	require.NoError(t, err)
	_, err = store.Create(ctx, "Linear", nil)
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimed.ID)
}

func TestHeartbeatUpdatesHeartbeatAt(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()

	created, _ := store.Create(ctx, "Linear", nil)
	claimed, _ := store.Claim(ctx, "worker-1")
	require.Equal(t, created.ID, claimed.ID)

	time.Sleep(time.Millisecond)
	require.NoError(t, store.Heartbeat(ctx, claimed.ID))

	row, err := store.Get(ctx, claimed.ID)
	require.NoError(t, err)
	assert.True(t, row.HeartbeatAt.After(*claimed.HeartbeatAt) || row.HeartbeatAt.Equal(*claimed.HeartbeatAt))
}

func TestCompleteTransitionsToSucceeded(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()

	created, _ := store.Create(ctx, "Linear", nil)
	_, _ = store.Claim(ctx, "worker-1")

	require.NoError(t, store.Complete(ctx, created.ID, map[string]any{"final_answer": "ok"}))

	row, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StateSucceeded, row.State)
	assert.Equal(t, "ok", row.Result["final_answer"])
	require.NotNil(t, row.FinishedAt)
}

func TestNeedsInputThenResumeRequeues(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()

	created, _ := store.Create(ctx, "HitlFlow", nil)
	_, _ = store.Claim(ctx, "worker-1")

	require.NoError(t, store.NeedsInput(ctx, created.ID, map[string]any{"__interrupt__": "question?"}))

	row, _ := store.Get(ctx, created.ID)
	assert.Equal(t, queue.StateNeedsInput, row.State)

	require.NoError(t, store.Resume(ctx, created.ID, map[string]any{"answer": "42"}))

	row, _ = store.Get(ctx, created.ID)
	assert.Equal(t, queue.StateQueued, row.State)
	assert.Nil(t, row.WorkerID)
	assert.Equal(t, "42", row.ResumePayload["answer"])

	reclaimed, err := store.Claim(ctx, "worker-2")
	require.NoError(t, err)
	assert.Equal(t, created.ID, reclaimed.ID)
	assert.Equal(t, 2, reclaimed.Attempt)
}

func TestResumeOnNonNeedsInputRunFails(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()

	created, _ := store.Create(ctx, "Linear", nil)

	err := store.Resume(ctx, created.ID, map[string]any{"answer": "x"})
	require.Error(t, err)
	var terminal *awslerr.ResumeOnTerminalRun
	require.ErrorAs(t, err, &terminal)
}

func TestCancelFromQueuedSucceeds(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()

	created, _ := store.Create(ctx, "Linear", nil)
	require.NoError(t, store.Cancel(ctx, created.ID))

	row, _ := store.Get(ctx, created.ID)
	assert.Equal(t, queue.StateCanceled, row.State)
}

func TestCancelOnTerminalRunFails(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()

	created, _ := store.Create(ctx, "Linear", nil)
	require.NoError(t, store.Complete(ctx, created.ID, nil))

	err := store.Cancel(ctx, created.ID)
	require.Error(t, err)
}

func TestRequeueStaleRescuesRunningRowsPastThreshold(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()

	created, _ := store.Create(ctx, "Linear", nil)
	_, _ = store.Claim(ctx, "worker-1")

	n, err := store.RequeueStale(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	row, _ := store.Get(ctx, created.ID)
	assert.Equal(t, queue.StateQueued, row.State)
	assert.Nil(t, row.WorkerID)
}

// TestConcurrentClaimsNeverDoubleAssign covers spec.md §8 scenario 6: many
// workers hammering Claim concurrently against a fixed set of queued runs
// must each land on a distinct run, and a claim attempt against an empty
// queue must return promptly with no row.
func TestConcurrentClaimsNeverDoubleAssign(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()

	const numRuns = 3
	ids := make(map[string]bool, numRuns)
	for i := 0; i < numRuns; i++ {
		run, err := store.Create(ctx, "Linear", nil)
		require.NoError(t, err)
		ids[run.ID.String()] = true
	}

	const numWorkers = 4 // one more worker than runs
	var (
		mu      sync.Mutex
		claimed []string
		wg      sync.WaitGroup
	)
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func(idx int) {
			defer wg.Done()
			run, err := store.Claim(ctx, "worker-"+strconv.Itoa(idx))
			assert.NoError(t, err)
			if run != nil {
				mu.Lock()
				claimed = append(claimed, run.ID.String())
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, claimed, numRuns)
	seen := map[string]bool{}
	for _, id := range claimed {
		assert.True(t, ids[id])
		assert.False(t, seen[id], "run %s claimed twice", id)
		seen[id] = true
	}

	extra, err := store.Claim(ctx, "worker-extra")
	require.NoError(t, err)
	assert.Nil(t, extra)
}
