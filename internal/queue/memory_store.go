package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/madmag77/bpmn-workflows/internal/awsl/awslerr"
)

// MemoryStore is an in-process Store used by tests and by single-process
// deployments that don't need cross-process durability.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*RunModel
	seq  map[uuid.UUID]int64
	next int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: map[uuid.UUID]*RunModel{},
		seq:  map[uuid.UUID]int64{},
	}
}

func (m *MemoryStore) Create(_ context.Context, graphName string, query map[string]any) (*RunModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New()
	run := &RunModel{
		ID:        id,
		GraphName: graphName,
		ThreadID:  id.String(),
		State:     StateQueued,
		Query:     query,
		Attempt:   0,
		CreatedAt: time.Now(),
	}
	m.runs[id] = run
	m.next++
	m.seq[id] = m.next
	return cloneRun(run), nil
}

// Claim picks the oldest queued row by insertion order and transitions it to
// running, mirroring the FOR UPDATE SKIP LOCKED claim query's semantics
// under a single mutex instead of row locks.
func (m *MemoryStore) Claim(_ context.Context, workerID string) (*RunModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *RunModel
	var bestSeq int64
	for id, r := range m.runs {
		if r.State != StateQueued {
			continue
		}
		if best == nil || m.seq[id] < bestSeq {
			best = r
			bestSeq = m.seq[id]
		}
	}
	if best == nil {
		return nil, nil
	}

	now := time.Now()
	best.State = StateRunning
	best.WorkerID = &workerID
	best.Attempt++
	best.StartedAt = &now
	best.HeartbeatAt = &now
	return cloneRun(best), nil
}

func (m *MemoryStore) Heartbeat(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return ErrUnknownRun
	}
	now := time.Now()
	r.HeartbeatAt = &now
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*RunModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return nil, nil
	}
	return cloneRun(r), nil
}

func (m *MemoryStore) Complete(_ context.Context, id uuid.UUID, result map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return ErrUnknownRun
	}
	now := time.Now()
	r.State = StateSucceeded
	r.Result = result
	r.FinishedAt = &now
	return nil
}

func (m *MemoryStore) NeedsInput(_ context.Context, id uuid.UUID, result map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return ErrUnknownRun
	}
	r.State = StateNeedsInput
	r.Result = result
	return nil
}

func (m *MemoryStore) Fail(_ context.Context, id uuid.UUID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return ErrUnknownRun
	}
	now := time.Now()
	r.State = StateFailed
	r.Error = &message
	r.FinishedAt = &now
	return nil
}

func (m *MemoryStore) Resume(_ context.Context, id uuid.UUID, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return ErrUnknownRun
	}
	if r.State != StateNeedsInput {
		return awslerr.NewResumeOnTerminalRun(id.String(), string(r.State))
	}
	r.ResumePayload = payload
	r.State = StateQueued
	r.WorkerID = nil
	return nil
}

func (m *MemoryStore) Cancel(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return ErrUnknownRun
	}
	if r.State.IsTerminal() {
		return awslerr.NewResumeOnTerminalRun(id.String(), string(r.State))
	}
	now := time.Now()
	r.State = StateCanceled
	r.FinishedAt = &now
	return nil
}

func (m *MemoryStore) RequeueStale(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, r := range m.runs {
		if r.State != StateRunning {
			continue
		}
		if r.HeartbeatAt == nil || r.HeartbeatAt.Before(olderThan) {
			r.State = StateQueued
			r.WorkerID = nil
			n++
		}
	}
	return n, nil
}

// allByCreation returns a snapshot of every row ordered by insertion
// sequence.
func (m *MemoryStore) allByCreation() []*RunModel {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(m.runs))
	for id := range m.runs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return m.seq[ids[i]] < m.seq[ids[j]] })

	out := make([]*RunModel, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneRun(m.runs[id]))
	}
	return out
}

func cloneRun(r *RunModel) *RunModel {
	cp := *r
	return &cp
}
