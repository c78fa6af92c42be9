package queue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/madmag77/bpmn-workflows/internal/awsl/compile"
	"github.com/madmag77/bpmn-workflows/internal/awsl/engine"
	"github.com/madmag77/bpmn-workflows/internal/utils"
)

// PlanSource resolves a graph_name to its compiled Plan. A process registers
// every workflow it can run before starting a Pool.
type PlanSource interface {
	Plan(graphName string) (*compile.Plan, bool)
}

type staticPlanSource map[string]*compile.Plan

func NewStaticPlanSource(plans map[string]*compile.Plan) PlanSource {
	return staticPlanSource(plans)
}

func (s staticPlanSource) Plan(graphName string) (*compile.Plan, bool) {
	p, ok := s[graphName]
	return p, ok
}

// Pool is a fixed-size worker pool daemon: each worker polls Store.Claim,
// drives the matching Plan through the Engine, heartbeats while the run is
// in flight, and persists the outcome back to the Store (spec.md §5).
type Pool struct {
	Store             Store
	Engine            *engine.Engine
	Plans             PlanSource
	Workers           int
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	WorkerIDPrefix    string
}

// NewPool returns a Pool with the given collaborators; callers should set
// Workers/HeartbeatInterval/PollInterval from config before calling Run.
func NewPool(store Store, eng *engine.Engine, plans PlanSource) *Pool {
	return &Pool{
		Store:             store,
		Engine:            eng,
		Plans:             plans,
		Workers:           4,
		HeartbeatInterval: 10 * time.Second,
		PollInterval:      2 * time.Second,
		WorkerIDPrefix:    "worker",
	}
}

// Run starts Workers goroutines and blocks until ctx is canceled, then waits
// for every in-flight run to reach its next suspension point before
// returning (spec.md §5 graceful shutdown).
func (p *Pool) Run(ctx context.Context) {
	// Defends a Pool assembled as a struct literal (tests, ad-hoc wiring)
	// rather than via NewPool, where these fields are left at their zero
	// value instead of NewPool's defaults.
	p.Workers = utils.DefaultValue(p.Workers, 4)
	p.HeartbeatInterval = utils.DefaultValue(p.HeartbeatInterval, 10*time.Second)
	p.PollInterval = utils.DefaultValue(p.PollInterval, 2*time.Second)
	p.WorkerIDPrefix = utils.DefaultValue(p.WorkerIDPrefix, "worker")

	var wg sync.WaitGroup
	for i := 0; i < p.Workers; i++ {
		workerID := p.WorkerIDPrefix + "-" + strconv.Itoa(i)
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			p.loop(ctx, id)
		}(workerID)
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	logger := log.With().Str("worker_id", workerID).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		run, err := p.Store.Claim(ctx, workerID)
		if err != nil {
			logger.Error().Err(err).Msg("claim failed")
			if !sleep(ctx, p.PollInterval) {
				return
			}
			continue
		}
		if run == nil {
			if !sleep(ctx, p.PollInterval) {
				return
			}
			continue
		}

		p.execute(ctx, logger, run)
	}
}

func (p *Pool) execute(ctx context.Context, logger zerolog.Logger, run *RunModel) {
	plan, ok := p.Plans.Plan(run.GraphName)
	if !ok {
		_ = p.Store.Fail(ctx, run.ID, "no such graph: "+run.GraphName)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := make(chan struct{})
	var hbWg sync.WaitGroup
	hbWg.Add(1)
	go func() {
		defer hbWg.Done()
		p.heartbeatLoop(ctx, cancel, run.ID, stop)
	}()

	var (
		result *engine.Result
		err    error
	)
	if run.Attempt > 1 && run.ResumePayload != nil {
		result, err = p.Engine.Resume(runCtx, plan, run.ThreadID, run.ResumePayload)
	} else {
		result, err = p.Engine.Run(runCtx, plan, run.ThreadID, run.Query)
	}

	close(stop)
	hbWg.Wait()

	if err != nil {
		logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("run failed")
		_ = p.Store.Fail(ctx, run.ID, err.Error())
		return
	}

	switch {
	case result.Canceled:
		// Either the heartbeat loop saw the Store row in state=canceled,
		// or the pool is shutting down and the row is left running for
		// the reaper to requeue; nothing is persisted here.
	case result.Interrupted:
		if err := p.Store.NeedsInput(ctx, run.ID, result.Values); err != nil {
			logger.Error().Err(err).Msg("failed to persist needs_input")
		}
	default:
		if err := p.Store.Complete(ctx, run.ID, result.Values); err != nil {
			logger.Error().Err(err).Msg("failed to persist completion")
		}
	}
}

// heartbeatLoop refreshes heartbeat_at on a fixed interval and cancels the
// run's context the moment the Store row is observed canceled, implementing
// the cooperative-cancellation half of spec.md §5.
func (p *Pool) heartbeatLoop(ctx context.Context, cancelRun context.CancelFunc, runID uuid.UUID, stop <-chan struct{}) {
	ticker := time.NewTicker(p.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := p.Store.Heartbeat(ctx, runID); err != nil {
			continue
		}
		row, err := p.Store.Get(ctx, runID)
		if err == nil && row != nil && row.State == StateCanceled {
			cancelRun()
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
