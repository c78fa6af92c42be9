// Command worker runs the durable run-queue worker pool daemon: it loads
// every .awsl file in a workflows directory, compiles it once, and spawns
// WORKERS goroutines that claim, execute, and persist runs against a
// Postgres-backed queue.Store (spec.md §5), grounded on
// original_source/worker/worker_pool.py.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/madmag77/bpmn-workflows/internal/awsl/builtin"
	"github.com/madmag77/bpmn-workflows/internal/awsl/compile"
	"github.com/madmag77/bpmn-workflows/internal/awsl/engine"
	"github.com/madmag77/bpmn-workflows/internal/awsl/node"
	"github.com/madmag77/bpmn-workflows/internal/awsl/parser"
	"github.com/madmag77/bpmn-workflows/internal/config"
	"github.com/madmag77/bpmn-workflows/internal/infrastructure/logger"
	"github.com/madmag77/bpmn-workflows/internal/queue"
)

func main() {
	cfg := config.Load()
	logger.Setup(cfg.LogLevel)

	workflowsDir := os.Getenv("WORKFLOWS_DIR")
	if workflowsDir == "" {
		workflowsDir = "./workflows"
	}

	plans, err := loadPlans(workflowsDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", workflowsDir).Msg("failed to load workflows")
	}
	log.Info().Int("count", len(plans)).Str("dir", workflowsDir).Msg("loaded workflows")

	registry := node.NewRegistry()
	registerBuiltins(registry)

	store := queue.NewBunStore(cfg.DatabaseDSN)
	ctx := context.Background()
	if err := store.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize workflow_runs schema")
	}

	checkpointer := queue.NewBunCheckpointer(store.DB())
	if err := checkpointer.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize workflow_checkpoints schema")
	}

	eng := engine.New(registry, checkpointer)
	eng.RecursionLimit = cfg.RecursionLimit

	pool := queue.NewPool(store, eng, queue.NewStaticPlanSource(plans))
	pool.Workers = cfg.Workers
	pool.HeartbeatInterval = cfg.HeartbeatInterval
	pool.PollInterval = cfg.PollInterval
	pool.WorkerIDPrefix = "w" + uuid.New().String()[:8]

	runCtx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("shutting down worker pool")
		cancel()
	}()

	log.Info().Int("workers", pool.Workers).Msg("worker pool starting")
	pool.Run(runCtx)
	log.Info().Msg("worker pool exited")
}

func loadPlans(dir string) (map[string]*compile.Plan, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	plans := map[string]*compile.Plan{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".awsl" {
			continue
		}
		src, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		wf, err := parser.Parse(string(src))
		if err != nil {
			return nil, err
		}
		plan, err := compile.Compile(wf)
		if err != nil {
			return nil, err
		}
		plans[plan.WorkflowName] = plan
	}
	return plans, nil
}

func registerBuiltins(registry node.Registry) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	registry.MustRegister("llm_complete", builtin.NewLLMComplete(apiKey).Func())
	registry.MustRegister("echo", builtin.Echo)
	registry.MustRegister("json_parse", builtin.JSONParse)
}
