package queue

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/madmag77/bpmn-workflows/internal/awsl/awslerr"
)

// BunStore is the Postgres-backed Store (spec.md §3/§4.5).
type BunStore struct {
	db *bun.DB
}

func NewBunStore(dsn string) *BunStore {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return &BunStore{db: db}
}

func (s *BunStore) InitSchema(ctx context.Context) error {
	_, err := s.db.NewCreateTable().Model((*RunModel)(nil)).IfNotExists().Exec(ctx)
	return err
}

// DB exposes the underlying bun.DB so collaborators sharing the same
// connection pool (e.g. BunCheckpointer) can be constructed from one Store.
func (s *BunStore) DB() *bun.DB {
	return s.db
}

func (s *BunStore) Create(ctx context.Context, graphName string, query map[string]any) (*RunModel, error) {
	id := uuid.New()
	model := &RunModel{
		ID:        id,
		GraphName: graphName,
		ThreadID:  id.String(),
		State:     StateQueued,
		Query:     query,
		Attempt:   0,
	}
	_, err := s.db.NewInsert().Model(model).Exec(ctx)
	if err != nil {
		return nil, err
	}
	return model, nil
}

// Claim atomically selects the oldest queued row, skipping rows locked by a
// concurrent claimant, and flips it to running. The plain bun query builder
// has no expression for "UPDATE ... FROM (SELECT ... FOR UPDATE SKIP LOCKED)
// RETURNING *", so the claim uses a raw CTE query instead (see spec.md
// §4.5).
func (s *BunStore) Claim(ctx context.Context, workerID string) (*RunModel, error) {
	model := new(RunModel)
	err := s.db.NewRaw(`
		WITH candidate AS (
			SELECT id
			FROM workflow_runs
			WHERE state = ?
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE workflow_runs AS r
		SET state = ?,
		    worker_id = ?,
		    attempt = r.attempt + 1,
		    started_at = now(),
		    heartbeat_at = now()
		FROM candidate
		WHERE r.id = candidate.id
		RETURNING r.*
	`, StateQueued, StateRunning, workerID).Scan(ctx, model)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return model, nil
}

func (s *BunStore) Heartbeat(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.NewUpdate().Model((*RunModel)(nil)).
		Set("heartbeat_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	return checkRowsAffected(res, err)
}

func (s *BunStore) Get(ctx context.Context, id uuid.UUID) (*RunModel, error) {
	model := new(RunModel)
	err := s.db.NewSelect().Model(model).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return model, nil
}

func (s *BunStore) Complete(ctx context.Context, id uuid.UUID, result map[string]any) error {
	res, err := s.db.NewUpdate().Model((*RunModel)(nil)).
		Set("state = ?", StateSucceeded).
		Set("result = ?", result).
		Set("finished_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	return checkRowsAffected(res, err)
}

func (s *BunStore) NeedsInput(ctx context.Context, id uuid.UUID, result map[string]any) error {
	res, err := s.db.NewUpdate().Model((*RunModel)(nil)).
		Set("state = ?", StateNeedsInput).
		Set("result = ?", result).
		Where("id = ?", id).
		Exec(ctx)
	return checkRowsAffected(res, err)
}

func (s *BunStore) Fail(ctx context.Context, id uuid.UUID, message string) error {
	res, err := s.db.NewUpdate().Model((*RunModel)(nil)).
		Set("state = ?", StateFailed).
		Set("error = ?", message).
		Set("finished_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	return checkRowsAffected(res, err)
}

func (s *BunStore) Resume(ctx context.Context, id uuid.UUID, payload map[string]any) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		model := new(RunModel)
		if err := tx.NewSelect().Model(model).Where("id = ?", id).For("UPDATE").Scan(ctx); err != nil {
			if err == sql.ErrNoRows {
				return ErrUnknownRun
			}
			return err
		}
		if model.State != StateNeedsInput {
			return awslerr.NewResumeOnTerminalRun(id.String(), string(model.State))
		}
		_, err := tx.NewUpdate().Model((*RunModel)(nil)).
			Set("state = ?", StateQueued).
			Set("resume_payload = ?", payload).
			Set("worker_id = NULL").
			Where("id = ?", id).
			Exec(ctx)
		return err
	})
}

func (s *BunStore) Cancel(ctx context.Context, id uuid.UUID) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		model := new(RunModel)
		if err := tx.NewSelect().Model(model).Where("id = ?", id).For("UPDATE").Scan(ctx); err != nil {
			if err == sql.ErrNoRows {
				return ErrUnknownRun
			}
			return err
		}
		if model.State.IsTerminal() {
			return awslerr.NewResumeOnTerminalRun(id.String(), string(model.State))
		}
		_, err := tx.NewUpdate().Model((*RunModel)(nil)).
			Set("state = ?", StateCanceled).
			Set("finished_at = now()").
			Where("id = ?", id).
			Exec(ctx)
		return err
	})
}

func (s *BunStore) RequeueStale(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.NewUpdate().Model((*RunModel)(nil)).
		Set("state = ?", StateQueued).
		Set("worker_id = NULL").
		Where("state = ?", StateRunning).
		Where("heartbeat_at < ? OR heartbeat_at IS NULL", olderThan).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *BunStore) Close() error {
	return s.db.Close()
}

func checkRowsAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUnknownRun
	}
	return nil
}
