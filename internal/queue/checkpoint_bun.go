package queue

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"

	"github.com/madmag77/bpmn-workflows/internal/awsl/engine"
)

// CheckpointModel is the workflow_checkpoints row backing BunCheckpointer.
// One row per thread_id; the engine calls Save when a run is interrupted,
// and each Save overwrites the row.
type CheckpointModel struct {
	bun.BaseModel `bun:"table:workflow_checkpoints,alias:c"`

	ThreadID        string         `bun:"thread_id,pk"`
	State           map[string]any `bun:"state,type:jsonb"`
	Fired           map[string]any `bun:"fired,type:jsonb"`
	InterruptedNode string         `bun:"interrupted_node"`
	UpdatedAt       time.Time      `bun:"updated_at,notnull,default:current_timestamp"`
}

// BunCheckpointer persists engine.Snapshot to Postgres so an interrupted
// run can be resumed by a worker process other than the one that ran it.
type BunCheckpointer struct {
	db *bun.DB
}

func NewBunCheckpointer(db *bun.DB) *BunCheckpointer {
	return &BunCheckpointer{db: db}
}

func (c *BunCheckpointer) InitSchema(ctx context.Context) error {
	_, err := c.db.NewCreateTable().Model((*CheckpointModel)(nil)).IfNotExists().Exec(ctx)
	return err
}

func (c *BunCheckpointer) Save(ctx context.Context, threadID string, snap engine.Snapshot) error {
	fired := make(map[string]any, len(snap.Fired))
	for k, v := range snap.Fired {
		fired[k] = v
	}
	model := &CheckpointModel{
		ThreadID:        threadID,
		State:           snap.State,
		Fired:           fired,
		InterruptedNode: snap.InterruptedNode,
	}
	_, err := c.db.NewInsert().Model(model).
		On("CONFLICT (thread_id) DO UPDATE").
		Set("state = EXCLUDED.state").
		Set("fired = EXCLUDED.fired").
		Set("interrupted_node = EXCLUDED.interrupted_node").
		Set("updated_at = now()").
		Exec(ctx)
	return err
}

func (c *BunCheckpointer) Load(ctx context.Context, threadID string) (engine.Snapshot, bool, error) {
	model := new(CheckpointModel)
	err := c.db.NewSelect().Model(model).Where("thread_id = ?", threadID).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return engine.Snapshot{}, false, nil
		}
		return engine.Snapshot{}, false, err
	}

	fired := make(map[string]bool, len(model.Fired))
	for k, v := range model.Fired {
		if b, ok := v.(bool); ok {
			fired[k] = b
		}
	}
	return engine.Snapshot{
		State:           model.State,
		Fired:           fired,
		InterruptedNode: model.InterruptedNode,
	}, true, nil
}
