package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
)

// InsertDeltas appends signed entry deltas to the history table. Rows are
// keyed by their outbox sequence, so a redelivered batch collapses into the
// rows it duplicates.
func (r *Repository) InsertDeltas(ctx context.Context, deltas []model.Delta) error {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("insert_deltas", err, start)
	}()

	if len(deltas) == 0 {
		return nil
	}

	const query = `
INSERT INTO netflow_deltas (
	seq,
	entry_key,
	block_height,
	block_hash,
	inflow,
	outflow,
	sign
) VALUES`

	batch, err := r.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare deltas batch: %w", err)
	}

	for _, d := range deltas {
		if err = batch.Append(
			d.Seq,
			d.Key,
			d.Block.Height,
			d.Block.Hash.Hex(),
			d.In.ToBig(),
			d.Out.ToBig(),
			d.Sign,
		); err != nil {
			return fmt.Errorf("append delta: %w", err)
		}
	}

	if err = batch.Send(); err != nil {
		return fmt.Errorf("insert deltas: %w", err)
	}
	return nil
}
