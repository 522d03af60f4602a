package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
	"github.com/goodnatureofminers/netflow-backend/pkg/safe"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// CommitBlock atomically records a processed block: undone blocks are removed,
// the block and its journaled transfers are appended, entries and the cursor
// are upserted, history is queued and the segment is pruned. A replayed block
// yields model.ErrAlreadyApplied and changes nothing.
func (r *Repository) CommitBlock(ctx context.Context, c model.Commit) error {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("commit_block", err, start)
	}()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		err = &model.PersistenceError{Op: "begin commit", Err: err}
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = checkCommit(ctx, tx, c); err != nil {
		return err
	}

	for _, undo := range c.Undo {
		var tag pgconn.CommandTag
		tag, err = tx.Exec(ctx, `DELETE FROM chain_segment WHERE hash = $1`, undo.Hash.Bytes())
		if err != nil {
			err = &model.PersistenceError{Op: "delete undone block", Err: err}
			return err
		}
		if tag.RowsAffected() != 1 {
			err = fmt.Errorf("undo block %s: block is not recorded: %w", undo, model.ErrGap)
			return err
		}
	}

	batch, err := commitBatch(c)
	if err != nil {
		return err
	}
	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err = results.Exec(); err != nil {
			_ = results.Close()
			err = writeError("write block", err)
			return err
		}
	}
	if err = results.Close(); err != nil {
		err = &model.PersistenceError{Op: "close batch", Err: err}
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		err = writeError("commit", err)
		return err
	}
	return nil
}

// writeError keeps failures that would recur on every retry of the same
// commit out of the retryable PersistenceError class: data exceptions (22),
// integrity violations (23) and program limits (54).
func writeError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code[:2] {
		case "22", "23", "54":
			return fmt.Errorf("%s: %w: %w", op, model.ErrCommitRejected, err)
		}
	}
	return &model.PersistenceError{Op: op, Err: err}
}

func checkCommit(ctx context.Context, tx pgx.Tx, c model.Commit) error {
	block := c.Block.Ref

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chain_segment WHERE hash = $1)`, block.Hash.Bytes(),
	).Scan(&exists); err != nil {
		return &model.PersistenceError{Op: "check block", Err: err}
	}
	if exists {
		return fmt.Errorf("commit block %s: %w", block, model.ErrAlreadyApplied)
	}

	var cursorHeight int64
	err := tx.QueryRow(ctx, `SELECT height FROM processing_cursor WHERE id = 1`).Scan(&cursorHeight)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil
	case err != nil:
		return &model.PersistenceError{Op: "read cursor", Err: err}
	}
	height, err := safe.Int64(block.Height)
	if err != nil {
		return fmt.Errorf("block height: %w", err)
	}
	if len(c.Undo) == 0 && height <= cursorHeight {
		return fmt.Errorf("commit block %s at or below cursor %d: %w", block, cursorHeight, model.ErrAlreadyApplied)
	}

	var parent []byte
	err = tx.QueryRow(ctx, `SELECT hash FROM chain_segment WHERE height = $1`, height-1).Scan(&parent)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil
	case err != nil:
		return &model.PersistenceError{Op: "read parent", Err: err}
	}
	recorded := common.BytesToHash(parent)
	if recorded != block.ParentHash {
		return fmt.Errorf("block %s does not link to recorded parent %s: %w", block, recorded, model.ErrGap)
	}
	return nil
}

func commitBatch(c model.Commit) (*pgx.Batch, error) {
	block := c.Block.Ref
	height, err := safe.Int64(block.Height)
	if err != nil {
		return nil, fmt.Errorf("block height: %w", err)
	}
	cursorHeight, err := safe.Int64(c.Cursor.Height)
	if err != nil {
		return nil, fmt.Errorf("cursor height: %w", err)
	}
	pruneBelow, err := safe.Int64(c.PruneBelow)
	if err != nil {
		return nil, fmt.Errorf("prune height: %w", err)
	}

	batch := &pgx.Batch{}
	batch.Queue(`
INSERT INTO chain_segment (height, hash, parent_hash)
VALUES ($1, $2, $3)`, height, block.Hash.Bytes(), block.ParentHash.Bytes())

	for _, t := range c.Block.Transfers {
		batch.Queue(`
INSERT INTO segment_transfers (block_hash, log_index, tx_hash, tx_index, sender, recipient, amount)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric)`,
			block.Hash.Bytes(),
			int64(t.LogIndex),
			t.TxHash.Bytes(),
			int64(t.TxIndex),
			t.From.Bytes(),
			t.To.Bytes(),
			t.Amount.Dec(),
		)
	}

	for _, e := range c.Entries {
		batch.Queue(`
INSERT INTO netflow_entries (entry_key, cumulative_in, cumulative_out, updated_height)
VALUES ($1, $2::numeric, $3::numeric, $4)
ON CONFLICT (entry_key) DO UPDATE
SET cumulative_in = EXCLUDED.cumulative_in,
    cumulative_out = EXCLUDED.cumulative_out,
    updated_height = EXCLUDED.updated_height`,
			e.Key(), e.In.Dec(), e.Out.Dec(), height)
	}

	batch.Queue(`
INSERT INTO processing_cursor (id, height, hash, parent_hash)
VALUES (1, $1, $2, $3)
ON CONFLICT (id) DO UPDATE
SET height = EXCLUDED.height,
    hash = EXCLUDED.hash,
    parent_hash = EXCLUDED.parent_hash`,
		cursorHeight, c.Cursor.Hash.Bytes(), c.Cursor.ParentHash.Bytes())

	if c.RecordHistory {
		deltas, err := json.Marshal(fromDeltas(c.Deltas))
		if err != nil {
			return nil, fmt.Errorf("encode history deltas: %w", err)
		}
		batch.Queue(`
INSERT INTO history_outbox (cursor_height, cursor_hash, cursor_parent_hash, deltas)
VALUES ($1, $2, $3, $4::jsonb)`, cursorHeight, c.Cursor.Hash.Bytes(), c.Cursor.ParentHash.Bytes(), string(deltas))
	}

	if pruneBelow > 0 {
		batch.Queue(`DELETE FROM chain_segment WHERE height < $1`, pruneBelow)
	}
	return batch, nil
}
