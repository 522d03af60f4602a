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
)

type deltaRecord struct {
	Key        string      `json:"key"`
	Height     uint64      `json:"height"`
	Hash       common.Hash `json:"hash"`
	ParentHash common.Hash `json:"parent_hash"`
	In         string      `json:"in"`
	Out        string      `json:"out"`
	Sign       int8        `json:"sign"`
}

func fromDeltas(deltas []model.Delta) []deltaRecord {
	out := make([]deltaRecord, 0, len(deltas))
	for _, d := range deltas {
		out = append(out, deltaRecord{
			Key:        d.Key,
			Height:     d.Block.Height,
			Hash:       d.Block.Hash,
			ParentHash: d.Block.ParentHash,
			In:         d.In.Dec(),
			Out:        d.Out.Dec(),
			Sign:       d.Sign,
		})
	}
	return out
}

func (r deltaRecord) delta(seq uint64) (model.Delta, error) {
	d := model.Delta{
		Seq:   seq,
		Key:   r.Key,
		Block: model.BlockRef{Height: r.Height, Hash: r.Hash, ParentHash: r.ParentHash},
		Sign:  r.Sign,
	}
	if err := d.In.SetFromDecimal(r.In); err != nil {
		return model.Delta{}, fmt.Errorf("parse delta inflow %q: %w", r.In, err)
	}
	if err := d.Out.SetFromDecimal(r.Out); err != nil {
		return model.Delta{}, fmt.Errorf("parse delta outflow %q: %w", r.Out, err)
	}
	return d, nil
}

// PendingHistory returns up to limit undelivered outbox batches in commit
// order.
func (r *Repository) PendingHistory(ctx context.Context, limit int) ([]model.OutboxBatch, error) {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("pending_history", err, start)
	}()

	rows, err := r.pool.Query(ctx, `
SELECT seq, cursor_height, cursor_hash, cursor_parent_hash, deltas
FROM history_outbox
ORDER BY seq
LIMIT $1`, limit)
	if err != nil {
		err = fmt.Errorf("query history outbox: %w", err)
		return nil, err
	}
	defer rows.Close()

	var out []model.OutboxBatch
	for rows.Next() {
		var (
			seq, height  int64
			hash, parent []byte
			raw          []byte
		)
		if err = rows.Scan(&seq, &height, &hash, &parent, &raw); err != nil {
			err = fmt.Errorf("scan history outbox: %w", err)
			return nil, err
		}
		var b model.OutboxBatch
		if b, err = outboxBatch(seq, height, hash, parent, raw); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("iterate history outbox: %w", err)
		return nil, err
	}
	return out, nil
}

func outboxBatch(seq, height int64, hash, parent, raw []byte) (model.OutboxBatch, error) {
	s, err := safe.Uint64(seq)
	if err != nil {
		return model.OutboxBatch{}, fmt.Errorf("outbox seq: %w", err)
	}
	h, err := safe.Uint64(height)
	if err != nil {
		return model.OutboxBatch{}, fmt.Errorf("outbox %d cursor height: %w", s, err)
	}
	var records []deltaRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return model.OutboxBatch{}, fmt.Errorf("decode outbox %d: %w", s, err)
	}

	b := model.OutboxBatch{
		Seq:    s,
		Cursor: model.BlockRef{Height: h, Hash: common.BytesToHash(hash), ParentHash: common.BytesToHash(parent)},
		Deltas: make([]model.Delta, 0, len(records)),
	}
	for _, rec := range records {
		d, err := rec.delta(s)
		if err != nil {
			return model.OutboxBatch{}, fmt.Errorf("outbox %d: %w", s, err)
		}
		b.Deltas = append(b.Deltas, d)
	}
	return b, nil
}

// AckHistory removes every outbox batch up to and including through and
// records its cursor as delivered.
func (r *Repository) AckHistory(ctx context.Context, through model.OutboxBatch) error {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("ack_history", err, start)
	}()

	seq, err := safe.Int64(through.Seq)
	if err != nil {
		err = fmt.Errorf("outbox seq: %w", err)
		return err
	}
	height, err := safe.Int64(through.Cursor.Height)
	if err != nil {
		err = fmt.Errorf("cursor height: %w", err)
		return err
	}

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM history_outbox WHERE seq <= $1`, seq); err != nil {
			return fmt.Errorf("delete delivered outbox: %w", err)
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO history_delivered (id, seq, height, hash, parent_hash)
VALUES (1, $1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET seq = EXCLUDED.seq,
    height = EXCLUDED.height,
    hash = EXCLUDED.hash,
    parent_hash = EXCLUDED.parent_hash`,
			seq, height, through.Cursor.Hash.Bytes(), through.Cursor.ParentHash.Bytes()); err != nil {
			return fmt.Errorf("record delivered history: %w", err)
		}
		return nil
	})
	return err
}

// DeliveredHistory returns the cursor of the last acknowledged batch, or nil
// when nothing has been delivered.
func (r *Repository) DeliveredHistory(ctx context.Context) (*model.BlockRef, error) {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("delivered_history", err, start)
	}()

	var (
		height       int64
		hash, parent []byte
	)
	err = r.pool.QueryRow(ctx, `SELECT height, hash, parent_hash FROM history_delivered WHERE id = 1`).
		Scan(&height, &hash, &parent)
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
		return nil, nil
	}
	if err != nil {
		err = fmt.Errorf("query delivered history: %w", err)
		return nil, err
	}
	h, err := safe.Uint64(height)
	if err != nil {
		err = fmt.Errorf("delivered height: %w", err)
		return nil, err
	}
	return &model.BlockRef{Height: h, Hash: common.BytesToHash(hash), ParentHash: common.BytesToHash(parent)}, nil
}
