package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
	"github.com/goodnatureofminers/netflow-backend/pkg/safe"
	"github.com/jackc/pgx/v5"
)

// LoadState reads the committed segment, entries and cursor from one
// consistent snapshot.
func (r *Repository) LoadState(ctx context.Context) (model.State, error) {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("load_state", err, start)
	}()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		err = fmt.Errorf("begin load: %w", err)
		return model.State{}, err
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	var state model.State
	if state.Segment, err = loadSegment(ctx, tx); err != nil {
		return model.State{}, err
	}
	if state.Entries, err = loadEntries(ctx, tx); err != nil {
		return model.State{}, err
	}
	if state.Cursor, err = loadCursor(ctx, tx); err != nil {
		return model.State{}, err
	}
	return state, nil
}

func loadSegment(ctx context.Context, tx pgx.Tx) ([]model.SegmentBlock, error) {
	rows, err := tx.Query(ctx, `SELECT height, hash, parent_hash FROM chain_segment ORDER BY height`)
	if err != nil {
		return nil, fmt.Errorf("query segment: %w", err)
	}
	var (
		segment []model.SegmentBlock
		index   = make(map[common.Hash]int)
	)
	for rows.Next() {
		var (
			height       int64
			hash, parent []byte
		)
		if err := rows.Scan(&height, &hash, &parent); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan segment block: %w", err)
		}
		h, err := safe.Uint64(height)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("segment height: %w", err)
		}
		ref := model.BlockRef{Height: h, Hash: common.BytesToHash(hash), ParentHash: common.BytesToHash(parent)}
		index[ref.Hash] = len(segment)
		segment = append(segment, model.SegmentBlock{Ref: ref})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segment: %w", err)
	}

	rows, err = tx.Query(ctx, `
SELECT block_hash, log_index, tx_hash, tx_index, sender, recipient, amount::text
FROM segment_transfers
ORDER BY block_hash, log_index`)
	if err != nil {
		return nil, fmt.Errorf("query segment transfers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			blockHash, txHash, from, to []byte
			logIndex, txIndex           int64
			amount                      string
		)
		if err := rows.Scan(&blockHash, &logIndex, &txHash, &txIndex, &from, &to, &amount); err != nil {
			return nil, fmt.Errorf("scan segment transfer: %w", err)
		}
		i, ok := index[common.BytesToHash(blockHash)]
		if !ok {
			return nil, fmt.Errorf("transfer references unknown block %x", blockHash)
		}
		b := &segment[i]
		t := model.Transfer{
			BlockHeight: b.Ref.Height,
			BlockHash:   b.Ref.Hash,
			TxHash:      common.BytesToHash(txHash),
			TxIndex:     uint(txIndex),
			LogIndex:    uint(logIndex),
			From:        common.BytesToAddress(from),
			To:          common.BytesToAddress(to),
		}
		if err := t.Amount.SetFromDecimal(amount); err != nil {
			return nil, fmt.Errorf("parse transfer amount %q: %w", amount, err)
		}
		b.Transfers = append(b.Transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segment transfers: %w", err)
	}
	return segment, nil
}

func loadEntries(ctx context.Context, tx pgx.Tx) ([]model.Entry, error) {
	rows, err := tx.Query(ctx, `
SELECT entry_key, cumulative_in::text, cumulative_out::text
FROM netflow_entries
ORDER BY entry_key`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []model.Entry
	for rows.Next() {
		var key, in, out string
		if err := rows.Scan(&key, &in, &out); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e, err := model.EntryFromKey(key)
		if err != nil {
			return nil, fmt.Errorf("entry key: %w", err)
		}
		if err := e.In.SetFromDecimal(in); err != nil {
			return nil, fmt.Errorf("parse inflow of %s: %w", key, err)
		}
		if err := e.Out.SetFromDecimal(out); err != nil {
			return nil, fmt.Errorf("parse outflow of %s: %w", key, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

func loadCursor(ctx context.Context, tx pgx.Tx) (*model.BlockRef, error) {
	var (
		height       int64
		hash, parent []byte
	)
	err := tx.QueryRow(ctx, `SELECT height, hash, parent_hash FROM processing_cursor WHERE id = 1`).
		Scan(&height, &hash, &parent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cursor: %w", err)
	}
	h, err := safe.Uint64(height)
	if err != nil {
		return nil, fmt.Errorf("cursor height: %w", err)
	}
	return &model.BlockRef{Height: h, Hash: common.BytesToHash(hash), ParentHash: common.BytesToHash(parent)}, nil
}
