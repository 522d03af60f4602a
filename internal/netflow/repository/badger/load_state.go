package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
)

// LoadState reads the committed segment, entries and cursor from one
// consistent snapshot.
func (r *Repository) LoadState(ctx context.Context) (model.State, error) {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("load_state", err, start)
	}()

	if err = ctx.Err(); err != nil {
		return model.State{}, err
	}

	var state model.State
	err = r.db.View(func(txn *badger.Txn) error {
		var err error
		if state.Segment, err = loadSegment(txn); err != nil {
			return err
		}
		if state.Entries, err = loadEntries(txn); err != nil {
			return err
		}
		state.Cursor, err = readCursor(txn)
		return err
	})
	if err != nil {
		return model.State{}, err
	}
	return state, nil
}

func loadSegment(txn *badger.Txn) ([]model.SegmentBlock, error) {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: segmentPrefix, PrefetchValues: true, PrefetchSize: 64})
	defer it.Close()

	var segment []model.SegmentBlock
	for it.Rewind(); it.ValidForPrefix(segmentPrefix); it.Next() {
		var rec segmentRecord
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return nil, fmt.Errorf("decode segment block: %w", err)
		}
		b, err := rec.segmentBlock()
		if err != nil {
			return nil, fmt.Errorf("segment block %d: %w", rec.Block.Height, err)
		}
		sort.SliceStable(b.Transfers, func(i, j int) bool {
			return b.Transfers[i].LogIndex < b.Transfers[j].LogIndex
		})
		segment = append(segment, b)
	}
	return segment, nil
}

func loadEntries(txn *badger.Txn) ([]model.Entry, error) {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: entryPrefix, PrefetchValues: true, PrefetchSize: 64})
	defer it.Close()

	var entries []model.Entry
	for it.Rewind(); it.ValidForPrefix(entryPrefix); it.Next() {
		item := it.Item()
		key := string(item.Key()[len(entryPrefix):])
		e, err := model.EntryFromKey(key)
		if err != nil {
			return nil, fmt.Errorf("entry key: %w", err)
		}
		var rec entryRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return nil, fmt.Errorf("decode entry %s: %w", key, err)
		}
		if err := e.In.SetFromDecimal(rec.In); err != nil {
			return nil, fmt.Errorf("parse inflow of %s: %w", key, err)
		}
		if err := e.Out.SetFromDecimal(rec.Out); err != nil {
			return nil, fmt.Errorf("parse outflow of %s: %w", key, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
