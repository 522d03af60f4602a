package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
)

// CommitBlock writes a processed block, its undo set, changed entries, the
// cursor, queued history and pruning in a single Badger transaction. A replayed block yields
// model.ErrAlreadyApplied and changes nothing.
func (r *Repository) CommitBlock(ctx context.Context, c model.Commit) error {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("commit_block", err, start)
	}()

	if err = ctx.Err(); err != nil {
		return err
	}

	txn := r.db.NewTransaction(true)
	defer txn.Discard()

	if err = writeCommit(txn, c); err != nil {
		return err
	}
	if err = txn.Commit(); err != nil {
		err = writeError("commit", err)
		return err
	}
	return nil
}

func writeCommit(txn *badger.Txn, c model.Commit) error {
	block := c.Block.Ref

	switch _, err := txn.Get(hashKey(block.Hash)); {
	case err == nil:
		return fmt.Errorf("commit block %s: %w", block, model.ErrAlreadyApplied)
	case !errors.Is(err, badger.ErrKeyNotFound):
		return &model.PersistenceError{Op: "check block", Err: err}
	}

	cursor, err := readCursor(txn)
	if err != nil {
		return err
	}
	if cursor != nil && len(c.Undo) == 0 && block.Height <= cursor.Height {
		return fmt.Errorf("commit block %s at or below cursor %d: %w", block, cursor.Height, model.ErrAlreadyApplied)
	}

	for _, undo := range c.Undo {
		if err := deleteBlock(txn, undo); err != nil {
			return err
		}
	}

	if block.Height > 0 {
		parent, ok, err := readSegment(txn, block.Height-1)
		if err != nil {
			return err
		}
		if ok && parent.Block.Hash != block.ParentHash {
			return fmt.Errorf("block %s does not link to recorded parent %s: %w", block, parent.Block.Hash, model.ErrGap)
		}
	}

	if err := setJSON(txn, segmentKey(block.Height), fromSegmentBlock(c.Block)); err != nil {
		return err
	}
	if err := set(txn, hashKey(block.Hash), encodeHeight(block.Height)); err != nil {
		return err
	}
	for _, e := range c.Entries {
		if err := setJSON(txn, entryKey(e.Key()), entryRecord{In: e.In.Dec(), Out: e.Out.Dec()}); err != nil {
			return err
		}
	}
	if err := setJSON(txn, cursorKey, fromRef(c.Cursor)); err != nil {
		return err
	}
	if c.RecordHistory {
		if err := queueHistory(txn, c); err != nil {
			return err
		}
	}
	if c.PruneBelow > 0 {
		return prune(txn, c.PruneBelow)
	}
	return nil
}

func deleteBlock(txn *badger.Txn, ref model.BlockRef) error {
	item, err := txn.Get(hashKey(ref.Hash))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("undo block %s: block is not recorded: %w", ref, model.ErrGap)
	}
	if err != nil {
		return &model.PersistenceError{Op: "read undone block", Err: err}
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return &model.PersistenceError{Op: "read undone block", Err: err}
	}
	height, err := decodeHeight(val)
	if err != nil {
		return fmt.Errorf("undo block %s: %w", ref, err)
	}
	if err := del(txn, segmentKey(height)); err != nil {
		return err
	}
	return del(txn, hashKey(ref.Hash))
}

func prune(txn *badger.Txn, below uint64) error {
	var stale []segmentRecord
	it := txn.NewIterator(badger.IteratorOptions{Prefix: segmentPrefix})
	limit := segmentKey(below)
	for it.Rewind(); it.ValidForPrefix(segmentPrefix); it.Next() {
		item := it.Item()
		if bytes.Compare(item.Key(), limit) >= 0 {
			break
		}
		var rec segmentRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			it.Close()
			return fmt.Errorf("decode pruned block: %w", err)
		}
		stale = append(stale, rec)
	}
	it.Close()

	for _, rec := range stale {
		if err := del(txn, segmentKey(rec.Block.Height)); err != nil {
			return err
		}
		if err := del(txn, hashKey(rec.Block.Hash)); err != nil {
			return err
		}
	}
	return nil
}

func readCursor(txn *badger.Txn) (*model.BlockRef, error) {
	var rec blockRecord
	ok, err := getJSON(txn, cursorKey, &rec)
	if err != nil || !ok {
		return nil, err
	}
	ref := rec.ref()
	return &ref, nil
}

func readSegment(txn *badger.Txn, height uint64) (segmentRecord, bool, error) {
	var rec segmentRecord
	ok, err := getJSON(txn, segmentKey(height), &rec)
	return rec, ok, err
}

func getJSON(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, &model.PersistenceError{Op: fmt.Sprintf("get %q", key), Err: err}
	}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	}); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return set(txn, key, data)
}

func set(txn *badger.Txn, key, val []byte) error {
	if err := txn.Set(key, val); err != nil {
		return writeError("set", err)
	}
	return nil
}

func del(txn *badger.Txn, key []byte) error {
	if err := txn.Delete(key); err != nil {
		return writeError("delete", err)
	}
	return nil
}

// writeError keeps failures that would recur on every retry of the same
// commit out of the retryable PersistenceError class.
func writeError(op string, err error) error {
	if errors.Is(err, badger.ErrTxnTooBig) {
		return fmt.Errorf("%s: %w: %w", op, model.ErrCommitRejected, err)
	}
	return &model.PersistenceError{Op: op, Err: err}
}
