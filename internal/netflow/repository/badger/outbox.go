package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
)

// queueHistory appends the commit's deltas to the outbox under the next
// sequence number.
func queueHistory(txn *badger.Txn, c model.Commit) error {
	var seq uint64
	switch item, err := txn.Get(outboxSeqKey); {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return &model.PersistenceError{Op: "read outbox sequence", Err: err}
	default:
		val, err := item.ValueCopy(nil)
		if err != nil {
			return &model.PersistenceError{Op: "read outbox sequence", Err: err}
		}
		if seq, err = decodeHeight(val); err != nil {
			return fmt.Errorf("outbox sequence: %w", err)
		}
	}
	seq++

	if err := set(txn, outboxSeqKey, encodeHeight(seq)); err != nil {
		return err
	}
	return setJSON(txn, outboxKey(seq), fromDeltas(c))
}

// PendingHistory returns up to limit undelivered outbox batches in commit
// order.
func (r *Repository) PendingHistory(ctx context.Context, limit int) ([]model.OutboxBatch, error) {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("pending_history", err, start)
	}()

	if err = ctx.Err(); err != nil {
		return nil, err
	}

	var out []model.OutboxBatch
	err = r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: outboxPrefix, PrefetchValues: true, PrefetchSize: limit})
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(outboxPrefix) && len(out) < limit; it.Next() {
			item := it.Item()
			seq := binary.BigEndian.Uint64(item.Key()[len(outboxPrefix):])
			var rec outboxRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode outbox batch %d: %w", seq, err)
			}
			b, err := rec.batch(seq)
			if err != nil {
				return fmt.Errorf("outbox batch %d: %w", seq, err)
			}
			out = append(out, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AckHistory removes every outbox batch up to and including through and
// records its cursor as delivered.
func (r *Repository) AckHistory(ctx context.Context, through model.OutboxBatch) error {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("ack_history", err, start)
	}()

	if err = ctx.Err(); err != nil {
		return err
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		var acked [][]byte
		it := txn.NewIterator(badger.IteratorOptions{Prefix: outboxPrefix})
		limit := outboxKey(through.Seq)
		for it.Rewind(); it.ValidForPrefix(outboxPrefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if bytes.Compare(key, limit) > 0 {
				break
			}
			acked = append(acked, key)
		}
		it.Close()

		for _, key := range acked {
			if err := del(txn, key); err != nil {
				return err
			}
		}
		return setJSON(txn, deliveredKey, deliveredRecord{Seq: through.Seq, Cursor: fromRef(through.Cursor)})
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

	if err = ctx.Err(); err != nil {
		return nil, err
	}

	var cursor *model.BlockRef
	err = r.db.View(func(txn *badger.Txn) error {
		var rec deliveredRecord
		ok, err := getJSON(txn, deliveredKey, &rec)
		if err != nil || !ok {
			return err
		}
		ref := rec.Cursor.ref()
		cursor = &ref
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cursor, nil
}
