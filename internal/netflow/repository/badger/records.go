package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
)

type blockRecord struct {
	Height     uint64      `json:"height"`
	Hash       common.Hash `json:"hash"`
	ParentHash common.Hash `json:"parent_hash"`
}

type transferRecord struct {
	TxHash   common.Hash    `json:"tx_hash"`
	TxIndex  uint           `json:"tx_index"`
	LogIndex uint           `json:"log_index"`
	From     common.Address `json:"from"`
	To       common.Address `json:"to"`
	Amount   string         `json:"amount"`
}

type segmentRecord struct {
	Block     blockRecord      `json:"block"`
	Transfers []transferRecord `json:"transfers"`
}

type entryRecord struct {
	In  string `json:"in"`
	Out string `json:"out"`
}

type deltaRecord struct {
	Key   string      `json:"key"`
	Block blockRecord `json:"block"`
	In    string      `json:"in"`
	Out   string      `json:"out"`
	Sign  int8        `json:"sign"`
}

type outboxRecord struct {
	Cursor blockRecord   `json:"cursor"`
	Deltas []deltaRecord `json:"deltas"`
}

type deliveredRecord struct {
	Seq    uint64      `json:"seq"`
	Cursor blockRecord `json:"cursor"`
}

func segmentKey(height uint64) []byte {
	key := make([]byte, len(segmentPrefix)+8)
	copy(key, segmentPrefix)
	binary.BigEndian.PutUint64(key[len(segmentPrefix):], height)
	return key
}

func hashKey(hash common.Hash) []byte {
	return append(append([]byte{}, hashPrefix...), hash.Bytes()...)
}

func entryKey(key string) []byte {
	return append(append([]byte{}, entryPrefix...), key...)
}

func outboxKey(seq uint64) []byte {
	key := make([]byte, len(outboxPrefix)+8)
	copy(key, outboxPrefix)
	binary.BigEndian.PutUint64(key[len(outboxPrefix):], seq)
	return key
}

func encodeHeight(height uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, height)
}

func decodeHeight(val []byte) (uint64, error) {
	if len(val) != 8 {
		return 0, fmt.Errorf("height value has %d bytes", len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

func fromRef(ref model.BlockRef) blockRecord {
	return blockRecord{Height: ref.Height, Hash: ref.Hash, ParentHash: ref.ParentHash}
}

func (b blockRecord) ref() model.BlockRef {
	return model.BlockRef{Height: b.Height, Hash: b.Hash, ParentHash: b.ParentHash}
}

func fromSegmentBlock(b model.SegmentBlock) segmentRecord {
	rec := segmentRecord{Block: fromRef(b.Ref), Transfers: make([]transferRecord, 0, len(b.Transfers))}
	for _, t := range b.Transfers {
		rec.Transfers = append(rec.Transfers, transferRecord{
			TxHash:   t.TxHash,
			TxIndex:  t.TxIndex,
			LogIndex: t.LogIndex,
			From:     t.From,
			To:       t.To,
			Amount:   t.Amount.Dec(),
		})
	}
	return rec
}

func (s segmentRecord) segmentBlock() (model.SegmentBlock, error) {
	b := model.SegmentBlock{Ref: s.Block.ref()}
	for _, rec := range s.Transfers {
		t := model.Transfer{
			BlockHeight: b.Ref.Height,
			BlockHash:   b.Ref.Hash,
			TxHash:      rec.TxHash,
			TxIndex:     rec.TxIndex,
			LogIndex:    rec.LogIndex,
			From:        rec.From,
			To:          rec.To,
		}
		if err := t.Amount.SetFromDecimal(rec.Amount); err != nil {
			return model.SegmentBlock{}, fmt.Errorf("parse transfer amount %q: %w", rec.Amount, err)
		}
		b.Transfers = append(b.Transfers, t)
	}
	return b, nil
}

func fromDeltas(c model.Commit) outboxRecord {
	rec := outboxRecord{Cursor: fromRef(c.Cursor), Deltas: make([]deltaRecord, 0, len(c.Deltas))}
	for _, d := range c.Deltas {
		rec.Deltas = append(rec.Deltas, deltaRecord{
			Key:   d.Key,
			Block: fromRef(d.Block),
			In:    d.In.Dec(),
			Out:   d.Out.Dec(),
			Sign:  d.Sign,
		})
	}
	return rec
}

func (o outboxRecord) batch(seq uint64) (model.OutboxBatch, error) {
	b := model.OutboxBatch{Seq: seq, Cursor: o.Cursor.ref(), Deltas: make([]model.Delta, 0, len(o.Deltas))}
	for _, rec := range o.Deltas {
		d := model.Delta{Seq: seq, Key: rec.Key, Block: rec.Block.ref(), Sign: rec.Sign}
		if err := d.In.SetFromDecimal(rec.In); err != nil {
			return model.OutboxBatch{}, fmt.Errorf("parse delta inflow %q: %w", rec.In, err)
		}
		if err := d.Out.SetFromDecimal(rec.Out); err != nil {
			return model.OutboxBatch{}, fmt.Errorf("parse delta outflow %q: %w", rec.Out, err)
		}
		b.Deltas = append(b.Deltas, d)
	}
	return b, nil
}
