package model

import (
	"math/big"
	"sort"

	"github.com/holiman/uint256"
)

// Delta is the change one block made to an entry. Sign is +1 when the block
// was applied and -1 when it was reverted. Seq identifies the commit that
// produced it, so a redelivered delta carries the same Seq.
type Delta struct {
	Seq   uint64
	Key   string
	Block BlockRef
	In    uint256.Int
	Out   uint256.Int
	Sign  int8
}

// OutboxBatch is the history of one commit queued for delivery to the
// analytics store. Cursor is the ledger cursor the commit left behind.
type OutboxBatch struct {
	Seq    uint64
	Cursor BlockRef
	Deltas []Delta
}

// PointInTime holds cumulative flows of an entry as of a block height.
type PointInTime struct {
	Key    string
	Height uint64
	In     *big.Int
	Out    *big.Int
}

// Netflow returns In - Out.
func (p PointInTime) Netflow() *big.Int {
	return new(big.Int).Sub(p.In, p.Out)
}

// HistoryDeltas returns one row per touched entry and block: reverted blocks
// with sign -1 in the given order, then the applied block with sign +1.
func HistoryDeltas(tracked AddressSet, c CommittedBlock) []Delta {
	var out []Delta
	for _, b := range c.Reverted {
		out = append(out, blockDeltas(tracked, b, -1)...)
	}
	return append(out, blockDeltas(tracked, c.Block, 1)...)
}

func blockDeltas(tracked AddressSet, b SegmentBlock, sign int8) []Delta {
	byKey := make(map[string]*Delta)
	touch := func(key string) *Delta {
		d, ok := byKey[key]
		if !ok {
			d = &Delta{Key: key, Block: b.Ref, Sign: sign}
			byKey[key] = d
		}
		return d
	}
	add := func(dst, amount *uint256.Int) {
		dst.Add(dst, amount)
	}

	for i := range b.Transfers {
		t := &b.Transfers[i]
		if tracked.Contains(t.To) {
			add(&touch(Entry{Address: t.To}.Key()).In, &t.Amount)
			add(&touch(AggregateKey).In, &t.Amount)
		}
		if tracked.Contains(t.From) {
			add(&touch(Entry{Address: t.From}.Key()).Out, &t.Amount)
			add(&touch(AggregateKey).Out, &t.Amount)
		}
	}

	out := make([]Delta, 0, len(byKey))
	for _, d := range byKey {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
