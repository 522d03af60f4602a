// Package ledger keeps cumulative per-address and aggregate net-flow totals.
//
// The ledger has a single writer. Mutations are staged in a Txn and become
// visible to readers only after Txn.Commit, which the ingester calls once the
// same changes are durably persisted. Readers get immutable snapshots through
// an atomic pointer and never block the writer.
package ledger

import (
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
	"github.com/holiman/uint256"
)

// Ledger is the net-flow accounting state machine.
type Ledger struct {
	tracked   model.AddressSet
	entries   map[common.Address]model.Entry
	aggregate model.Entry
	// applied holds hashes of blocks inside the reorg window.
	applied map[common.Hash]uint64
	// floor is the highest height folded out of the window; nothing at or
	// below it can be applied again.
	floor    uint64
	hasFloor bool

	snapshot atomic.Pointer[model.Snapshot]
	inTxn    bool
}

// New returns a zero-initialized ledger for the tracked set.
func New(tracked model.AddressSet) *Ledger {
	l := &Ledger{
		tracked:   tracked,
		entries:   make(map[common.Address]model.Entry, tracked.Len()),
		aggregate: model.Entry{Aggregate: true},
		applied:   make(map[common.Hash]uint64),
	}
	for _, a := range tracked.Sorted() {
		l.entries[a] = model.Entry{Address: a}
	}
	return l
}

// Load restores committed state. Entries for untracked addresses are ignored;
// tracked addresses without a stored entry stay zero.
func (l *Ledger) Load(state model.State) {
	for _, e := range state.Entries {
		if e.Aggregate {
			l.aggregate = e
			continue
		}
		if l.tracked.Contains(e.Address) {
			l.entries[e.Address] = e
		}
	}
	l.applied = make(map[common.Hash]uint64, len(state.Segment))
	for _, b := range state.Segment {
		l.applied[b.Ref.Hash] = b.Ref.Height
	}
	if len(state.Segment) > 0 && state.Segment[0].Ref.Height > 0 {
		l.floor = state.Segment[0].Ref.Height - 1
		l.hasFloor = true
	}
	var cursor model.BlockRef
	if state.Cursor != nil {
		cursor = *state.Cursor
	}
	l.publish(cursor)
}

// Tracked returns the tracked address set.
func (l *Ledger) Tracked() model.AddressSet {
	return l.tracked
}

// Snapshot returns the latest committed state, or nil before the first
// Load or Commit.
func (l *Ledger) Snapshot() *model.Snapshot {
	return l.snapshot.Load()
}

// Forget drops undo bookkeeping for blocks below height. Their effects stay
// folded into the totals.
func (l *Ledger) Forget(below uint64) {
	if below == 0 {
		return
	}
	for h, height := range l.applied {
		if height < below {
			delete(l.applied, h)
		}
	}
	if !l.hasFloor || below-1 > l.floor {
		l.floor = below - 1
		l.hasFloor = true
	}
}

// Relevant filters transfers touching at least one tracked address.
func (l *Ledger) Relevant(transfers []model.Transfer) []model.Transfer {
	out := make([]model.Transfer, 0, len(transfers))
	for _, t := range transfers {
		if l.tracked.Contains(t.From) || l.tracked.Contains(t.To) {
			out = append(out, t)
		}
	}
	return out
}

// Apply applies a block in its own transaction and commits it.
func (l *Ledger) Apply(block model.BlockRef, transfers []model.Transfer) error {
	txn := l.Begin()
	if err := txn.Apply(block, transfers); err != nil {
		txn.Discard()
		return err
	}
	txn.Commit(block)
	return nil
}

// Revert reverts a block in its own transaction and commits it, leaving
// cursor at the block's parent.
func (l *Ledger) Revert(block model.BlockRef, transfers []model.Transfer) error {
	txn := l.Begin()
	if err := txn.Revert(block, transfers); err != nil {
		txn.Discard()
		return err
	}
	parent := model.BlockRef{Hash: block.ParentHash}
	if block.Height > 0 {
		parent.Height = block.Height - 1
	}
	txn.Commit(parent)
	return nil
}

func (l *Ledger) publish(cursor model.BlockRef) {
	entries := make(map[common.Address]model.Entry, len(l.entries))
	for a, e := range l.entries {
		entries[a] = e
	}
	l.snapshot.Store(&model.Snapshot{
		Cursor:    cursor,
		Entries:   entries,
		Aggregate: l.aggregate,
	})
}

func addAmount(dst *uint256.Int, amount *uint256.Int) error {
	if _, overflow := dst.AddOverflow(dst, amount); overflow {
		return fmt.Errorf("add %s: %w", amount.Dec(), model.ErrOverflow)
	}
	return nil
}

func subAmount(dst *uint256.Int, amount *uint256.Int) error {
	if _, underflow := dst.SubOverflow(dst, amount); underflow {
		return fmt.Errorf("subtract %s: underflow: %w", amount.Dec(), model.ErrOverflow)
	}
	return nil
}
