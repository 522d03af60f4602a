package ledger

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
)

// Txn stages ledger mutations for one durable commit.
type Txn struct {
	l          *Ledger
	staged     map[common.Address]model.Entry
	aggregate  model.Entry
	aggTouched bool
	added      map[common.Hash]uint64
	removed    map[common.Hash]struct{}
	done       bool
}

// Begin starts a transaction. Only one transaction may be open at a time.
func (l *Ledger) Begin() *Txn {
	if l.inTxn {
		panic("ledger: transaction already open")
	}
	l.inTxn = true
	return &Txn{
		l:         l,
		staged:    make(map[common.Address]model.Entry),
		aggregate: l.aggregate,
		added:     make(map[common.Hash]uint64),
		removed:   make(map[common.Hash]struct{}),
	}
}

func (t *Txn) isApplied(hash common.Hash) bool {
	if _, ok := t.added[hash]; ok {
		return true
	}
	if _, ok := t.removed[hash]; ok {
		return false
	}
	_, ok := t.l.applied[hash]
	return ok
}

func (t *Txn) entry(addr common.Address) model.Entry {
	if e, ok := t.staged[addr]; ok {
		return e
	}
	return t.l.entries[addr]
}

// Apply adds the effects of transfers contained in block.
func (t *Txn) Apply(block model.BlockRef, transfers []model.Transfer) error {
	if t.done {
		return fmt.Errorf("apply block %s: transaction closed", block)
	}
	if t.isApplied(block.Hash) || (t.l.hasFloor && block.Height <= t.l.floor) {
		return fmt.Errorf("apply block %s: %w", block, model.ErrAlreadyApplied)
	}
	for i := range transfers {
		tr := &transfers[i]
		if t.l.tracked.Contains(tr.To) {
			e := t.entry(tr.To)
			if err := addAmount(&e.In, &tr.Amount); err != nil {
				return fmt.Errorf("apply block %s inflow to %s: %w", block, tr.To, err)
			}
			t.staged[tr.To] = e
			if err := addAmount(&t.aggregate.In, &tr.Amount); err != nil {
				return fmt.Errorf("apply block %s aggregate inflow: %w", block, err)
			}
			t.aggTouched = true
		}
		if t.l.tracked.Contains(tr.From) {
			e := t.entry(tr.From)
			if err := addAmount(&e.Out, &tr.Amount); err != nil {
				return fmt.Errorf("apply block %s outflow from %s: %w", block, tr.From, err)
			}
			t.staged[tr.From] = e
			if err := addAmount(&t.aggregate.Out, &tr.Amount); err != nil {
				return fmt.Errorf("apply block %s aggregate outflow: %w", block, err)
			}
			t.aggTouched = true
		}
	}
	delete(t.removed, block.Hash)
	t.added[block.Hash] = block.Height
	return nil
}

// Revert removes the effects previously applied for block. Blocks must be
// reverted most recent first.
func (t *Txn) Revert(block model.BlockRef, transfers []model.Transfer) error {
	if t.done {
		return fmt.Errorf("revert block %s: transaction closed", block)
	}
	if !t.isApplied(block.Hash) {
		return fmt.Errorf("revert block %s: block is not applied", block)
	}
	for i := len(transfers) - 1; i >= 0; i-- {
		tr := &transfers[i]
		if t.l.tracked.Contains(tr.From) {
			e := t.entry(tr.From)
			if err := subAmount(&e.Out, &tr.Amount); err != nil {
				return fmt.Errorf("revert block %s outflow from %s: %w", block, tr.From, err)
			}
			t.staged[tr.From] = e
			if err := subAmount(&t.aggregate.Out, &tr.Amount); err != nil {
				return fmt.Errorf("revert block %s aggregate outflow: %w", block, err)
			}
			t.aggTouched = true
		}
		if t.l.tracked.Contains(tr.To) {
			e := t.entry(tr.To)
			if err := subAmount(&e.In, &tr.Amount); err != nil {
				return fmt.Errorf("revert block %s inflow to %s: %w", block, tr.To, err)
			}
			t.staged[tr.To] = e
			if err := subAmount(&t.aggregate.In, &tr.Amount); err != nil {
				return fmt.Errorf("revert block %s aggregate inflow: %w", block, err)
			}
			t.aggTouched = true
		}
	}
	delete(t.added, block.Hash)
	t.removed[block.Hash] = struct{}{}
	return nil
}

// Changes returns the entries modified by the transaction, ordered by
// address with the aggregate last.
func (t *Txn) Changes() []model.Entry {
	out := make([]model.Entry, 0, len(t.staged)+1)
	for _, e := range t.staged {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	if t.aggTouched {
		out = append(out, t.aggregate)
	}
	return out
}

// Commit makes the staged changes visible with cursor as the new position.
func (t *Txn) Commit(cursor model.BlockRef) {
	if t.done {
		return
	}
	for a, e := range t.staged {
		t.l.entries[a] = e
	}
	t.l.aggregate = t.aggregate
	for h := range t.removed {
		delete(t.l.applied, h)
	}
	for h, height := range t.added {
		t.l.applied[h] = height
	}
	t.l.publish(cursor)
	t.close()
}

// Discard drops the staged changes.
func (t *Txn) Discard() {
	if t.done {
		return
	}
	t.close()
}

func (t *Txn) close() {
	t.done = true
	t.l.inTxn = false
}
