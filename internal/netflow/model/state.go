package model

import "github.com/ethereum/go-ethereum/common"

// State is the durable ingestion state restored on startup.
type State struct {
	Segment []SegmentBlock
	Entries []Entry
	Cursor  *BlockRef
}

// Commit is the unit written atomically for one processed block.
type Commit struct {
	Block SegmentBlock
	// Undo lists blocks evicted by a reorg, most recent first.
	Undo    []BlockRef
	Entries []Entry
	Cursor  BlockRef
	// PruneBelow drops segment blocks with lower heights from undo history.
	PruneBelow uint64
	// RecordHistory queues Deltas in the history outbox within the same
	// write. A batch is queued even without deltas so the delivered cursor
	// keeps up with the ledger.
	RecordHistory bool
	Deltas        []Delta
}

// Snapshot is an immutable view of committed ledger state.
type Snapshot struct {
	Cursor    BlockRef
	Entries   map[common.Address]Entry
	Aggregate Entry
}

// Entry returns the entry for addr and whether addr is tracked.
func (s *Snapshot) Entry(addr common.Address) (Entry, bool) {
	e, ok := s.Entries[addr]
	return e, ok
}

// CommittedBlock describes the effects of one durable commit.
type CommittedBlock struct {
	Block    SegmentBlock
	Reverted []SegmentBlock
	Entries  []Entry
}
