// Package storetest checks Persistence Gateway implementations against the
// same commit and reload scenarios.
package storetest

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Store is the gateway contract under test.
type Store interface {
	LoadState(ctx context.Context) (model.State, error)
	CommitBlock(ctx context.Context, c model.Commit) error
	PendingHistory(ctx context.Context, limit int) ([]model.OutboxBatch, error)
	AckHistory(ctx context.Context, through model.OutboxBatch) error
	DeliveredHistory(ctx context.Context) (*model.BlockRef, error)
}

var (
	Tracked  = common.HexToAddress("0xF977814e90dA44bFA03b6295A0616a897441aceC")
	Outsider = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

// Ref returns a block on fork whose parent is on fork 1.
func Ref(height uint64, fork byte) model.BlockRef {
	return model.BlockRef{
		Height:     height,
		Hash:       common.Hash{0: fork, 30: 0xbb, 31: byte(height)},
		ParentHash: common.Hash{0: 1, 30: 0xbb, 31: byte(height - 1)},
	}
}

func transfer(ref model.BlockRef, logIndex uint, from, to common.Address, amount *uint256.Int) model.Transfer {
	return model.Transfer{
		BlockHeight: ref.Height,
		BlockHash:   ref.Hash,
		TxHash:      common.Hash{0: 0x7a, 1: byte(logIndex), 31: byte(ref.Height)},
		TxIndex:     logIndex / 2,
		LogIndex:    logIndex,
		From:        from,
		To:          to,
		Amount:      *amount,
	}
}

func entries(in, out uint64) []model.Entry {
	return []model.Entry{
		{Address: Tracked, In: *uint256.NewInt(in), Out: *uint256.NewInt(out)},
		{Aggregate: true, In: *uint256.NewInt(in), Out: *uint256.NewInt(out)},
	}
}

func extend(ref model.BlockRef, in, out uint64, transfers ...model.Transfer) model.Commit {
	return model.Commit{
		Block:   model.SegmentBlock{Ref: ref, Transfers: transfers},
		Entries: entries(in, out),
		Cursor:  ref,
	}
}

func withHistory(c model.Commit, deltas ...model.Delta) model.Commit {
	c.RecordHistory = true
	c.Deltas = deltas
	return c
}

func delta(ref model.BlockRef, key string, in, out uint64, sign int8) model.Delta {
	return model.Delta{Key: key, Block: ref, In: *uint256.NewInt(in), Out: *uint256.NewInt(out), Sign: sign}
}

func entryOf(t *testing.T, state model.State, key string) model.Entry {
	t.Helper()
	for _, e := range state.Entries {
		if e.Key() == key {
			return e
		}
	}
	t.Fatalf("entry %s not found", key)
	return model.Entry{}
}

func heights(state model.State) []uint64 {
	out := make([]uint64, 0, len(state.Segment))
	for _, b := range state.Segment {
		out = append(out, b.Ref.Height)
	}
	return out
}

// Run executes every scenario; newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	trackedKey := model.Entry{Address: Tracked}.Key()

	t.Run("empty state", func(t *testing.T) {
		s := newStore(t)
		state, err := s.LoadState(ctx)
		require.NoError(t, err)
		assert.Empty(t, state.Segment)
		assert.Empty(t, state.Entries)
		assert.Nil(t, state.Cursor)
	})

	t.Run("commit and reload", func(t *testing.T) {
		s := newStore(t)
		b1, b2 := Ref(1, 1), Ref(2, 1)
		huge := new(uint256.Int).SetAllOne()

		require.NoError(t, s.CommitBlock(ctx, model.Commit{
			Block: model.SegmentBlock{Ref: b1, Transfers: []model.Transfer{
				transfer(b1, 0, Outsider, Tracked, huge),
			}},
			Entries: []model.Entry{
				{Address: Tracked, In: *huge},
				{Aggregate: true, In: *huge},
			},
			Cursor: b1,
		}))
		require.NoError(t, s.CommitBlock(ctx, extend(b2, 100, 40,
			transfer(b2, 3, Tracked, Outsider, uint256.NewInt(40)),
			transfer(b2, 1, Outsider, Tracked, uint256.NewInt(100)),
		)))

		state, err := s.LoadState(ctx)
		require.NoError(t, err)
		require.NotNil(t, state.Cursor)
		assert.Equal(t, b2, *state.Cursor)
		assert.Equal(t, []uint64{1, 2}, heights(state))
		assert.Equal(t, b1, state.Segment[0].Ref)

		require.Len(t, state.Segment[0].Transfers, 1)
		assert.Equal(t, huge.Dec(), state.Segment[0].Transfers[0].Amount.Dec())
		require.Len(t, state.Segment[1].Transfers, 2)
		assert.Equal(t, uint(1), state.Segment[1].Transfers[0].LogIndex)
		assert.Equal(t, transfer(b2, 3, Tracked, Outsider, uint256.NewInt(40)), state.Segment[1].Transfers[1])

		require.Len(t, state.Entries, 2)
		assert.Equal(t, "60", entryOf(t, state, trackedKey).Netflow().String())
		assert.Equal(t, "60", entryOf(t, state, model.AggregateKey).Netflow().String())
	})

	t.Run("replay is rejected without changes", func(t *testing.T) {
		s := newStore(t)
		b1, b2 := Ref(1, 1), Ref(2, 1)
		require.NoError(t, s.CommitBlock(ctx, extend(b1, 100, 0)))
		require.NoError(t, s.CommitBlock(ctx, extend(b2, 100, 40)))
		before, err := s.LoadState(ctx)
		require.NoError(t, err)

		err = s.CommitBlock(ctx, extend(b2, 200, 80))
		require.ErrorIs(t, err, model.ErrAlreadyApplied)
		err = s.CommitBlock(ctx, extend(Ref(1, 9), 1, 1))
		require.ErrorIs(t, err, model.ErrAlreadyApplied)

		after, err := s.LoadState(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("reorg undo replaces blocks", func(t *testing.T) {
		s := newStore(t)
		b1, b2, b3 := Ref(1, 1), Ref(2, 1), Ref(3, 1)
		require.NoError(t, s.CommitBlock(ctx, extend(b1, 100, 0, transfer(b1, 0, Outsider, Tracked, uint256.NewInt(100)))))
		require.NoError(t, s.CommitBlock(ctx, extend(b2, 100, 40, transfer(b2, 0, Tracked, Outsider, uint256.NewInt(40)))))
		require.NoError(t, s.CommitBlock(ctx, extend(b3, 105, 40, transfer(b3, 0, Outsider, Tracked, uint256.NewInt(5)))))

		// b2' replaces b2 and b3
		b2x := Ref(2, 2)
		require.NoError(t, s.CommitBlock(ctx, model.Commit{
			Block:   model.SegmentBlock{Ref: b2x},
			Undo:    []model.BlockRef{b3, b2},
			Entries: entries(100, 0),
			Cursor:  b2x,
		}))

		state, err := s.LoadState(ctx)
		require.NoError(t, err)
		assert.Equal(t, b2x, *state.Cursor)
		require.Equal(t, []uint64{1, 2}, heights(state))
		assert.Equal(t, b2x, state.Segment[1].Ref)
		assert.Empty(t, state.Segment[1].Transfers)
		assert.Equal(t, "100", entryOf(t, state, trackedKey).Netflow().String())

		b3x := model.BlockRef{Height: 3, Hash: common.Hash{0: 3, 31: 3}, ParentHash: b2x.Hash}
		require.NoError(t, s.CommitBlock(ctx, extend(b3x, 100, 0)))
	})

	t.Run("prune keeps totals", func(t *testing.T) {
		s := newStore(t)
		for h := uint64(1); h <= 4; h++ {
			c := extend(Ref(h, 1), 10*h, 0, transfer(Ref(h, 1), 0, Outsider, Tracked, uint256.NewInt(10)))
			if h == 4 {
				c.PruneBelow = 3
			}
			require.NoError(t, s.CommitBlock(ctx, c))
		}

		state, err := s.LoadState(ctx)
		require.NoError(t, err)
		assert.Equal(t, []uint64{3, 4}, heights(state))
		assert.Len(t, state.Segment[0].Transfers, 1)
		assert.Equal(t, "40", entryOf(t, state, trackedKey).Netflow().String())

		err = s.CommitBlock(ctx, extend(Ref(2, 1), 0, 0))
		require.ErrorIs(t, err, model.ErrAlreadyApplied)
	})

	t.Run("broken parent link is fatal", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CommitBlock(ctx, extend(Ref(1, 1), 0, 0)))

		orphan := model.BlockRef{Height: 2, Hash: common.Hash{0: 5, 31: 2}, ParentHash: common.Hash{0: 5, 31: 1}}
		err := s.CommitBlock(ctx, extend(orphan, 0, 0))
		require.ErrorIs(t, err, model.ErrGap)
	})

	t.Run("sibling of the only block replaces it", func(t *testing.T) {
		s := newStore(t)
		b1 := Ref(1, 1)
		require.NoError(t, s.CommitBlock(ctx, extend(b1, 100, 0, transfer(b1, 0, Outsider, Tracked, uint256.NewInt(100)))))

		b1x := Ref(1, 2)
		require.NoError(t, s.CommitBlock(ctx, model.Commit{
			Block:   model.SegmentBlock{Ref: b1x},
			Undo:    []model.BlockRef{b1},
			Entries: entries(100, 100),
			Cursor:  b1x,
		}))

		state, err := s.LoadState(ctx)
		require.NoError(t, err)
		assert.Equal(t, b1x, *state.Cursor)
		require.Equal(t, []uint64{1}, heights(state))
		assert.Equal(t, b1x, state.Segment[0].Ref)
		assert.Equal(t, "0", entryOf(t, state, trackedKey).Netflow().String())
	})

	t.Run("history outbox follows commits", func(t *testing.T) {
		s := newStore(t)
		b1, b2, b3 := Ref(1, 1), Ref(2, 1), Ref(3, 1)
		d1 := delta(b1, trackedKey, 100, 0, 1)

		delivered, err := s.DeliveredHistory(ctx)
		require.NoError(t, err)
		assert.Nil(t, delivered)

		require.NoError(t, s.CommitBlock(ctx, withHistory(extend(b1, 100, 0), d1)))
		require.NoError(t, s.CommitBlock(ctx, withHistory(extend(b2, 100, 0))))
		err = s.CommitBlock(ctx, withHistory(extend(b2, 100, 0)))
		require.ErrorIs(t, err, model.ErrAlreadyApplied)
		require.NoError(t, s.CommitBlock(ctx, extend(b3, 100, 0)))

		pending, err := s.PendingHistory(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Less(t, pending[0].Seq, pending[1].Seq)
		assert.Equal(t, b1, pending[0].Cursor)
		assert.Equal(t, b2, pending[1].Cursor)
		assert.Empty(t, pending[1].Deltas)
		d1.Seq = pending[0].Seq
		assert.Equal(t, []model.Delta{d1}, pending[0].Deltas)

		first, err := s.PendingHistory(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, pending[:1], first)

		require.NoError(t, s.AckHistory(ctx, pending[0]))
		rest, err := s.PendingHistory(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, pending[1:], rest)
		delivered, err = s.DeliveredHistory(ctx)
		require.NoError(t, err)
		require.NotNil(t, delivered)
		assert.Equal(t, b1, *delivered)

		require.NoError(t, s.AckHistory(ctx, pending[1]))
		rest, err = s.PendingHistory(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, rest)
		delivered, err = s.DeliveredHistory(ctx)
		require.NoError(t, err)
		assert.Equal(t, b2, *delivered)
	})

	t.Run("failed commit queues no history", func(t *testing.T) {
		s := newStore(t)
		b1 := Ref(1, 1)
		require.NoError(t, s.CommitBlock(ctx, extend(b1, 0, 0)))

		orphan := model.BlockRef{Height: 2, Hash: common.Hash{0: 5, 31: 2}, ParentHash: common.Hash{0: 5, 31: 1}}
		err := s.CommitBlock(ctx, withHistory(extend(orphan, 1, 0), delta(orphan, trackedKey, 1, 0, 1)))
		require.ErrorIs(t, err, model.ErrGap)

		pending, err := s.PendingHistory(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("failed commit writes nothing", func(t *testing.T) {
		s := newStore(t)
		b1, b2 := Ref(1, 1), Ref(2, 1)
		require.NoError(t, s.CommitBlock(ctx, extend(b1, 100, 0)))
		require.NoError(t, s.CommitBlock(ctx, extend(b2, 100, 40)))
		before, err := s.LoadState(ctx)
		require.NoError(t, err)

		b2x := Ref(2, 2)
		err = s.CommitBlock(ctx, model.Commit{
			Block:   model.SegmentBlock{Ref: b2x},
			Undo:    []model.BlockRef{Ref(3, 1), b2},
			Entries: entries(1, 1),
			Cursor:  b2x,
		})
		require.ErrorIs(t, err, model.ErrGap)

		after, err := s.LoadState(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})
}
