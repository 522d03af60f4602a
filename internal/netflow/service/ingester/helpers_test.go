package ingester

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/ledger"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/tracker"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	tracked  = common.HexToAddress("0xF977814e90dA44bFA03b6295A0616a897441aceC")
	outsider = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	other    = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	genesis  = model.BlockRef{Hash: common.Hash{31: 0xee}}
)

const (
	testWindow   = 8
	testMaxDepth = 4
)

// fakeChain serves blocks by hash the way the EVM source does.
type fakeChain struct {
	mu     sync.Mutex
	blocks map[common.Hash]model.SegmentBlock
}

func newFakeChain() *fakeChain {
	return &fakeChain{blocks: make(map[common.Hash]model.SegmentBlock)}
}

// block creates the child of parent on fork.
func (c *fakeChain) block(parent model.BlockRef, fork byte, transfers ...model.Transfer) model.SegmentBlock {
	ref := model.BlockRef{
		Height:     parent.Height + 1,
		Hash:       common.Hash{0: fork, 31: byte(parent.Height + 1)},
		ParentHash: parent.Hash,
	}
	for i := range transfers {
		transfers[i].BlockHeight = ref.Height
		transfers[i].BlockHash = ref.Hash
		transfers[i].LogIndex = uint(i)
		transfers[i].TxHash = common.Hash{0: fork, 1: byte(i), 31: byte(ref.Height)}
	}
	b := model.SegmentBlock{Ref: ref, Transfers: transfers}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks[ref.Hash] = b
	return b
}

func (c *fakeChain) HeaderByHash(ctx context.Context, hash common.Hash) (model.BlockRef, error) {
	b, err := c.BlockByHash(ctx, hash)
	return b.Ref, err
}

func (c *fakeChain) BlockByHash(_ context.Context, hash common.Hash) (model.SegmentBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.blocks[hash]
	if !ok {
		return model.SegmentBlock{}, fmt.Errorf("block %s: %w", hash, model.ErrBlockNotFound)
	}
	return b, nil
}

type pollCall struct {
	from uint64
	tip  model.BlockRef
}

// scriptedPoller emits one script per Poll call and then idles until the
// session is canceled.
type scriptedPoller struct {
	mu      sync.Mutex
	scripts [][]model.SegmentBlock
	calls   []pollCall
}

func (p *scriptedPoller) Poll(ctx context.Context, from uint64, tip model.BlockRef) <-chan model.SegmentBlock {
	p.mu.Lock()
	var script []model.SegmentBlock
	if len(p.scripts) > 0 {
		script, p.scripts = p.scripts[0], p.scripts[1:]
	}
	p.calls = append(p.calls, pollCall{from: from, tip: tip})
	p.mu.Unlock()

	out := make(chan model.SegmentBlock)
	go func() {
		defer close(out)
		for _, b := range script {
			select {
			case out <- b:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return out
}

func (p *scriptedPoller) pollCalls() []pollCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pollCall(nil), p.calls...)
}

func xfer(from, to common.Address, amount uint64) model.Transfer {
	return model.Transfer{From: from, To: to, Amount: *uint256.NewInt(amount)}
}

func newTestService(t *testing.T, store Store, source Source, poller Poller, m Metrics, opts ...Option) (*Service, *ledger.Ledger) {
	t.Helper()
	tr, err := tracker.New(testWindow, testMaxDepth)
	require.NoError(t, err)
	l := ledger.New(model.NewAddressSet(tracked))
	svc, err := NewService(zap.NewNop(), store, source, poller, l, tr, m, 1, opts...)
	require.NoError(t, err)
	svc.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	svc.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return svc, l
}

func netflow(t *testing.T, l *ledger.Ledger, addr common.Address) string {
	t.Helper()
	snap := l.Snapshot()
	require.NotNil(t, snap)
	e, ok := snap.Entry(addr)
	require.True(t, ok)
	return e.Netflow().String()
}
