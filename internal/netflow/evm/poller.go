package evm

import (
	"context"
	"fmt"
	"time"

	"github.com/goodnatureofminers/netflow-backend/internal/clock"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
	"github.com/goodnatureofminers/netflow-backend/pkg/workerpool"
	"go.uber.org/zap"
)

// Poller turns a BlockSource into an ordered stream of blocks.
type Poller struct {
	source   BlockSource
	logger   *zap.Logger
	prefetch int
	interval time.Duration
	signal   <-chan struct{}
	wait     func(ctx context.Context, d time.Duration, signal <-chan struct{}) error
}

// NewPoller creates a Poller fetching up to prefetch heights concurrently.
// When caught up it sleeps for interval or until signal fires.
func NewPoller(logger *zap.Logger, source BlockSource, prefetch int, interval time.Duration, signal <-chan struct{}) *Poller {
	if prefetch < 1 {
		prefetch = 1
	}
	return &Poller{
		source:   source,
		logger:   logger.Named("evm_poller"),
		prefetch: prefetch,
		interval: interval,
		signal:   signal,
		wait:     clock.WaitForSignal,
	}
}

type pollState struct {
	next uint64
	last model.BlockRef
	seen bool
}

// Poll emits blocks from height from onwards in height order until ctx is
// canceled, then closes the channel. tip is the last block the consumer
// already holds; a zero tip means none. When the reader's head is replaced at
// or below the last emitted height, the new head block is emitted again so
// the consumer can reconcile.
func (p *Poller) Poll(ctx context.Context, from uint64, tip model.BlockRef) <-chan model.SegmentBlock {
	out := make(chan model.SegmentBlock, p.prefetch)
	st := &pollState{next: from, last: tip, seen: !tip.IsZero()}
	go func() {
		defer close(out)
		for {
			progressed, err := p.step(ctx, st, out)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				p.logger.Warn("poll iteration failed, backing off",
					zap.Uint64("next_height", st.next),
					zap.Error(err),
				)
			}
			if progressed {
				continue
			}
			if err := p.wait(ctx, p.interval, p.signal); err != nil {
				return
			}
		}
	}()
	return out
}

func (p *Poller) step(ctx context.Context, st *pollState, out chan<- model.SegmentBlock) (bool, error) {
	head, err := p.source.Head(ctx)
	if err != nil {
		return false, fmt.Errorf("fetch head: %w", err)
	}

	if head.Height >= st.next {
		end := st.next + uint64(p.prefetch) - 1
		if end > head.Height {
			end = head.Height
		}
		heights := make([]uint64, 0, end-st.next+1)
		for h := st.next; h <= end; h++ {
			heights = append(heights, h)
		}
		blocks, err := workerpool.Map(ctx, p.prefetch, heights, p.source.BlockByNumber)
		if err != nil {
			return false, fmt.Errorf("fetch blocks %d-%d: %w", st.next, end, err)
		}
		for _, b := range blocks {
			if !p.emit(ctx, st, out, b) {
				return false, ctx.Err()
			}
		}
		return true, nil
	}

	replaced := head.Height == st.last.Height && head.Hash != st.last.Hash
	if !st.seen || !(replaced || head.Height < st.last.Height) {
		return false, nil
	}
	b, err := p.source.BlockByNumber(ctx, head.Height)
	if err != nil {
		return false, fmt.Errorf("fetch replaced head %s: %w", head, err)
	}
	if b.Ref.Hash == st.last.Hash {
		return false, nil
	}
	p.logger.Info("reader head replaced",
		zap.Stringer("previous", st.last),
		zap.Stringer("head", b.Ref),
	)
	if !p.emit(ctx, st, out, b) {
		return false, ctx.Err()
	}
	return true, nil
}

func (p *Poller) emit(ctx context.Context, st *pollState, out chan<- model.SegmentBlock, b model.SegmentBlock) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- b:
	}
	st.next = b.Ref.Height + 1
	st.last = b.Ref
	st.seen = true
	return true
}
