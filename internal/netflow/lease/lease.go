// Package lease enforces a single net-flow writer across processes.
package lease

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrHeld is returned by Acquire when another writer owns the lease.
var ErrHeld = errors.New("writer lease held by another instance")

// keeper refreshes an acquired lease and reports its loss.
type keeper struct {
	logger   *zap.Logger
	interval time.Duration
	refresh  func(ctx context.Context) error

	lost     chan struct{}
	lostOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

func newKeeper(logger *zap.Logger, interval time.Duration, refresh func(ctx context.Context) error) *keeper {
	if interval <= 0 {
		interval = time.Second
	}
	return &keeper{
		logger:   logger,
		interval: interval,
		refresh:  refresh,
		lost:     make(chan struct{}),
	}
}

func (k *keeper) start() {
	ctx, cancel := context.WithCancel(context.Background())
	k.cancel = cancel
	k.done = make(chan struct{})
	go func() {
		defer close(k.done)
		ticker := time.NewTicker(k.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := k.refresh(ctx); err != nil {
					if ctx.Err() != nil {
						return
					}
					k.logger.Error("writer lease lost", zap.Error(err))
					k.markLost()
					return
				}
			}
		}
	}()
}

func (k *keeper) stop() {
	if k.cancel == nil {
		return
	}
	k.cancel()
	<-k.done
	k.cancel = nil
}

func (k *keeper) markLost() {
	k.lostOnce.Do(func() {
		close(k.lost)
	})
}

// Nop is a lease for stores that already lock exclusively, such as an
// embedded database directory.
type Nop struct {
	lost chan struct{}
}

func NewNop() *Nop {
	return &Nop{lost: make(chan struct{})}
}

func (Nop) Acquire(context.Context) error { return nil }

func (Nop) Release(context.Context) error { return nil }

// Lost never fires.
func (n *Nop) Lost() <-chan struct{} { return n.lost }
