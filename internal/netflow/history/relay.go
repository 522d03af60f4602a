// Package history relays the signed per-entry deltas that commits queue in
// the state store's outbox to the analytics store.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
	"go.uber.org/zap"
)

const finalDrainTimeout = 10 * time.Second

// Relay moves outbox batches into the analytics store in commit order. A
// batch leaves the outbox only after its deltas are inserted, so a failed
// insert or a crash redelivers it instead of losing it.
type Relay struct {
	logger    *zap.Logger
	outbox    Outbox
	writer    DeltaWriter
	metrics   Metrics
	batchSize int
	interval  time.Duration

	delivered atomic.Pointer[model.BlockRef]
	wake      chan struct{}

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRelay creates a Relay reading up to batchSize outbox batches per
// insert. It polls the outbox every interval and whenever Notify is called.
func NewRelay(logger *zap.Logger, outbox Outbox, writer DeltaWriter, metrics Metrics, batchSize int, interval time.Duration) (*Relay, error) {
	if outbox == nil || writer == nil {
		return nil, errors.New("history outbox and writer are required")
	}
	if batchSize < 1 {
		batchSize = 1
	}
	return &Relay{
		logger:    logger.Named("history_relay"),
		outbox:    outbox,
		writer:    writer,
		metrics:   metrics,
		batchSize: batchSize,
		interval:  interval,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}, nil
}

// Start restores the delivered cursor and relays in the background,
// beginning with whatever the outbox still holds.
func (r *Relay) Start(ctx context.Context) error {
	cursor, err := r.outbox.DeliveredHistory(ctx)
	if err != nil {
		return fmt.Errorf("load delivered history: %w", err)
	}
	if cursor != nil {
		r.delivered.Store(cursor)
	}
	r.wg.Add(1)
	go r.run(ctx)
	return nil
}

// Stop relays what is pending and stops. It is safe to call more than once.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	r.wg.Wait()
}

// Notify wakes the relay after a commit. It never blocks.
func (r *Relay) Notify(context.Context, model.CommittedBlock) error {
	select {
	case r.wake <- struct{}{}:
	default:
	}
	return nil
}

// Delivered returns the ledger cursor up to which the analytics store holds
// every committed delta.
func (r *Relay) Delivered() (model.BlockRef, bool) {
	c := r.delivered.Load()
	if c == nil {
		return model.BlockRef{}, false
	}
	return *c, true
}

func (r *Relay) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// The final pass outlives ctx so a clean shutdown leaves the outbox empty
	// when the analytics store is reachable.
	drain := func() {
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalDrainTimeout)
		defer cancel()
		r.relay(drainCtx)
	}

	r.relay(ctx)
	for {
		select {
		case <-ctx.Done():
			drain()
			return
		case <-r.stop:
			drain()
			return
		case <-r.wake:
			r.relay(ctx)
		case <-ticker.C:
			r.relay(ctx)
		}
	}
}

// relay delivers batches until the outbox is drained. A failed step leaves
// the outbox untouched for the next pass.
func (r *Relay) relay(ctx context.Context) {
	for {
		n, err := r.deliver(ctx)
		if err != nil {
			r.logger.Warn("history not delivered, will retry", zap.Error(err))
			return
		}
		if n < r.batchSize {
			return
		}
	}
}

func (r *Relay) deliver(ctx context.Context) (n int, err error) {
	start := time.Now()
	defer func() {
		if n > 0 || err != nil {
			r.metrics.Observe(err, start)
		}
	}()

	batches, err := r.outbox.PendingHistory(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("read history outbox: %w", err)
	}
	if len(batches) == 0 {
		return 0, nil
	}

	var deltas []model.Delta
	for _, b := range batches {
		deltas = append(deltas, b.Deltas...)
	}
	last := batches[len(batches)-1]
	if len(deltas) > 0 {
		if err = r.writer.InsertDeltas(ctx, deltas); err != nil {
			return 0, fmt.Errorf("insert history through batch %d: %w", last.Seq, err)
		}
	}
	if err = r.outbox.AckHistory(ctx, last); err != nil {
		return 0, fmt.Errorf("ack history through batch %d: %w", last.Seq, err)
	}

	r.delivered.Store(&last.Cursor)
	r.logger.Debug("history delivered",
		zap.Int("batches", len(batches)),
		zap.Int("deltas", len(deltas)),
		zap.Stringer("cursor", last.Cursor),
	)
	return len(batches), nil
}
