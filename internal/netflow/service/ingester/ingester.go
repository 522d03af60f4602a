// Package ingester runs the single net-flow writer: it reconciles polled
// blocks with the canonical chain tracker, stages ledger changes and commits
// them durably one block at a time, in chain order.
package ingester

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goodnatureofminers/netflow-backend/internal/clock"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/ledger"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/tracker"
	"go.uber.org/zap"
)

// Service is the ingestion pipeline. Only one Service may write to a store
// at a time; callers hold the writer lease for the lifetime of Run.
type Service struct {
	logger        *zap.Logger
	store         Store
	source        Source
	poller        Poller
	ledger        *ledger.Ledger
	tracker       *tracker.Tracker
	metrics       Metrics
	notifiers     []Notifier
	history       bool
	startHeight   uint64
	sleep         func(context.Context, time.Duration) error
	sleepDuration time.Duration
	newBackOff    func() backoff.BackOff
}

// Option configures optional Service behavior.
type Option func(*Service)

// WithNotifiers registers receivers of every committed block.
func WithNotifiers(notifiers ...Notifier) Option {
	return func(s *Service) {
		s.notifiers = append(s.notifiers, notifiers...)
	}
}

// WithHistoryOutbox queues the signed deltas of every commit in the store's
// history outbox, atomically with the commit.
func WithHistoryOutbox() Option {
	return func(s *Service) {
		s.history = true
	}
}

// NewService builds a Service. startHeight is used only when the store holds
// no state yet.
func NewService(
	logger *zap.Logger,
	store Store,
	source Source,
	poller Poller,
	netflows *ledger.Ledger,
	chain *tracker.Tracker,
	metrics Metrics,
	startHeight uint64,
	opts ...Option,
) (*Service, error) {
	if store == nil || source == nil || poller == nil {
		return nil, errors.New("ingester store, source and poller are required")
	}
	if netflows == nil || chain == nil {
		return nil, errors.New("ingester ledger and tracker are required")
	}
	if metrics == nil {
		return nil, errors.New("ingester metrics is required")
	}

	s := &Service{
		logger:        logger.Named("ingester"),
		store:         store,
		source:        source,
		poller:        poller,
		ledger:        netflows,
		tracker:       chain,
		metrics:       metrics,
		startHeight:   startHeight,
		sleep:         clock.SleepWithContext,
		sleepDuration: sleepDuration,
		newBackOff: func() backoff.BackOff {
			return newCommitBackOff(commitMaxElapsed)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func newCommitBackOff(maxElapsed time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = commitInitialInterval
	b.MaxInterval = commitMaxInterval
	b.MaxElapsedTime = maxElapsed
	b.Reset()
	return b
}

// Run processes blocks until ctx is canceled or a fatal error occurs. Every
// polling session starts from freshly loaded durable state, so a session
// ending in any recoverable error resumes exactly after the last commit.
func (s *Service) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := s.run(ctx)
		s.metrics.ObserveRun(err)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if model.IsFatal(err) {
			s.logger.Error("ingestion halted, operator resync required", zap.Error(err))
			return err
		}
		s.logger.Warn("run iteration failed, backing off", zap.Error(err), zap.Duration("sleep", s.sleepDuration))
		if sleepErr := s.sleep(ctx, s.sleepDuration); sleepErr != nil {
			return sleepErr
		}
	}
}

func (s *Service) run(ctx context.Context) error {
	if err := s.restore(ctx); err != nil {
		return err
	}

	from := s.startHeight
	tip, ok := s.tracker.Tip()
	if ok {
		from = tip.Height + 1
	}
	s.logger.Info("polling blocks", zap.Uint64("from", from), zap.Stringer("tip", tip))

	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for block := range s.poller.Poll(pollCtx, from, tip) {
		if err := s.process(ctx, block); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// restore replaces in-memory state with the last durable commit.
func (s *Service) restore(ctx context.Context) error {
	state, err := s.store.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if err := checkState(state); err != nil {
		return err
	}
	if err := s.tracker.Load(state.Segment); err != nil {
		return fmt.Errorf("load segment: %w", err)
	}
	s.ledger.Load(state)
	if state.Cursor != nil {
		s.metrics.ObserveCursor(state.Cursor.Height)
	}
	return nil
}

func checkState(state model.State) error {
	switch {
	case state.Cursor == nil && len(state.Segment) == 0:
		return nil
	case state.Cursor == nil:
		return fmt.Errorf("segment of %d blocks without cursor: %w", len(state.Segment), model.ErrGap)
	case len(state.Segment) == 0:
		return fmt.Errorf("cursor %s without segment: %w", state.Cursor, model.ErrGap)
	}
	tip := state.Segment[len(state.Segment)-1].Ref
	if tip.Hash != state.Cursor.Hash || tip.Height != state.Cursor.Height {
		return fmt.Errorf("cursor %s does not match segment tip %s: %w", state.Cursor, tip, model.ErrGap)
	}
	return nil
}

func (s *Service) process(ctx context.Context, block model.SegmentBlock) error {
	started := time.Now()
	outcome, err := s.tracker.Observe(ctx, block.Ref, s.source)
	if err != nil {
		s.metrics.ObserveProcessBlock("observe", err, started)
		return fmt.Errorf("observe block %s: %w", block.Ref, err)
	}

	switch outcome.Kind {
	case tracker.Duplicate:
		s.logger.Debug("block already recorded", zap.Stringer("block", block.Ref))
	case tracker.Extend:
		err = s.commit(ctx, block, nil)
	case tracker.Reorg:
		s.metrics.ObserveReorg(outcome.Depth())
		s.logger.Warn("reorg detected",
			zap.Stringer("block", block.Ref),
			zap.Uint64("ancestor_height", outcome.AncestorHeight),
			zap.Int("depth", outcome.Depth()),
			zap.Int("branch", len(outcome.Branch)),
		)
		err = s.reorg(ctx, block, outcome)
	}
	s.metrics.ObserveProcessBlock(outcome.Kind.String(), err, started)
	return err
}

// reorg undoes the diverged blocks together with the first block of the new
// branch, then extends through the rest of the branch up to block.
func (s *Service) reorg(ctx context.Context, block model.SegmentBlock, outcome tracker.Outcome) error {
	chain := make([]model.SegmentBlock, 0, len(outcome.Branch)+1)
	for _, ref := range outcome.Branch {
		b, err := s.source.BlockByHash(ctx, ref.Hash)
		if err != nil {
			return fmt.Errorf("fetch branch block %s: %w", ref, err)
		}
		if b.Ref != ref {
			return fmt.Errorf("fetch branch block %s: got %s", ref, b.Ref)
		}
		chain = append(chain, b)
	}
	chain = append(chain, block)

	undo := outcome.Diverged
	for _, b := range chain {
		if err := s.commit(ctx, b, undo); err != nil {
			return err
		}
		undo = nil
	}
	return nil
}

// commit applies block after reverting undo (most recent first), persists the
// result and only then publishes it to readers and the tracker.
func (s *Service) commit(ctx context.Context, block model.SegmentBlock, undo []model.SegmentBlock) error {
	txn := s.ledger.Begin()
	for _, d := range undo {
		if err := txn.Revert(d.Ref, d.Transfers); err != nil {
			txn.Discard()
			return fmt.Errorf("revert block %s: %w", d.Ref, err)
		}
	}
	relevant := model.SegmentBlock{Ref: block.Ref, Transfers: s.ledger.Relevant(block.Transfers)}
	if err := txn.Apply(relevant.Ref, relevant.Transfers); err != nil {
		txn.Discard()
		return fmt.Errorf("apply block %s: %w", block.Ref, err)
	}

	undoRefs := make([]model.BlockRef, 0, len(undo))
	for _, d := range undo {
		undoRefs = append(undoRefs, d.Ref)
	}
	committed := model.CommittedBlock{Block: relevant, Reverted: undo, Entries: txn.Changes()}
	c := model.Commit{
		Block:         relevant,
		Undo:          undoRefs,
		Entries:       committed.Entries,
		Cursor:        block.Ref,
		PruneBelow:    s.tracker.PruneHeight(block.Ref),
		RecordHistory: s.history,
	}
	if s.history {
		c.Deltas = model.HistoryDeltas(s.ledger.Tracked(), committed)
	}
	if err := s.persist(ctx, c); err != nil {
		txn.Discard()
		if errors.Is(err, model.ErrAlreadyApplied) {
			s.logger.Warn("store already holds block, reloading state", zap.Stringer("block", block.Ref))
		}
		return fmt.Errorf("commit block %s: %w", block.Ref, err)
	}

	txn.Commit(block.Ref)
	if len(undoRefs) > 0 {
		s.tracker.Rewind(undoRefs[len(undoRefs)-1].Height - 1)
	}
	s.tracker.Push(relevant)
	s.ledger.Forget(c.PruneBelow)
	s.metrics.ObserveCursor(block.Ref.Height)

	s.notify(ctx, committed)
	return nil
}

// persist retries failed commits while the store reports a persistence
// error, for at most commitMaxElapsed. The commit itself is not canceled by
// ctx; shutdown takes effect between attempts.
func (s *Service) persist(ctx context.Context, c model.Commit) error {
	commitCtx := context.WithoutCancel(ctx)
	err := backoff.RetryNotify(func() error {
		err := s.store.CommitBlock(commitCtx, c)
		var pe *model.PersistenceError
		if err == nil || errors.As(err, &pe) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(s.newBackOff(), ctx), func(err error, d time.Duration) {
		s.metrics.ObserveCommitRetry()
		s.logger.Warn("commit failed, retrying",
			zap.Stringer("block", c.Cursor),
			zap.Duration("backoff", d),
			zap.Error(err),
		)
	})
	var pe *model.PersistenceError
	if errors.As(err, &pe) {
		s.logger.Error("commit retries exhausted", zap.Stringer("block", c.Cursor), zap.Error(err))
	}
	return err
}

// notify runs after the commit is durable, so receivers get a context that
// survives shutdown but is bounded by notifyTimeout.
func (s *Service) notify(ctx context.Context, c model.CommittedBlock) {
	if len(s.notifiers) == 0 {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	for _, n := range s.notifiers {
		if err := n.Notify(notifyCtx, c); err != nil {
			s.logger.Warn("notify committed block failed",
				zap.Stringer("block", c.Block.Ref),
				zap.Error(err),
			)
		}
	}
}
