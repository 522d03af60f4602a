// Package query answers net-flow reads from committed ledger snapshots and,
// for past heights, from the history store.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
)

// ErrHeightAhead is returned for historical queries above the committed cursor.
var ErrHeightAhead = errors.New("height not ingested yet")

// Netflow is a committed entry together with the block it reflects.
type Netflow struct {
	Entry  model.Entry
	Cursor model.BlockRef
}

type Service struct {
	snapshots SnapshotReader
	history   HistoryReader
	progress  HistoryProgress
}

// NewService creates a query Service. history and progress may be nil when
// no history store is configured. progress reports the cursor up to which
// the history store is complete.
func NewService(snapshots SnapshotReader, history HistoryReader, progress HistoryProgress) *Service {
	return &Service{snapshots: snapshots, history: history, progress: progress}
}

// Current returns the latest committed totals of a tracked address.
func (s *Service) Current(addr common.Address) (Netflow, error) {
	if !s.snapshots.Tracked().Contains(addr) {
		return Netflow{}, fmt.Errorf("current netflow of %s: %w", addr, model.ErrNotTracked)
	}
	snap := s.snapshots.Snapshot()
	if snap == nil {
		return Netflow{}, fmt.Errorf("current netflow of %s: %w", addr, model.ErrUnavailable)
	}
	e, ok := snap.Entry(addr)
	if !ok {
		return Netflow{}, fmt.Errorf("current netflow of %s: %w", addr, model.ErrNotTracked)
	}
	return Netflow{Entry: e, Cursor: snap.Cursor}, nil
}

// CurrentAggregate returns the latest committed totals across all tracked
// addresses.
func (s *Service) CurrentAggregate() (Netflow, error) {
	snap := s.snapshots.Snapshot()
	if snap == nil {
		return Netflow{}, fmt.Errorf("current aggregate netflow: %w", model.ErrUnavailable)
	}
	return Netflow{Entry: snap.Aggregate, Cursor: snap.Cursor}, nil
}

// At returns the totals of a tracked address as of height.
func (s *Service) At(ctx context.Context, addr common.Address, height uint64) (model.PointInTime, error) {
	if !s.snapshots.Tracked().Contains(addr) {
		return model.PointInTime{}, fmt.Errorf("netflow of %s at %d: %w", addr, height, model.ErrNotTracked)
	}
	return s.at(ctx, model.Entry{Address: addr}.Key(), height)
}

// AggregateAt returns the aggregate totals as of height.
func (s *Service) AggregateAt(ctx context.Context, height uint64) (model.PointInTime, error) {
	return s.at(ctx, model.AggregateKey, height)
}

func (s *Service) at(ctx context.Context, key string, height uint64) (model.PointInTime, error) {
	if s.history == nil || s.progress == nil {
		return model.PointInTime{}, fmt.Errorf("history store not configured: %w", model.ErrUnavailable)
	}
	snap := s.snapshots.Snapshot()
	if snap == nil {
		return model.PointInTime{}, fmt.Errorf("netflow of %s at %d: %w", key, height, model.ErrUnavailable)
	}
	if height > snap.Cursor.Height {
		return model.PointInTime{}, fmt.Errorf("netflow of %s at %d, cursor %d: %w", key, height, snap.Cursor.Height, ErrHeightAhead)
	}
	// Committed but not yet relayed heights would read partial history.
	delivered, ok := s.progress.Delivered()
	if !ok || height > delivered.Height {
		return model.PointInTime{}, fmt.Errorf("netflow of %s at %d, history behind: %w", key, height, model.ErrUnavailable)
	}
	p, err := s.history.NetflowAt(ctx, key, height)
	if err != nil {
		return model.PointInTime{}, fmt.Errorf("netflow of %s at %d: %w", key, height, err)
	}
	return p, nil
}
