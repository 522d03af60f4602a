package ingester

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	Store interface {
		LoadState(ctx context.Context) (model.State, error)
		CommitBlock(ctx context.Context, c model.Commit) error
	}
	Source interface {
		HeaderByHash(ctx context.Context, hash common.Hash) (model.BlockRef, error)
		BlockByHash(ctx context.Context, hash common.Hash) (model.SegmentBlock, error)
	}
	Poller interface {
		Poll(ctx context.Context, from uint64, tip model.BlockRef) <-chan model.SegmentBlock
	}
	// Notifier receives every durably committed block. Failures are logged
	// and never roll back the commit.
	Notifier interface {
		Notify(ctx context.Context, c model.CommittedBlock) error
	}
	Metrics interface {
		ObserveProcessBlock(outcome string, err error, started time.Time)
		ObserveReorg(depth int)
		ObserveCommitRetry()
		ObserveCursor(height uint64)
		ObserveRun(err error)
	}
)
