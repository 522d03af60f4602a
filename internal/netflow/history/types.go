package history

import (
	"context"
	"time"

	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	Outbox interface {
		PendingHistory(ctx context.Context, limit int) ([]model.OutboxBatch, error)
		AckHistory(ctx context.Context, through model.OutboxBatch) error
		DeliveredHistory(ctx context.Context) (*model.BlockRef, error)
	}
	DeltaWriter interface {
		InsertDeltas(ctx context.Context, deltas []model.Delta) error
	}
	Metrics interface {
		Observe(err error, started time.Time)
	}
)
