package query

import (
	"context"

	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	SnapshotReader interface {
		Snapshot() *model.Snapshot
		Tracked() model.AddressSet
	}
	HistoryReader interface {
		NetflowAt(ctx context.Context, key string, height uint64) (model.PointInTime, error)
	}
	HistoryProgress interface {
		Delivered() (model.BlockRef, bool)
	}
)
