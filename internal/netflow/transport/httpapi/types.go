package httpapi

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/service/query"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	QueryService interface {
		Current(addr common.Address) (query.Netflow, error)
		CurrentAggregate() (query.Netflow, error)
		At(ctx context.Context, addr common.Address, height uint64) (model.PointInTime, error)
		AggregateAt(ctx context.Context, height uint64) (model.PointInTime, error)
	}
	Metrics interface {
		Observe(route string, code int, started time.Time)
	}
)
