package evm

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	// EthClient is the subset of ethclient.Client used by the reader.
	EthClient interface {
		HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
		HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error)
		FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	}

	// RPCMetrics records metrics for RPC calls.
	RPCMetrics interface {
		Observe(operation string, err error, started time.Time)
	}

	// BlockSource fetches classified blocks from the canonical chain.
	BlockSource interface {
		Head(ctx context.Context) (model.BlockRef, error)
		BlockByNumber(ctx context.Context, height uint64) (model.SegmentBlock, error)
	}
)
