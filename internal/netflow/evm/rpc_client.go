package evm

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/ratelimit"
)

// RPCClient wraps an ethclient with rate limiting, call timeouts and metrics.
type RPCClient struct {
	client     EthClient
	rpcMetrics RPCMetrics
	limiter    ratelimit.Limiter
	timeout    time.Duration
}

// NewRPCClient constructs an instrumented RPC client. A non-positive rps
// disables rate limiting; a non-positive timeout disables per-call deadlines.
func NewRPCClient(client EthClient, rpcMetrics RPCMetrics, rps int, timeout time.Duration) *RPCClient {
	limiter := ratelimit.NewUnlimited()
	if rps > 0 {
		limiter = ratelimit.New(rps)
	}
	return &RPCClient{
		client:     client,
		rpcMetrics: rpcMetrics,
		limiter:    limiter,
		timeout:    timeout,
	}
}

// HeaderByNumber returns the header at number, or the head when number is nil.
func (r *RPCClient) HeaderByNumber(ctx context.Context, number *big.Int) (header *types.Header, err error) {
	started := time.Now()
	defer func() {
		r.rpcMetrics.Observe("header_by_number", err, started)
	}()
	ctx, cancel := r.callContext(ctx)
	defer cancel()
	return r.client.HeaderByNumber(ctx, number)
}

// HeaderByHash returns the header with the given hash.
func (r *RPCClient) HeaderByHash(ctx context.Context, hash common.Hash) (header *types.Header, err error) {
	started := time.Now()
	defer func() {
		r.rpcMetrics.Observe("header_by_hash", err, started)
	}()
	ctx, cancel := r.callContext(ctx)
	defer cancel()
	return r.client.HeaderByHash(ctx, hash)
}

// FilterLogs returns logs matching q.
func (r *RPCClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) (logs []types.Log, err error) {
	started := time.Now()
	defer func() {
		r.rpcMetrics.Observe("filter_logs", err, started)
	}()
	ctx, cancel := r.callContext(ctx)
	defer cancel()
	return r.client.FilterLogs(ctx, q)
}

func (r *RPCClient) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	r.limiter.Take()
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}
