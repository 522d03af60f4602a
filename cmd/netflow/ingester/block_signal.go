package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/goodnatureofminers/netflow-backend/internal/clock"
	"go.uber.org/zap"
)

const resubscribeDelay = time.Second

// startBlockSignal subscribes to new heads over the websocket endpoint and
// fires the returned channel for each one. The poller still falls back to
// its interval when notifications stop.
func startBlockSignal(ctx context.Context, addr string, logger *zap.Logger) (<-chan struct{}, error) {
	if addr == "" {
		return nil, nil
	}

	client, err := ethclient.DialContext(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}

	notify := make(chan struct{}, 1)
	logger = logger.Named("block_signal")

	go func() {
		defer client.Close()
		for {
			err := subscribeHeads(ctx, client, notify, logger)
			if ctx.Err() != nil {
				return
			}
			logger.Warn("new head subscription failed", zap.Error(err))
			if clock.SleepWithContext(ctx, resubscribeDelay) != nil {
				return
			}
		}
	}()

	return notify, nil
}

func subscribeHeads(ctx context.Context, client *ethclient.Client, notify chan<- struct{}, logger *zap.Logger) error {
	heads := make(chan *types.Header, 16)
	sub, err := client.SubscribeNewHead(ctx, heads)
	if err != nil {
		return fmt.Errorf("subscribe new heads: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("new heads subscription: %w", err)
		case header := <-heads:
			logger.Debug("new head", zap.Uint64("height", header.Number.Uint64()))
			select {
			case notify <- struct{}{}:
			default:
			}
		}
	}
}
