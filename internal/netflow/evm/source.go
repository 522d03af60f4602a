// Package evm reads token transfers from an EVM chain over JSON-RPC.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
	"go.uber.org/zap"
)

// Source implements the chain reader on top of an EthClient. Transient RPC
// failures are retried with exponential backoff; unknown blocks surface as
// model.ErrBlockNotFound and exhausted retries as *model.TransientChainError.
type Source struct {
	rpc        EthClient
	classifier *Classifier
	logger     *zap.Logger
	newBackOff func() backoff.BackOff
}

// NewSource creates a Source. maxElapsed bounds the retry time of one call.
func NewSource(logger *zap.Logger, rpc EthClient, classifier *Classifier, maxElapsed time.Duration) *Source {
	return &Source{
		rpc:        rpc,
		classifier: classifier,
		logger:     logger.Named("evm_source"),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = maxElapsed
			return b
		},
	}
}

// Head returns the reader's current canonical tip.
func (s *Source) Head(ctx context.Context) (model.BlockRef, error) {
	var ref model.BlockRef
	err := s.retry(ctx, "head", func(ctx context.Context) error {
		header, err := s.rpc.HeaderByNumber(ctx, nil)
		if err != nil {
			return err
		}
		ref, err = blockRef(header)
		return err
	})
	return ref, err
}

// HeaderByHash returns the reference of the block with hash.
func (s *Source) HeaderByHash(ctx context.Context, hash common.Hash) (model.BlockRef, error) {
	var ref model.BlockRef
	err := s.retry(ctx, "header_by_hash", func(ctx context.Context) error {
		header, err := s.rpc.HeaderByHash(ctx, hash)
		if err != nil {
			return err
		}
		ref, err = blockRef(header)
		return err
	})
	return ref, err
}

// BlockByNumber returns the canonical block at height with its token transfers.
func (s *Source) BlockByNumber(ctx context.Context, height uint64) (model.SegmentBlock, error) {
	var block model.SegmentBlock
	err := s.retry(ctx, "block_by_number", func(ctx context.Context) error {
		header, err := s.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(height))
		if err != nil {
			return err
		}
		block, err = s.block(ctx, header)
		return err
	})
	return block, err
}

// BlockByHash returns the block with hash and its token transfers.
func (s *Source) BlockByHash(ctx context.Context, hash common.Hash) (model.SegmentBlock, error) {
	var block model.SegmentBlock
	err := s.retry(ctx, "block_by_hash", func(ctx context.Context) error {
		header, err := s.rpc.HeaderByHash(ctx, hash)
		if err != nil {
			return err
		}
		block, err = s.block(ctx, header)
		return err
	})
	return block, err
}

func (s *Source) block(ctx context.Context, header *types.Header) (model.SegmentBlock, error) {
	ref, err := blockRef(header)
	if err != nil {
		return model.SegmentBlock{}, err
	}
	hash := ref.Hash
	logs, err := s.rpc.FilterLogs(ctx, ethereum.FilterQuery{
		BlockHash: &hash,
		Addresses: []common.Address{s.classifier.Token()},
		Topics:    [][]common.Hash{{TransferTopic}},
	})
	if err != nil {
		return model.SegmentBlock{}, fmt.Errorf("filter logs of block %s: %w", ref, err)
	}

	transfers := make([]model.Transfer, 0, len(logs))
	for _, lg := range logs {
		if lg.BlockHash != ref.Hash {
			return model.SegmentBlock{}, fmt.Errorf("log %d of tx %s belongs to block %s, want %s",
				lg.Index, lg.TxHash, lg.BlockHash, ref.Hash)
		}
		t, ok := s.classifier.Classify(lg)
		if !ok {
			continue
		}
		t.BlockHeight = ref.Height
		t.BlockHash = ref.Hash
		transfers = append(transfers, t)
	}
	sort.SliceStable(transfers, func(i, j int) bool {
		return transfers[i].LogIndex < transfers[j].LogIndex
	})
	return model.SegmentBlock{Ref: ref, Transfers: transfers}, nil
}

func (s *Source) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	err := backoff.RetryNotify(func() error {
		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ethereum.NotFound):
			return backoff.Permanent(fmt.Errorf("%s: %w", op, model.ErrBlockNotFound))
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		default:
			return err
		}
	}, backoff.WithContext(s.newBackOff(), ctx), func(err error, d time.Duration) {
		s.logger.Warn("rpc call failed, retrying",
			zap.String("operation", op),
			zap.Duration("backoff", d),
			zap.Error(err),
		)
	})
	if err == nil || errors.Is(err, model.ErrBlockNotFound) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &model.TransientChainError{Op: op, Err: err}
}

func blockRef(header *types.Header) (model.BlockRef, error) {
	if header == nil || header.Number == nil {
		return model.BlockRef{}, errors.New("rpc returned an empty header")
	}
	if !header.Number.IsUint64() {
		return model.BlockRef{}, fmt.Errorf("block number %s out of range", header.Number)
	}
	return model.BlockRef{
		Height:     header.Number.Uint64(),
		Hash:       header.Hash(),
		ParentHash: header.ParentHash,
	}, nil
}
