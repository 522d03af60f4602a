package clickhouse

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
)

// NetflowAt returns the cumulative flows of an entry over all deltas at or
// below height. Reverted blocks cancel out through their negative rows and
// FINAL drops redelivered duplicates that have not been merged yet.
func (r *Repository) NetflowAt(ctx context.Context, key string, height uint64) (model.PointInTime, error) {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("netflow_at", err, start)
	}()

	const query = `
SELECT
	toString(sumIf(inflow, sign > 0)),
	toString(sumIf(inflow, sign < 0)),
	toString(sumIf(outflow, sign > 0)),
	toString(sumIf(outflow, sign < 0))
FROM netflow_deltas FINAL
WHERE entry_key = ? AND block_height <= ?`

	rows, err := r.conn.Query(ctx, query, key, height)
	if err != nil {
		return model.PointInTime{}, fmt.Errorf("query netflow at height: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close rows: %w", closeErr)
		}
	}()

	if !rows.Next() {
		err = fmt.Errorf("netflow at height %d not found", height)
		return model.PointInTime{}, err
	}

	var inPos, inNeg, outPos, outNeg string
	if err = rows.Scan(&inPos, &inNeg, &outPos, &outNeg); err != nil {
		return model.PointInTime{}, fmt.Errorf("scan netflow at height: %w", err)
	}
	if err = rows.Err(); err != nil {
		return model.PointInTime{}, fmt.Errorf("iterate netflow at height: %w", err)
	}

	in, err := signedSum(inPos, inNeg)
	if err != nil {
		return model.PointInTime{}, fmt.Errorf("inflow: %w", err)
	}
	out, err := signedSum(outPos, outNeg)
	if err != nil {
		return model.PointInTime{}, fmt.Errorf("outflow: %w", err)
	}
	return model.PointInTime{Key: key, Height: height, In: in, Out: out}, nil
}

func signedSum(pos, neg string) (*big.Int, error) {
	p, ok := new(big.Int).SetString(pos, 10)
	if !ok {
		return nil, fmt.Errorf("parse sum %q", pos)
	}
	n, ok := new(big.Int).SetString(neg, 10)
	if !ok {
		return nil, fmt.Errorf("parse sum %q", neg)
	}
	return p.Sub(p, n), nil
}
