// Package model defines domain models for net-flow ingestion.
package model

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// BlockRef identifies a block by height and hash together with its parent link.
type BlockRef struct {
	Height     uint64
	Hash       common.Hash
	ParentHash common.Hash
}

// IsZero reports whether the reference is unset.
func (r BlockRef) IsZero() bool {
	return r.Height == 0 && r.Hash == (common.Hash{}) && r.ParentHash == (common.Hash{})
}

func (r BlockRef) String() string {
	return fmt.Sprintf("#%d(%s)", r.Height, r.Hash.TerminalString())
}

// SegmentBlock is a block kept in the reorg-safety window together with the
// transfers whose effects it applied to the ledger.
type SegmentBlock struct {
	Ref       BlockRef
	Transfers []Transfer
}
