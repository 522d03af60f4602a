package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Transfer is a decoded token transfer. Amount is expressed in the token's
// smallest unit.
type Transfer struct {
	BlockHeight uint64
	BlockHash   common.Hash
	TxHash      common.Hash
	TxIndex     uint
	LogIndex    uint
	From        common.Address
	To          common.Address
	Amount      uint256.Int
}
