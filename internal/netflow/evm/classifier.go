package evm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
)

// TransferTopic is topic zero of the ERC-20 Transfer event.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Classifier decodes Transfer logs emitted by a single token contract.
type Classifier struct {
	token common.Address
}

// NewClassifier returns a classifier for token.
func NewClassifier(token common.Address) *Classifier {
	return &Classifier{token: token}
}

// Token returns the classified contract address.
func (c *Classifier) Token() common.Address {
	return c.token
}

// Classify decodes lg as a token transfer. Logs from other contracts, other
// events, removed logs and malformed encodings are reported as not a transfer.
func (c *Classifier) Classify(lg types.Log) (model.Transfer, bool) {
	if lg.Removed || lg.Address != c.token {
		return model.Transfer{}, false
	}
	if len(lg.Topics) != 3 || lg.Topics[0] != TransferTopic || len(lg.Data) != 32 {
		return model.Transfer{}, false
	}
	from, ok := topicAddress(lg.Topics[1])
	if !ok {
		return model.Transfer{}, false
	}
	to, ok := topicAddress(lg.Topics[2])
	if !ok {
		return model.Transfer{}, false
	}

	t := model.Transfer{
		BlockHeight: lg.BlockNumber,
		BlockHash:   lg.BlockHash,
		TxHash:      lg.TxHash,
		TxIndex:     lg.TxIndex,
		LogIndex:    lg.Index,
		From:        from,
		To:          to,
	}
	t.Amount.SetBytes32(lg.Data)
	return t, true
}

// topicAddress extracts an address from an indexed topic word. The upper
// twelve bytes of a well-formed word are zero.
func topicAddress(word common.Hash) (common.Address, bool) {
	for _, b := range word[:common.HashLength-common.AddressLength] {
		if b != 0 {
			return common.Address{}, false
		}
	}
	return common.BytesToAddress(word[common.HashLength-common.AddressLength:]), true
}
