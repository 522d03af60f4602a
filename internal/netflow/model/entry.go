package model

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AggregateKey is the storage key of the entry summing all tracked addresses.
const AggregateKey = "aggregate"

// Entry holds cumulative flows for one tracked address or for the aggregate.
type Entry struct {
	Address   common.Address
	Aggregate bool
	In        uint256.Int
	Out       uint256.Int
}

// Key returns the storage key of the entry.
func (e Entry) Key() string {
	if e.Aggregate {
		return AggregateKey
	}
	return strings.ToLower(e.Address.Hex())
}

// Netflow returns In - Out as a signed integer.
func (e Entry) Netflow() *big.Int {
	return new(big.Int).Sub(e.In.ToBig(), e.Out.ToBig())
}

// EntryFromKey restores the identity part of an entry from its storage key.
func EntryFromKey(key string) (Entry, error) {
	if key == AggregateKey {
		return Entry{Aggregate: true}, nil
	}
	addr, err := ParseAddress(key)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Address: addr}, nil
}
