package model

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AddressSet is the static set of tracked addresses.
type AddressSet struct {
	members map[common.Address]struct{}
}

// NewAddressSet builds a set from the given addresses.
func NewAddressSet(addrs ...common.Address) AddressSet {
	members := make(map[common.Address]struct{}, len(addrs))
	for _, a := range addrs {
		members[a] = struct{}{}
	}
	return AddressSet{members: members}
}

// ParseAddressSet parses hex addresses, rejecting malformed input.
func ParseAddressSet(raw []string) (AddressSet, error) {
	addrs := make([]common.Address, 0, len(raw))
	for _, s := range raw {
		a, err := ParseAddress(s)
		if err != nil {
			return AddressSet{}, err
		}
		addrs = append(addrs, a)
	}
	return NewAddressSet(addrs...), nil
}

// ParseAddress parses a 0x-prefixed or bare 20-byte hex address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// Contains reports whether addr is tracked.
func (s AddressSet) Contains(addr common.Address) bool {
	_, ok := s.members[addr]
	return ok
}

// Len returns the number of tracked addresses.
func (s AddressSet) Len() int {
	return len(s.members)
}

// Sorted returns the tracked addresses in byte order.
func (s AddressSet) Sorted() []common.Address {
	out := make([]common.Address, 0, len(s.members))
	for a := range s.members {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
