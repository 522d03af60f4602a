package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
	"github.com/pelletier/go-toml/v2"
)

// addressesFile mirrors the tracked address list:
//
//	[exchanges]
//	binance = ["0x...", "0x..."]
type addressesFile struct {
	Exchanges map[string][]string `toml:"exchanges"`
}

// loadTrackedAddresses merges the --address flags with every list found under
// [exchanges] in path. An empty path skips the file.
func loadTrackedAddresses(flagged []string, path string) (model.AddressSet, error) {
	raw := append([]string(nil), flagged...)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return model.AddressSet{}, fmt.Errorf("read addresses file: %w", err)
		}
		var f addressesFile
		if err := toml.Unmarshal(data, &f); err != nil {
			return model.AddressSet{}, fmt.Errorf("decode addresses file %s: %w", path, err)
		}
		for _, list := range f.Exchanges {
			raw = append(raw, list...)
		}
	}

	set, err := model.ParseAddressSet(raw)
	if err != nil {
		return model.AddressSet{}, err
	}
	if set.Len() == 0 {
		return model.AddressSet{}, errors.New("no tracked addresses configured")
	}
	return set, nil
}
