package pxconfig

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gordian-engine/gproxy/px/pxchain"
)

// GenesisConfig describes the initial state of a network.
//
// The proxy reads it only to derive the [pxchain.NetworkDescription];
// the committee and chain lists are carried opaquely.
type GenesisConfig struct {
	NetworkName  string            `json:"network_name"`
	Timestamp    pxchain.Timestamp `json:"timestamp"`
	AdminChainID pxchain.ChainID   `json:"admin_chain_id"`

	Committee json.RawMessage `json:"committee,omitempty"`
	Chains    json.RawMessage `json:"chains,omitempty"`
}

// Hash returns the Keccak-256 hash of the canonical JSON encoding of c.
func (c GenesisConfig) Hash() pxchain.CryptoHash {
	j, err := json.Marshal(c)
	if err != nil {
		panic(fmt.Errorf("BUG: failed to marshal genesis config: %w", err))
	}
	return pxchain.NewCryptoHash(j)
}

// NetworkDescription returns the description stored at genesis.
func (c GenesisConfig) NetworkDescription() pxchain.NetworkDescription {
	return pxchain.NetworkDescription{
		Name:              c.NetworkName,
		GenesisConfigHash: c.Hash(),
		GenesisTimestamp:  c.Timestamp,
	}
}

// LoadGenesisConfig reads the JSON genesis configuration at path.
func LoadGenesisConfig(path string) (GenesisConfig, error) {
	var cfg GenesisConfig
	if err := readJSON(path, &cfg); err != nil {
		return GenesisConfig{}, err
	}
	if cfg.NetworkName == "" {
		return GenesisConfig{}, fmt.Errorf("invalid genesis config %q: %w", path, errors.New("network_name must be set"))
	}
	return cfg, nil
}
