// Package pxconfig loads the configuration files a proxy is started with:
// the validator server configuration and the genesis configuration.
package pxconfig

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/gordian-engine/gproxy/px/pxnet"
)

// ValidatorPublicKey identifies a validator.
// The proxy only uses it to label logs and metrics.
type ValidatorPublicKey []byte

func (k ValidatorPublicKey) String() string {
	return hex.EncodeToString(k)
}

func (k ValidatorPublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ValidatorPublicKey) UnmarshalText(b []byte) error {
	dec, err := hex.DecodeString(string(b))
	if err != nil {
		return fmt.Errorf("invalid validator public key: %w", err)
	}
	*k = dec
	return nil
}

// ValidatorConfig is the public face of one validator.
type ValidatorConfig struct {
	PublicKey ValidatorPublicKey        `json:"public_key"`
	Network   pxnet.PublicNetworkConfig `json:"network"`
}

// ValidatorServerConfig is the full configuration file of a validator's proxy.
type ValidatorServerConfig struct {
	Validator       ValidatorConfig             `json:"validator"`
	InternalNetwork pxnet.InternalNetworkConfig `json:"internal_network"`
}

// Validate reports every problem with c, joined.
func (c ValidatorServerConfig) Validate() error {
	var errs []error
	if len(c.Validator.PublicKey) == 0 {
		errs = append(errs, errors.New("validator public key must be set"))
	}
	if err := c.Validator.Network.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("public network: %w", err))
	}
	if err := c.InternalNetwork.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("internal network: %w", err))
	}
	return errors.Join(errs...)
}

// LoadServerConfig reads and validates the JSON server configuration at path.
func LoadServerConfig(path string) (ValidatorServerConfig, error) {
	var cfg ValidatorServerConfig
	if err := readJSON(path, &cfg); err != nil {
		return ValidatorServerConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return ValidatorServerConfig{}, fmt.Errorf("invalid server config %q: %w", path, err)
	}
	return cfg, nil
}

func readJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to decode %q: %w", path, err)
	}
	return nil
}
