package pxnet

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/asaskevich/govalidator"
)

// ShardConfig is the network location of one internal shard.
type ShardConfig struct {
	Host string `json:"host"`
	Port uint16 `json:"port"`

	// Port of the shard's own metrics endpoint, if any.
	// The proxy does not use it; it is kept for operators reading the config.
	MetricsPort uint16 `json:"metrics_port,omitempty"`
}

// Address returns the host:port dial address of the shard.
func (s ShardConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(int(s.Port)))
}

// InternalNetworkConfig describes the shards behind a proxy.
//
// The order of Shards is significant:
// the shard assignment is an index into this slice.
type InternalNetworkConfig struct {
	// Hex-encoded public key of the validator these shards belong to.
	PublicKey string `json:"public_key,omitempty"`

	Protocol NetworkProtocol `json:"protocol"`
	Shards   []ShardConfig   `json:"shards"`

	// Host and port of the proxy as seen from inside the validator network.
	Host string `json:"host,omitempty"`
	Port uint16 `json:"port,omitempty"`

	// Port for the proxy's metrics endpoint. Zero disables it.
	MetricsPort uint16 `json:"metrics_port,omitempty"`
}

// Validate reports every problem with c, joined.
func (c InternalNetworkConfig) Validate() error {
	var errs []error

	if !c.Protocol.Valid() {
		errs = append(errs, fmt.Errorf("invalid internal protocol %q", c.Protocol))
	}

	if len(c.Shards) == 0 {
		errs = append(errs, errors.New("internal network must have at least one shard"))
	}

	seen := make(map[string]int, len(c.Shards))
	for i, s := range c.Shards {
		if !govalidator.IsHost(s.Host) {
			errs = append(errs, fmt.Errorf("shard %d: invalid host %q", i, s.Host))
		}
		if !govalidator.IsPort(strconv.Itoa(int(s.Port))) {
			errs = append(errs, fmt.Errorf("shard %d: invalid port %d", i, s.Port))
		}
		addr := s.Address()
		if j, ok := seen[addr]; ok {
			errs = append(errs, fmt.Errorf("shard %d: address %s duplicates shard %d", i, addr, j))
		}
		seen[addr] = i
	}

	if c.Host != "" && !govalidator.IsHost(c.Host) {
		errs = append(errs, fmt.Errorf("invalid internal host %q", c.Host))
	}

	return errors.Join(errs...)
}

// PublicNetworkConfig describes how external clients reach the proxy.
type PublicNetworkConfig struct {
	Protocol NetworkProtocol `json:"protocol"`

	// Host is the address clients use to reach the proxy.
	// The proxy itself binds every interface.
	Host string `json:"host"`
	Port uint16 `json:"port"`

	// Certificate and key for the grpcs protocol.
	TLSCertPath string `json:"tls_cert_path,omitempty"`
	TLSKeyPath  string `json:"tls_key_path,omitempty"`
}

// Validate reports every problem with c, joined.
func (c PublicNetworkConfig) Validate() error {
	var errs []error

	if !c.Protocol.Valid() {
		errs = append(errs, fmt.Errorf("invalid public protocol %q", c.Protocol))
	}
	if c.Host != "" && !govalidator.IsHost(c.Host) {
		errs = append(errs, fmt.Errorf("invalid public host %q", c.Host))
	}
	if c.Protocol.TLS() && (c.TLSCertPath == "" || c.TLSKeyPath == "") {
		errs = append(errs, fmt.Errorf("protocol %s requires tls_cert_path and tls_key_path", c.Protocol))
	}

	return errors.Join(errs...)
}
