package pxnet

import "fmt"

// Family is the wire-protocol family of a [NetworkProtocol].
// A proxy can only bridge two networks of the same family.
type Family uint8

const (
	FamilySimple Family = iota + 1
	FamilyGRPC
)

func (f Family) String() string {
	switch f {
	case FamilySimple:
		return "simple"
	case FamilyGRPC:
		return "grpc"
	default:
		return fmt.Sprintf("Family(%d)", uint8(f))
	}
}

// TransportProtocol is the transport of the simple family.
type TransportProtocol uint8

const (
	TransportTCP TransportProtocol = iota + 1
	TransportUDP
)

func (t TransportProtocol) String() string {
	switch t {
	case TransportTCP:
		return "tcp"
	case TransportUDP:
		return "udp"
	default:
		return fmt.Sprintf("TransportProtocol(%d)", uint8(t))
	}
}

// NetworkProtocol is the closed set of protocols a validator network can speak.
// The zero value is invalid.
type NetworkProtocol uint8

const (
	// Simple framing over TCP.
	ProtocolTCP NetworkProtocol = iota + 1

	// Simple framing over UDP, one message per datagram.
	ProtocolUDP

	// gRPC over cleartext HTTP/2.
	ProtocolGRPC

	// gRPC over TLS.
	ProtocolGRPCS
)

var protocolNames = map[NetworkProtocol]string{
	ProtocolTCP:   "tcp",
	ProtocolUDP:   "udp",
	ProtocolGRPC:  "grpc",
	ProtocolGRPCS: "grpcs",
}

// ParseNetworkProtocol parses the lowercase protocol name.
func ParseNetworkProtocol(s string) (NetworkProtocol, error) {
	for p, name := range protocolNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown network protocol %q (want one of tcp, udp, grpc, grpcs)", s)
}

func (p NetworkProtocol) String() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("NetworkProtocol(%d)", uint8(p))
}

func (p NetworkProtocol) Valid() bool {
	_, ok := protocolNames[p]
	return ok
}

// Family returns the protocol family of p, or zero if p is invalid.
func (p NetworkProtocol) Family() Family {
	switch p {
	case ProtocolTCP, ProtocolUDP:
		return FamilySimple
	case ProtocolGRPC, ProtocolGRPCS:
		return FamilyGRPC
	default:
		return 0
	}
}

// Transport returns the simple transport of p.
// The second result is false for the gRPC family.
func (p NetworkProtocol) Transport() (TransportProtocol, bool) {
	switch p {
	case ProtocolTCP:
		return TransportTCP, true
	case ProtocolUDP:
		return TransportUDP, true
	default:
		return 0, false
	}
}

// TLS reports whether p runs over TLS.
func (p NetworkProtocol) TLS() bool {
	return p == ProtocolGRPCS
}

func (p NetworkProtocol) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid network protocol %d", uint8(p))
	}
	return []byte(p.String()), nil
}

func (p *NetworkProtocol) UnmarshalText(b []byte) error {
	parsed, err := ParseNetworkProtocol(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
