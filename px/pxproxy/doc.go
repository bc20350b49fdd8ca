// Package pxproxy is the validator's front door.
//
// A proxy accepts messages on the public network,
// answers the fixed set of local requests from storage,
// and forwards every chain-addressed request to the shard that owns the chain.
// Per-message failures never reach the client:
// they are logged, counted, and turned into "no response".
//
// [New] picks the proxy variant from the configured protocols.
// Both networks must speak the same protocol family,
// so a simple (TCP/UDP) proxy never fronts gRPC shards or the reverse.
package pxproxy
