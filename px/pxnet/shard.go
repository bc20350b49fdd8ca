package pxnet

import (
	"crypto/sha256"
	"math/big"

	"github.com/gordian-engine/gproxy/px/pxchain"
)

// ShardID is an index into [InternalNetworkConfig.Shards].
type ShardID int

// ShardIDFor returns the shard that owns chainID.
//
// The assignment is SHA-256 of the chain ID, read as a big-endian integer,
// modulo the number of shards.
// It depends on nothing but the shard count,
// so clients can compute it without asking the validator.
//
// ShardIDFor panics if c has no shards; [InternalNetworkConfig.Validate] rejects that.
func (c InternalNetworkConfig) ShardIDFor(chainID pxchain.ChainID) ShardID {
	return AssignShard(chainID, len(c.Shards))
}

// ShardFor returns the location of the shard that owns chainID.
func (c InternalNetworkConfig) ShardFor(chainID pxchain.ChainID) ShardConfig {
	return c.Shards[c.ShardIDFor(chainID)]
}

// AssignShard maps chainID onto one of nShards shards.
func AssignShard(chainID pxchain.ChainID, nShards int) ShardID {
	if nShards <= 0 {
		panic("BUG: cannot assign a shard with no shards configured")
	}

	h := sha256.Sum256(chainID[:])
	n := new(big.Int).SetBytes(h[:])
	return ShardID(n.Mod(n, big.NewInt(int64(nShards))).Int64())
}
