// Package pxnet holds the network configuration of a validator
// and the shard assignment function.
//
// Configuration is loaded once at startup and never mutated,
// so every value here is safe to share across goroutines.
package pxnet
