// Package pxchain contains the domain types that gproxy moves around:
// chain identifiers, content hashes, blobs, certificates,
// the network description and version metadata.
//
// The proxy never interprets these values beyond what routing and storage need.
// Hashes are Keccak-256 over well-defined encodings,
// so that any two processes agree on content identifiers.
package pxchain
