// Package pxsimple is the simple transport:
// length-prefixed, optionally snappy-compressed frames of encoded messages,
// carried over a TCP stream or one frame per UDP datagram.
package pxsimple
