package pxsimple

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

// Frame layout:
//
//  1. A header byte naming the compression of the payload.
//  2. The uvarint length of the (maybe compressed) payload.
//  3. The payload.
//
// A frame with an empty payload carries no message.
const (
	uncompressedHeader byte = 0
	snappyHeader       byte = 1
)

// MaxFrameSize bounds both the encoded and the decoded payload of a frame.
const MaxFrameSize = 16 << 20

// MaxDatagramSize is the largest UDP payload over IPv4.
const MaxDatagramSize = 65507

// ErrFrameTooLarge is returned when a frame exceeds [MaxFrameSize],
// or a datagram frame exceeds [MaxDatagramSize].
var ErrFrameTooLarge = errors.New("frame too large")

// AppendFrame appends the frame for payload to dst.
// The payload is snappy-compressed only if that makes it smaller.
func AppendFrame(dst, payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("%w: payload of %d bytes", ErrFrameTooLarge, len(payload))
	}

	header := uncompressedHeader
	body := payload
	if len(payload) > 0 {
		if c := snappy.Encode(nil, payload); len(c) < len(payload) {
			header = snappyHeader
			body = c
		}
	}

	dst = append(dst, header)
	dst = binary.AppendUvarint(dst, uint64(len(body)))
	return append(dst, body...), nil
}

// ReadFrame reads one frame from r and returns its decoded payload.
// It returns [io.EOF] only when r ends before the header byte.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	header, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame length: %w", noEOF(err))
	}
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: declared length %d", ErrFrameTooLarge, n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", noEOF(err))
	}
	return decodeBody(header, body)
}

// DecodeFrame decodes a frame that must occupy all of b,
// as when one datagram holds one frame.
func DecodeFrame(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, errors.New("empty frame")
	}
	header := b[0]
	n, w := binary.Uvarint(b[1:])
	if w <= 0 {
		return nil, errors.New("malformed frame length")
	}
	body := b[1+w:]
	if uint64(len(body)) != n {
		return nil, fmt.Errorf("frame length %d does not match body of %d bytes", n, len(body))
	}
	return decodeBody(header, body)
}

func decodeBody(header byte, body []byte) ([]byte, error) {
	switch header {
	case uncompressedHeader:
		return body, nil
	case snappyHeader:
		n, err := snappy.DecodedLen(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read decoded length: %w", err)
		}
		if n > MaxFrameSize {
			return nil, fmt.Errorf("%w: decoded length %d", ErrFrameTooLarge, n)
		}
		out, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress frame: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unrecognized header byte %x", header)
	}
}

// noEOF reports a truncated frame as [io.ErrUnexpectedEOF].
func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
