package glog

import (
	"fmt"
	"log/slog"
)

// Hex wraps a byte slice so that it logs as a hex string
// instead of as a Unicode string full of escape codes.
type Hex []byte

func (v Hex) LogValue() slog.Value {
	return slog.StringValue(fmt.Sprintf("%x", v))
}
