package glog

import (
	"fmt"
	"log/slog"
)

// KC returns a copy of log that includes fields for a message kind and its target chain.
//
// Most routing log lines are about one message headed to one chain,
// so this keeps those two fields consistent across call sites.
func KC(log *slog.Logger, kind, chainID fmt.Stringer) *slog.Logger {
	return log.With("kind", kind.String(), "chain_id", chainID.String())
}

// KCE is like [KC] but also includes an error field.
func KCE(log *slog.Logger, kind, chainID fmt.Stringer, e error) *slog.Logger {
	return log.With("kind", kind.String(), "chain_id", chainID.String(), "err", e)
}
