package pxchain

import (
	"runtime/debug"
	"sync"
)

// ProtocolVersion names the message set spoken by this build.
// Its hash is reported in [VersionInfo.RPCHash];
// peers with a different hash cannot be expected to decode our messages.
const ProtocolVersion = "gproxy.rpc/v1"

// VersionInfo is the static version metadata reported by a validator.
type VersionInfo struct {
	Version   string     `json:"version"`
	GitCommit string     `json:"git_commit"`
	GitDirty  bool       `json:"git_dirty"`
	RPCHash   CryptoHash `json:"rpc_hash"`
}

var (
	versionOnce sync.Once
	version     VersionInfo
)

// CurrentVersionInfo returns the version metadata of the running binary,
// derived from the build info the Go toolchain embeds.
func CurrentVersionInfo() VersionInfo {
	versionOnce.Do(func() {
		version = VersionInfo{
			Version: "(devel)",
			RPCHash: NewCryptoHash([]byte(ProtocolVersion)),
		}

		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		if bi.Main.Version != "" {
			version.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				version.GitCommit = s.Value
			case "vcs.modified":
				version.GitDirty = s.Value == "true"
			}
		}
	})
	return version
}
