//go:build cgo && !purego

package pxsqlite

import (
	// Registers the "sqlite3" database/sql driver.
	_ "github.com/mattn/go-sqlite3"
)

// Builds with cgo use the C SQLite library through mattn/go-sqlite3.
// Build with -tags purego, or with CGO_ENABLED=0, for the pure Go driver.
const (
	sqliteDriverType = "sqlite3"
	sqliteBuildType  = "cgo"
)
