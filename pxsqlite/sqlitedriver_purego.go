//go:build purego || !cgo

package pxsqlite

import (
	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

// Builds without cgo, or with the purego tag, use modernc.org/sqlite,
// a translation of SQLite to Go.
const (
	sqliteDriverType = "sqlite"
	sqliteBuildType  = "purego"
)
