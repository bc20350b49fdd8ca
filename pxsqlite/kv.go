// Package pxsqlite contains a [pxstore.KV] backed by SQLite.
//
// The driver is chosen by build tags:
// github.com/mattn/go-sqlite3 when cgo is available,
// and modernc.org/sqlite with the purego tag or without cgo.
package pxsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/trace"
	"strings"
	"sync/atomic"

	"github.com/gordian-engine/gproxy/px/pxstore"
)

// maxParams bounds the number of keys bound into a single IN clause.
const maxParams = 500

// KV is a [pxstore.KV] stored in a single SQLite table.
type KV struct {
	// The string "purego" or "cgo" depending on build tags.
	BuildType string

	// SQLite transaction locking interacts badly with a single shared pool,
	// so reads and writes use separate pools.
	ro, rw *sql.DB

	closed atomic.Bool
}

// NewOnDiskKV opens or creates the database file at dbPath.
func NewOnDiskKV(ctx context.Context, dbPath string) (*KV, error) {
	dbPath = filepath.Clean(dbPath)
	if _, err := os.Stat(dbPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat path %q: %w", dbPath, err)
		}

		// Startup pragmas fail without an existing file.
		// O_EXCL avoids truncating a file created concurrently.
		f, err := os.OpenFile(dbPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to create empty database file: %w", err)
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("failed to close new empty database file: %w", err)
		}
	}

	// With a single read-write connection,
	// writers block on the pool instead of failing with "database is locked".
	uri := "file:" + dbPath + "?mode=rw"

	rw, err := sql.Open(sqliteDriverType, uri)
	if err != nil {
		return nil, fmt.Errorf("error opening read-write database: %w", err)
	}
	rw.SetMaxOpenConns(1)

	// Persistent, and only relevant on disk.
	if _, err := rw.ExecContext(ctx, `PRAGMA journal_mode = WAL`); err != nil {
		_ = rw.Close()
		return nil, fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}

	return finishOpen(ctx, rw, uri[:len(uri)-1]+"o")
}

var inMemNameCounter atomic.Uint32

// NewInMemKV returns a KV in a fresh, process-private in-memory database.
func NewInMemKV(ctx context.Context) (*KV, error) {
	dbName := fmt.Sprintf("pxkv%d", inMemNameCounter.Add(1))

	// A unique name with a shared cache lets both pools see one database.
	// _txlock=immediate takes the write lock at the start of every transaction.
	uri := "file:" + dbName + "?mode=memory&cache=shared&_txlock=immediate"

	rw, err := sql.Open(sqliteDriverType, uri)
	if err != nil {
		return nil, fmt.Errorf("error opening read-write database: %w", err)
	}

	// More than one writer produces "table is locked" errors
	// that the busy timeout does not resolve.
	rw.SetMaxOpenConns(1)

	roURI, ok := strings.CutSuffix(uri, "&_txlock=immediate")
	if !ok {
		panic(fmt.Errorf("BUG: failed to cut _txlock suffix from uri %q", uri))
	}
	return finishOpen(ctx, rw, roURI)
}

func finishOpen(ctx context.Context, rw *sql.DB, roURI string) (*KV, error) {
	if err := pragmasRW(ctx, rw); err != nil {
		_ = rw.Close()
		return nil, err
	}

	if err := migrate(ctx, rw); err != nil {
		_ = rw.Close()
		return nil, err
	}

	ro, err := sql.Open(sqliteDriverType, roURI)
	if err != nil {
		_ = rw.Close()
		return nil, fmt.Errorf("error opening read-only database: %w", err)
	}

	return &KV{
		BuildType: sqliteBuildType,

		rw: rw,
		ro: ro,
	}, nil
}

func pragmasRW(ctx context.Context, db *sql.DB) error {
	defer trace.StartRegion(ctx, "pragmasRW").End()

	// https://www.sqlite.org/lang_analyze.html#periodically_run_pragma_optimize_
	if _, err := db.ExecContext(ctx, `PRAGMA optimize(0x10002);`); err != nil {
		return fmt.Errorf("failed to run startup PRAGMA optimize: %w", err)
	}

	return nil
}

func (s *KV) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	errRO := s.ro.Close()
	if errRO != nil {
		errRO = fmt.Errorf("error closing read-only database: %w", errRO)
	}
	errRW := s.rw.Close()
	if errRW != nil {
		errRW = fmt.Errorf("error closing read-write database: %w", errRW)
	}

	return errors.Join(errRO, errRW)
}

func (s *KV) Get(ctx context.Context, key []byte) ([]byte, error) {
	defer trace.StartRegion(ctx, "Get").End()

	if s.closed.Load() {
		return nil, pxstore.ErrClosed
	}

	var v []byte
	err := s.ro.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select value: %w", err)
	}
	return v, nil
}

func (s *KV) GetMulti(ctx context.Context, keys [][]byte) ([][]byte, error) {
	defer trace.StartRegion(ctx, "GetMulti").End()

	if s.closed.Load() {
		return nil, pxstore.ErrClosed
	}

	out := make([][]byte, len(keys))
	err := s.selectIn(ctx, `SELECT key, value FROM kv WHERE key IN `, keys, func(rows *sql.Rows, idx map[string][]int) error {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		for _, i := range idx[string(k)] {
			out[i] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *KV) Contains(ctx context.Context, key []byte) (bool, error) {
	found, err := s.ContainsMulti(ctx, [][]byte{key})
	if err != nil {
		return false, err
	}
	return found[0], nil
}

func (s *KV) ContainsMulti(ctx context.Context, keys [][]byte) ([]bool, error) {
	defer trace.StartRegion(ctx, "ContainsMulti").End()

	if s.closed.Load() {
		return nil, pxstore.ErrClosed
	}

	out := make([]bool, len(keys))
	err := s.selectIn(ctx, `SELECT key FROM kv WHERE key IN `, keys, func(rows *sql.Rows, idx map[string][]int) error {
		var k []byte
		if err := rows.Scan(&k); err != nil {
			return err
		}
		for _, i := range idx[string(k)] {
			out[i] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// selectIn runs query followed by a placeholder list,
// in chunks of at most maxParams keys.
// scan receives each row and the request indices of every key in the chunk.
func (s *KV) selectIn(
	ctx context.Context,
	query string,
	keys [][]byte,
	scan func(rows *sql.Rows, idx map[string][]int) error,
) error {
	for lo := 0; lo < len(keys); lo += maxParams {
		hi := min(lo+maxParams, len(keys))

		idx := make(map[string][]int, hi-lo)
		args := make([]any, 0, hi-lo)
		for i := lo; i < hi; i++ {
			k := string(keys[i])
			if _, seen := idx[k]; !seen {
				args = append(args, keys[i])
			}
			idx[k] = append(idx[k], i)
		}

		q := query + "(?" + strings.Repeat(",?", len(args)-1) + ")"
		rows, err := s.ro.QueryContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("failed to query keys: %w", err)
		}
		for rows.Next() {
			if err := scan(rows, idx); err != nil {
				_ = rows.Close()
				return fmt.Errorf("failed to scan row: %w", err)
			}
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to iterate rows: %w", err)
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("failed to close rows: %w", err)
		}
	}
	return nil
}

func (s *KV) Write(ctx context.Context, b *pxstore.Batch) (finalErr error) {
	defer trace.StartRegion(ctx, "Write").End()

	if s.closed.Load() {
		return pxstore.ErrClosed
	}

	tx, err := s.rw.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if finalErr != nil {
			_ = tx.Rollback()
		}
	}()

	for _, op := range b.Ops {
		if op.IsDelete() {
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, op.Key); err != nil {
				return fmt.Errorf("failed to delete key: %w", err)
			}
			continue
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO kv(key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			op.Key, op.Value,
		); err != nil {
			return fmt.Errorf("failed to put key: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}
