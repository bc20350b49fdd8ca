package pxstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gordian-engine/gproxy/px/pxchain"
)

// BlobsNotFoundError is returned when reading blobs that are not stored.
type BlobsNotFoundError struct {
	IDs []pxchain.BlobID
}

func (e BlobsNotFoundError) Error() string {
	ids := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		ids[i] = id.String()
	}
	return "blobs not found: " + strings.Join(ids, ", ")
}

// NotFoundError is returned when a single stored entity is absent.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

// ErrClosed is returned by KV operations after Close.
var ErrClosed = errors.New("store closed")
