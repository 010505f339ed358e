package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no content exists under a key.
var ErrNotFound = errors.New("blob not found")

// Store holds document bodies under opaque keys. Keys are owned by the
// Document rows that point at them.
type Store interface {
	Put(ctx context.Context, key string, content []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}
