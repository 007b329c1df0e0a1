// Package confidentialstore implements the persisted-state substrate spec.md
// §6 delegates to the host ("values are opaque to the host's storage
// backend; confidentiality is the host's responsibility"). Unlike the
// teacher's content-addressed storage/*.go (keyed by SHA-256 of the value),
// every lookup here is by a caller-supplied deterministic key — snapshot
// slots, root-seed shares — so the backend is
// key-addressed rather than content-addressed.
package confidentialstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no value has been stored under a key.
var ErrNotFound = errors.New("confidentialstore: key not found")

// ErrUnavailable is returned when a backend cannot currently be reached.
var ErrUnavailable = errors.New("confidentialstore: backend unavailable")

// Backend is any key-addressed confidential storage substrate.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Available(ctx context.Context) bool
	Name() string
}
