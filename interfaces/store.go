package interfaces

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned when a lookup finds nothing under the given key.
var ErrKeyNotFound = errors.New("key not found")

// ErrBackendUnavailable is returned when a confidential store backend cannot
// be reached (network partition, sealed vault, missing directory).
var ErrBackendUnavailable = errors.New("storage backend unavailable")

// ConfidentialStore is key-addressed persistent storage for kernel state.
// Unlike a content-addressed store, the caller chooses the key: wallet
// records are looked up by wallet address, leases by (walletAddress, asset),
// sub-balances by (subPolicy, account, chainId) — never by hash of the
// stored value, since the value alone rarely determines its own lookup key.
type ConfidentialStore interface {
	// Get retrieves the value stored under key. Returns ErrKeyNotFound if absent.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Put stores value under key, overwriting any previous value.
	Put(ctx context.Context, key []byte, value []byte) error

	// Available reports whether the backend can currently be reached.
	Available(ctx context.Context) bool

	// Name returns a short identifier for logging.
	Name() string

	// LocationURI returns the URI identifying this backend.
	LocationURI() string
}

// ConfidentialStoreFactory builds a ConfidentialStore from a location URI.
// Supported schemes: file://, vault://.
type ConfidentialStoreFactory interface {
	StoreFor(locationURI string) (ConfidentialStore, error)
}
