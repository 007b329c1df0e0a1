package confidentialstore

import (
	"context"
	"fmt"
	"log/slog"
)

// MultiStore writes to every backend and reads from the first one that has
// the key, giving redundant persistence without a quorum protocol — the
// same trade-off as storage/multistorage.go's MultiStorageBackend.
type MultiStore struct {
	backends []Backend
	log      *slog.Logger
}

func NewMultiStore(backends []Backend, log *slog.Logger) *MultiStore {
	return &MultiStore{backends: backends, log: log}
}

func (m *MultiStore) Get(ctx context.Context, key string) ([]byte, error) {
	var lastErr error
	for _, b := range m.backends {
		data, err := b.Get(ctx, key)
		if err == nil {
			return data, nil
		}
		if err != ErrNotFound {
			lastErr = err
			m.log.Warn("confidential store backend failed", "backend", b.Name(), "err", err)
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNotFound
}

func (m *MultiStore) Put(ctx context.Context, key string, value []byte) error {
	var lastErr error
	wrote := 0
	for _, b := range m.backends {
		if err := b.Put(ctx, key, value); err != nil {
			lastErr = err
			m.log.Warn("confidential store write failed", "backend", b.Name(), "err", err)
			continue
		}
		wrote++
	}
	if wrote == 0 {
		return fmt.Errorf("no backend accepted the write: %w", lastErr)
	}
	return nil
}

func (m *MultiStore) Available(ctx context.Context) bool {
	for _, b := range m.backends {
		if b.Available(ctx) {
			return true
		}
	}
	return false
}

func (m *MultiStore) Name() string { return "multi" }

var _ Backend = (*MultiStore)(nil)
