package confidentialstore

import (
	"context"
	"crypto/tls"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestFileBackendRoundTrip(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir, discardLogger())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = b.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Put(ctx, "root-seed-share-0", []byte("shard-bytes")))
	got, err := b.Get(ctx, "root-seed-share-0")
	require.NoError(t, err)
	require.Equal(t, []byte("shard-bytes"), got)
	require.True(t, b.Available(ctx))
}

func TestFileBackendSanitizesTraversalKeys(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir, discardLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Put(ctx, "../escape", []byte("x")))

	// the value must land inside dir, not above it.
	entries, err := filepath.Glob(filepath.Join(dir, "*"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

type memBackend struct {
	name string
	data map[string][]byte
	up   bool
}

func newMemBackend(name string) *memBackend {
	return &memBackend{name: name, data: make(map[string][]byte), up: true}
}

func (m *memBackend) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (m *memBackend) Put(ctx context.Context, key string, value []byte) error {
	m.data[key] = value
	return nil
}

func (m *memBackend) Available(ctx context.Context) bool { return m.up }
func (m *memBackend) Name() string                       { return m.name }

func TestMultiStoreWritesAllReadsFirstHit(t *testing.T) {
	a := newMemBackend("a")
	b := newMemBackend("b")
	ms := NewMultiStore([]Backend{a, b}, discardLogger())

	ctx := context.Background()
	require.NoError(t, ms.Put(ctx, "k", []byte("v")))
	require.Equal(t, []byte("v"), a.data["k"])
	require.Equal(t, []byte("v"), b.data["k"])

	delete(a.data, "k")
	got, err := ms.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
}

func TestMultiStoreGetReturnsNotFoundWhenNoBackendHasKey(t *testing.T) {
	a := newMemBackend("a")
	ms := NewMultiStore([]Backend{a}, discardLogger())
	_, err := ms.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFactoryRejectsUnsupportedScheme(t *testing.T) {
	f := NewFactory(discardLogger(), tls.Certificate{}, nil)
	_, err := f.BackendFor("s3://bucket/prefix")
	require.Error(t, err)
}
