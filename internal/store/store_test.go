package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpltrack/fieldsync/internal/config"
	apperrors "github.com/cpltrack/fieldsync/internal/errors"
	"github.com/cpltrack/fieldsync/internal/models"
)

// failingBackend fails every call.
type failingBackend struct{}

func (failingBackend) Get(context.Context, string) ([]byte, error) {
	return nil, stderrors.New("disk unavailable")
}
func (failingBackend) Set(context.Context, string, []byte) error { return stderrors.New("disk full") }
func (failingBackend) Delete(context.Context, string) error { return stderrors.New("disk full") }
func (failingBackend) Close() error { return nil }

func sampleActions() []models.QueuedAction {
	return []models.QueuedAction{
		{
			ID:         "6f1c1a52-5d55-4c1e-9a6c-2b1b8e0a0001",
			Type:       "Reception",
			URL:        "/actions/reception/",
			Payload:    json.RawMessage(`{"num_carton": "C-001"}`),
			Timestamp:  1700000000000,
			RetryCount: 0,
		},
		{
			ID:          "6f1c1a52-5d55-4c1e-9a6c-2b1b8e0a0002",
			Type:        "Pose",
			URL:         "/actions/pose/",
			Payload:     json.RawMessage(`{"n_serie":"K1","poste_id":"P1","meta":{"gps":[48.85,2.35]}}`),
			Timestamp:   1700000001000,
			RetryCount:  2,
			LastError:   "Erreur réseau - Mis en attente",
			LastAttempt: 1700000005000,
		},
	}
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()

	sqlite, err := OpenSQLite(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	mr := miniredis.RunT(t)
	redisBackend, err := DialRedis(context.Background(), mr.Addr(), "", 0, "fieldsync:")
	require.NoError(t, err)
	t.Cleanup(func() { redisBackend.Close() })

	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"sqlite": sqlite,
		"redis":  redisBackend,
	}
}

// TestBackends_Contract runs the same key-value contract over every backend.
func TestBackends_Contract(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, b.Set(ctx, "k", []byte("v1")))
			require.NoError(t, b.Set(ctx, "k", []byte("v2")))
			v, err := b.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "v2", string(v))

			require.NoError(t, b.Delete(ctx, "k"))
			_, err = b.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.NoError(t, b.Delete(ctx, "never-set"))
		})
	}
}

// TestQueueStore_RoundTrip verifies the queue survives save and load on every backend.
func TestQueueStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := NewQueueStore(b, "")
			assert.Equal(t, DefaultQueueKey, s.Key())
			assert.Empty(t, s.Load(ctx))

			s.Save(ctx, sampleActions())
			loaded := s.Load(ctx)
			require.Len(t, loaded, 2)
			assert.Equal(t, sampleActions()[1].ID, loaded[1].ID)
			assert.Equal(t, "Erreur réseau - Mis en attente", loaded[1].LastError)
			assert.JSONEq(t, string(sampleActions()[1].Payload), string(loaded[1].Payload))

			s.Clear(ctx)
			assert.Empty(t, s.Load(ctx))
		})
	}
}

// TestQueueStore_SaveLoadIdempotent verifies save(load()) is byte-stable after the first write.
func TestQueueStore_SaveLoadIdempotent(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	s := NewQueueStore(b, "")

	s.Save(ctx, sampleActions())
	first, err := b.Get(ctx, DefaultQueueKey)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		s.Save(ctx, s.Load(ctx))
		again, err := b.Get(ctx, DefaultQueueKey)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again), "iteration %d", i)
	}
}

// TestQueueStore_CorruptData verifies unreadable data degrades to an empty queue.
func TestQueueStore_CorruptData(t *testing.T) {
	ctx := context.Background()
	tests := map[string]string{
		"not json":    "{{{not json",
		"wrong shape": `{"id":"x"}`,
		"truncated":   `[{"id":"x","type":"Pose"`,
		"blank":       "   ",
		"wrong types": `[{"id":42}]`,
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			b := NewMemoryBackend()
			require.NoError(t, b.Set(ctx, DefaultQueueKey, []byte(raw)))

			loaded := NewQueueStore(b, "").Load(ctx)
			require.NotNil(t, loaded)
			assert.Empty(t, loaded)
		})
	}
}

func TestQueueStore_DropsDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	raw := `[{"id":"a","type":"Pose","url":"/actions/pose/","payload":{},"timestamp":1,"retryCount":0},
		{"id":"a","type":"Dépose","url":"/actions/depose/","payload":{},"timestamp":2,"retryCount":0},
		{"id":"b","type":"Pose","url":"/actions/pose/","payload":{},"timestamp":3,"retryCount":0}]`
	require.NoError(t, b.Set(ctx, DefaultQueueKey, []byte(raw)))

	loaded := NewQueueStore(b, "").Load(ctx)
	require.Len(t, loaded, 2)
	assert.Equal(t, "Pose", loaded[0].Type)
	assert.Equal(t, "b", loaded[1].ID)
}

func TestQueueStore_EmptyQueueSavedAsArray(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	NewQueueStore(b, "custom").Save(ctx, nil)

	v, err := b.Get(ctx, "custom")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(v))
}

// TestQueueStore_BackendFailuresAreSwallowed verifies nothing panics or escapes.
func TestQueueStore_BackendFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	s := NewQueueStore(failingBackend{}, "")

	assert.NotPanics(t, func() {
		s.Save(ctx, sampleActions())
		s.Clear(ctx)
	})
	assert.Empty(t, s.Load(ctx))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	b, err := Open(ctx, config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, b)

	b, err = Open(ctx, config.StoreConfig{Driver: "sqlite", DataDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteBackend{}, b)
	require.NoError(t, b.Close())

	_, err = Open(ctx, config.StoreConfig{Driver: "etcd"})
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
}
