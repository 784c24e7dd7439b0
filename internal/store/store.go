// Package store persists the offline action queue in a key-value backend.
//
// The queue is written through on every mutation as one JSON array under a
// single key. Backend failures never escape this package: they are logged and
// the in-memory queue stays authoritative for the session.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"

	apperrors "github.com/cpltrack/fieldsync/internal/errors"
	"github.com/cpltrack/fieldsync/internal/logging"
	"github.com/cpltrack/fieldsync/internal/models"
)

// DefaultQueueKey is the key the queue has always been stored under.
const DefaultQueueKey = "edf_offline_queue"

// ErrNotFound is returned by backends when a key holds no value.
var ErrNotFound = stderrors.New("key not found")

// Backend is durable key-value storage.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// QueueStore loads and saves the ordered action list.
type QueueStore struct {
	backend Backend
	key     string
}

// NewQueueStore creates a QueueStore over backend. An empty key selects DefaultQueueKey.
func NewQueueStore(backend Backend, key string) *QueueStore {
	if key == "" {
		key = DefaultQueueKey
	}
	return &QueueStore{backend: backend, key: key}
}

// Key returns the storage key of the queue.
func (s *QueueStore) Key() string {
	return s.key
}

// Load reads the persisted queue. Missing or corrupt data yields an empty queue.
func (s *QueueStore) Load(ctx context.Context) []models.QueuedAction {
	data, err := s.backend.Get(ctx, s.key)
	if err != nil {
		if !stderrors.Is(err, ErrNotFound) {
			logging.ErrorWithCode("Failed to read offline queue", string(apperrors.ErrStorage), err,
				map[string]interface{}{"key": s.key})
		}
		return []models.QueuedAction{}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []models.QueuedAction{}
	}

	var actions []models.QueuedAction
	if err := json.Unmarshal(data, &actions); err != nil {
		logging.ErrorWithCode("Failed to parse offline queue, starting empty", string(apperrors.ErrStorage), err,
			map[string]interface{}{"key": s.key, "bytes": len(data)})
		return []models.QueuedAction{}
	}

	seen := make(map[string]bool, len(actions))
	out := make([]models.QueuedAction, 0, len(actions))
	for _, a := range actions {
		if seen[a.ID] {
			logging.Warn("Dropping duplicate queued action", map[string]interface{}{"id": a.ID})
			continue
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	return out
}

// Save persists the full list, replacing what was stored.
func (s *QueueStore) Save(ctx context.Context, actions []models.QueuedAction) {
	if actions == nil {
		actions = []models.QueuedAction{}
	}
	data, err := json.Marshal(actions)
	if err != nil {
		logging.ErrorWithCode("Failed to encode offline queue", string(apperrors.ErrStorage), err,
			map[string]interface{}{"key": s.key})
		return
	}
	if err := s.backend.Set(ctx, s.key, data); err != nil {
		logging.ErrorWithCode("Failed to persist offline queue", string(apperrors.ErrStorage), err,
			map[string]interface{}{"key": s.key, "count": len(actions)})
	}
}

// Clear removes the persisted queue.
func (s *QueueStore) Clear(ctx context.Context) {
	if err := s.backend.Delete(ctx, s.key); err != nil && !stderrors.Is(err, ErrNotFound) {
		logging.ErrorWithCode("Failed to clear offline queue", string(apperrors.ErrStorage), err,
			map[string]interface{}{"key": s.key})
	}
}

// Close releases the backend.
func (s *QueueStore) Close() error {
	return s.backend.Close()
}
