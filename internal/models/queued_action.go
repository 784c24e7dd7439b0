// Package models provides the data model shared by the queue, the store and the agent API.
package models

import (
	"encoding/json"
	"time"
)

// QueuedAction is a write action recorded while offline and waiting for replay.
// The JSON layout is the persisted format and must not change.
type QueuedAction struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	URL         string          `json:"url"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   int64           `json:"timestamp"`  // ms since epoch
	RetryCount  int             `json:"retryCount"` // replay attempts that failed
	LastError   string          `json:"lastError,omitempty"`
	LastAttempt int64           `json:"lastAttempt,omitempty"` // ms since epoch
}

// Clone returns a deep copy, payload bytes included.
func (a QueuedAction) Clone() QueuedAction {
	c := a
	if a.Payload != nil {
		c.Payload = append(json.RawMessage(nil), a.Payload...)
	}
	return c
}

// CreatedAt returns Timestamp as a time.
func (a QueuedAction) CreatedAt() time.Time {
	return time.UnixMilli(a.Timestamp)
}

// CloneActions deep-copies a list, never returning nil.
func CloneActions(actions []QueuedAction) []QueuedAction {
	out := make([]QueuedAction, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Clone())
	}
	return out
}
