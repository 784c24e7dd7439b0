// Package offline queues write actions while the backend is unreachable and
// replays them on demand.
//
// The Manager owns the ordered queue and the report of the last replay. Every
// mutation is written through to the QueueStore. Replays run one at a time and
// post actions strictly in queue order.
package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cpltrack/fieldsync/internal/backend"
	apperrors "github.com/cpltrack/fieldsync/internal/errors"
	"github.com/cpltrack/fieldsync/internal/logging"
	"github.com/cpltrack/fieldsync/internal/models"
	"github.com/cpltrack/fieldsync/internal/notify"
	"github.com/cpltrack/fieldsync/internal/store"
	"github.com/cpltrack/fieldsync/internal/uuid"
)

// Report and notification messages shown to the user.
const (
	msgReplayOneStart  = "Tentative de synchronisation..."
	msgReplayOneOK     = "Synchronisé avec succès !"
	msgReplayOneEntry  = "Synchronisé manuellement."
	msgReplayOneFailed = "Échec synchronisation : %s"
	msgReplayAllStart  = "Tentative de synchronisation de %d action(s)..."
	msgReplayAllEntry  = "Synchronisé avec succès."
	msgRejectedEntry   = "Erreur %d: %s"
	msgNetworkEntry    = "Erreur réseau - Mis en attente"
	msgReplayAllErrors = "Synchronisation terminée avec des erreurs."
	msgReplayAllOK     = "Synchronisation terminée avec succès."
	msgReplayCrashed   = "Erreur critique lors de la synchronisation"
)

// Poster delivers one action to the backend. Errors carrying an HTTP status
// (see backend.StatusCode) are terminal; any other error means no response.
type Poster interface {
	Post(ctx context.Context, url string, payload json.RawMessage) error
}

// Outcome is the result of replaying a single action.
type Outcome int

const (
	OutcomeNotFound Outcome = iota
	OutcomeSucceeded
	OutcomeRejected
	OutcomeRequeued
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeRejected:
		return "rejected"
	case OutcomeRequeued:
		return "requeued"
	default:
		return "not_found"
	}
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Option configures a Manager.
type Option func(*Manager)

// WithNotifier sets the toast sink.
func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator overrides action id generation.
func WithIDGenerator(gen uuid.Generator) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// Manager is the offline action queue.
type Manager struct {
	store    *store.QueueStore
	poster   Poster
	notifier notify.Notifier
	now      func() time.Time
	newID    uuid.Generator

	mu     sync.RWMutex
	queue  []models.QueuedAction
	report *models.SyncReport

	// replayMu serializes ReplayOne and ReplayAll.
	replayMu sync.Mutex
}

// NewManager creates a manager and loads the persisted queue.
func NewManager(ctx context.Context, st *store.QueueStore, poster Poster, opts ...Option) *Manager {
	m := &Manager{
		store:    st,
		poster:   poster,
		notifier: notify.Nop,
		now:      time.Now,
		newID:    uuid.New,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.queue = st.Load(ctx)

	logging.Info("Offline queue loaded", map[string]interface{}{
		"key":     st.Key(),
		"pending": len(m.queue),
	})
	return m
}

// Queue returns a copy of the pending actions in replay order.
func (m *Manager) Queue() []models.QueuedAction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return models.CloneActions(m.queue)
}

// Len returns the number of pending actions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.queue)
}

// Report returns a copy of the current report, or nil.
func (m *Manager) Report() *models.SyncReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.report.Clone()
}

// Enqueue records an action for later replay. It never touches the network.
// payload must be a JSON object; an empty payload is stored as {}.
func (m *Manager) Enqueue(ctx context.Context, actionType, url string, payload json.RawMessage) (string, error) {
	compact, err := compactObject(payload)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	action := models.QueuedAction{
		ID:         m.newID(),
		Type:       actionType,
		URL:        url,
		Payload:    compact,
		Timestamp:  m.now().UnixMilli(),
		RetryCount: 0,
	}
	m.queue = append(m.queue, action)
	m.persistLocked(ctx)

	logging.Info("Action queued", map[string]interface{}{
		"id":      action.ID,
		"type":    action.Type,
		"url":     action.URL,
		"pending": len(m.queue),
	})
	return action.ID, nil
}

// EnqueueAction validates a typed action and queues its wire payload.
func (m *Manager) EnqueueAction(ctx context.Context, action models.Action) (string, error) {
	if err := action.Validate(); err != nil {
		return "", err
	}
	payload, err := json.Marshal(action)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInvalid, "encode action payload", err)
	}
	return m.Enqueue(ctx, action.Label(), action.Endpoint(), payload)
}

// Remove drops an action without replaying it. Unknown ids are ignored.
func (m *Manager) Remove(ctx context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexLocked(id)
	if idx < 0 {
		return false
	}
	m.queue = append(m.queue[:idx:idx], m.queue[idx+1:]...)
	m.persistLocked(ctx)

	logging.Info("Action removed from queue", map[string]interface{}{"id": id})
	return true
}

// Clear drops every pending action and the persisted queue.
func (m *Manager) Clear(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.queue)
	m.queue = []models.QueuedAction{}
	m.store.Clear(context.WithoutCancel(ctx))

	logging.Info("Offline queue cleared", map[string]interface{}{"dropped": n})
}

// ClearReport forgets the last report.
func (m *Manager) ClearReport() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.report = nil
}

// Flush writes the current queue to the store.
func (m *Manager) Flush(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.persistLocked(ctx)
}

// ReplayOne posts a single action. On success it leaves the queue and is
// appended to the current report. On failure it stays queued with its error
// bookkeeping updated, whether or not the backend answered.
func (m *Manager) ReplayOne(ctx context.Context, id string) (outcome Outcome, err error) {
	m.replayMu.Lock()
	defer m.replayMu.Unlock()
	defer m.recoverReplay("replay_one", &err)

	action, ok := m.find(id)
	if !ok {
		return OutcomeNotFound, nil
	}

	m.notifier.Notify(msgReplayOneStart, notify.LevelInfo)

	postErr := m.poster.Post(ctx, action.URL, action.Payload)
	if postErr == nil {
		m.mu.Lock()
		if idx := m.indexLocked(id); idx >= 0 {
			m.queue = append(m.queue[:idx:idx], m.queue[idx+1:]...)
		}
		if m.report == nil {
			m.report = models.NewSyncReport()
		}
		m.report.Success = append(m.report.Success, models.ReportEntry{Action: action, Message: msgReplayOneEntry})
		m.persistLocked(ctx)
		m.mu.Unlock()

		logging.Info("Action replayed", map[string]interface{}{"id": id, "type": action.Type})
		m.notifier.Notify(msgReplayOneOK, notify.LevelSuccess)
		return OutcomeSucceeded, nil
	}

	message := backend.Message(postErr)
	lastError := message
	outcome = OutcomeRequeued
	if status, ok := backend.StatusCode(postErr); ok {
		lastError = fmt.Sprintf(msgRejectedEntry, status, message)
		outcome = OutcomeRejected
	}

	m.mu.Lock()
	if idx := m.indexLocked(id); idx >= 0 {
		m.markFailedLocked(idx, lastError)
	}
	m.persistLocked(ctx)
	m.mu.Unlock()

	logging.Warn("Action replay failed", map[string]interface{}{
		"id":      id,
		"type":    action.Type,
		"outcome": outcome.String(),
		"code":    string(apperrors.CodeOf(postErr)),
		"error":   lastError,
	})
	m.notifier.Notify(fmt.Sprintf(msgReplayOneFailed, message), notify.LevelError)
	return outcome, nil
}

// ReplayAll posts every queued action in order, one at a time, and replaces
// the report. Successes and HTTP rejections leave the queue; actions that got
// no response stay queued. An empty queue returns a nil report.
//
// Outcomes are committed after the run, so actions enqueued meanwhile are kept
// and a crash mid-run leaves the queue unchanged. A cancelled ctx stops the
// run; actions not yet attempted stay queued untouched, and a run that
// attempted nothing keeps the previous report.
func (m *Manager) ReplayAll(ctx context.Context) (result *models.SyncReport, err error) {
	m.replayMu.Lock()
	defer m.replayMu.Unlock()
	defer m.recoverReplay("replay_all", &err)

	snapshot := m.Queue()
	if len(snapshot) == 0 {
		return nil, nil
	}

	m.notifier.Notify(fmt.Sprintf(msgReplayAllStart, len(snapshot)), notify.LevelInfo)

	report := models.NewSyncReport()
	resolved := make(map[string]bool, len(snapshot))
	requeued := make(map[string]string)

	for _, action := range snapshot {
		if ctx.Err() != nil {
			break
		}

		postErr := m.poster.Post(ctx, action.URL, action.Payload)
		if postErr == nil {
			report.Success = append(report.Success, models.ReportEntry{Action: action, Message: msgReplayAllEntry})
			resolved[action.ID] = true
			continue
		}

		if status, ok := backend.StatusCode(postErr); ok {
			report.Errors = append(report.Errors, models.ReportEntry{
				Action:  action,
				Message: fmt.Sprintf(msgRejectedEntry, status, backend.Message(postErr)),
			})
			resolved[action.ID] = true
			continue
		}

		report.Errors = append(report.Errors, models.ReportEntry{Action: action, Message: msgNetworkEntry})
		requeued[action.ID] = backend.Message(postErr)
		logging.Debug("Action kept for a later replay", map[string]interface{}{
			"id":    action.ID,
			"code":  string(apperrors.CodeOf(postErr)),
			"error": backend.Message(postErr),
		})
	}

	if len(resolved)+len(requeued) == 0 {
		// cancelled before the first post: queue and previous report stay as they are
		logging.Warn("Offline queue replay interrupted", map[string]interface{}{
			"error":   ctx.Err().Error(),
			"pending": len(snapshot),
		})
		return nil, apperrors.Wrap(apperrors.ErrInternal, "replay interrupted", ctx.Err())
	}

	m.commit(ctx, resolved, requeued, report)

	logging.Info("Offline queue replayed", map[string]interface{}{
		"attempted": len(report.Success) + len(report.Errors),
		"succeeded": len(report.Success),
		"failed":    len(report.Errors),
		"requeued":  len(requeued),
	})

	if ctx.Err() != nil {
		logging.Warn("Offline queue replay interrupted", map[string]interface{}{"error": ctx.Err().Error()})
		return report.Clone(), apperrors.Wrap(apperrors.ErrInternal, "replay interrupted", ctx.Err())
	}

	if report.HasErrors() {
		m.notifier.Notify(msgReplayAllErrors, notify.LevelWarning)
	} else {
		m.notifier.Notify(msgReplayAllOK, notify.LevelSuccess)
	}
	return report.Clone(), nil
}

// commit applies replay outcomes to the live queue in one step.
func (m *Manager) commit(ctx context.Context, resolved map[string]bool, requeued map[string]string, report *models.SyncReport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := make([]models.QueuedAction, 0, len(m.queue))
	for _, a := range m.queue {
		if resolved[a.ID] {
			continue
		}
		kept = append(kept, a)
		if msg, ok := requeued[a.ID]; ok {
			m.markFailedAt(&kept[len(kept)-1], msg)
		}
	}
	m.queue = kept
	m.report = report
	m.persistLocked(ctx)
}

// persistLocked writes the queue through, even when ctx is already cancelled.
func (m *Manager) persistLocked(ctx context.Context) {
	m.store.Save(context.WithoutCancel(ctx), m.queue)
}

func (m *Manager) markFailedLocked(idx int, lastError string) {
	m.markFailedAt(&m.queue[idx], lastError)
}

func (m *Manager) markFailedAt(a *models.QueuedAction, lastError string) {
	a.RetryCount++
	a.LastError = lastError
	a.LastAttempt = m.now().UnixMilli()
}

func (m *Manager) find(id string) (models.QueuedAction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.indexLocked(id)
	if idx < 0 {
		return models.QueuedAction{}, false
	}
	return m.queue[idx].Clone(), true
}

func (m *Manager) indexLocked(id string) int {
	for i := range m.queue {
		if m.queue[i].ID == id {
			return i
		}
	}
	return -1
}

// recoverReplay turns a panic during a replay into an INTERNAL_ERROR.
func (m *Manager) recoverReplay(op string, err *error) {
	r := recover()
	if r == nil {
		return
	}
	logging.ErrorWithCode("Critical error during replay", string(apperrors.ErrInternal),
		fmt.Errorf("panic: %v", r), map[string]interface{}{"operation": op})
	m.notifier.Notify(msgReplayCrashed, notify.LevelError)
	*err = apperrors.New(apperrors.ErrInternal, "replay aborted")
}

// compactObject checks payload is a JSON object and compacts it.
func compactObject(payload json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return json.RawMessage("{}"), nil
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, apperrors.New(apperrors.ErrInvalid, "payload must be a JSON object")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "payload must be a JSON object", err)
	}
	return json.RawMessage(buf.Bytes()), nil
}
