package offline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpltrack/fieldsync/internal/backend"
	"github.com/cpltrack/fieldsync/internal/config"
	"github.com/cpltrack/fieldsync/internal/connectivity"
	apperrors "github.com/cpltrack/fieldsync/internal/errors"
	"github.com/cpltrack/fieldsync/internal/models"
	"github.com/cpltrack/fieldsync/internal/notify"
	"github.com/cpltrack/fieldsync/internal/store"
	"github.com/cpltrack/fieldsync/internal/uuid"
)

type recordingObserver struct {
	mu           sync.Mutex
	queues       [][]models.QueuedAction
	reports      []*models.SyncReport
	connectivity []connectivity.Status
}

func (o *recordingObserver) QueueChanged(q []models.QueuedAction) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queues = append(o.queues, q)
}

func (o *recordingObserver) ReportChanged(r *models.SyncReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reports = append(o.reports, r)
}

func (o *recordingObserver) ConnectivityChanged(s connectivity.Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connectivity = append(o.connectivity, s)
}

func newTestService(t *testing.T, poster Poster, online bool) (*Service, *recordingObserver) {
	t.Helper()
	m, _, _ := newTestManager(t, poster, "a1", "a2", "a3")
	obs := &recordingObserver{}
	return NewService(m, connectivity.NewMonitor(online, nil), obs), obs
}

func TestService_RefusesReplayWhileOffline(t *testing.T) {
	poster := newFakePoster()
	s, _ := newTestService(t, poster, false)
	_, err := s.Enqueue(context.Background(), "Pose", "/actions/pose/", json.RawMessage(`{}`))
	require.NoError(t, err)

	_, err = s.ReplayAll(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrOffline))
	_, err = s.ReplayOne(context.Background(), "a1")
	assert.True(t, apperrors.Is(err, apperrors.ErrOffline))
	assert.Empty(t, poster.Calls())
	assert.Len(t, s.Queue(), 1)
}

func TestService_RefusesReplayWhileSimulatedOffline(t *testing.T) {
	poster := newFakePoster()
	s, obs := newTestService(t, poster, true)
	_, err := s.Enqueue(context.Background(), "Pose", "/actions/pose/", nil)
	require.NoError(t, err)

	st := s.ToggleSimulation()
	assert.True(t, st.IsSimulatedOffline)
	assert.False(t, s.IsOnline())
	assert.True(t, s.IsSimulatedOffline())

	_, err = s.ReplayAll(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrOffline))

	s.ToggleSimulation()
	report, err := s.ReplayAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Success, 1)

	require.Len(t, obs.connectivity, 2)
	assert.Equal(t, connectivity.StateOfflineSimulated, obs.connectivity[0].State)
	assert.Equal(t, connectivity.StateOnline, obs.connectivity[1].State)
}

func TestService_ObserverNotifications(t *testing.T) {
	s, obs := newTestService(t, newFakePoster(), true)
	ctx := context.Background()

	_, err := s.EnqueueAction(ctx, models.Reception{NumCarton: "C-1"})
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, "Pose", "/actions/pose/", nil)
	require.NoError(t, err)
	assert.False(t, s.Remove(ctx, "missing"))
	assert.True(t, s.Remove(ctx, "a2"))

	outcome, err := s.ReplayOne(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, outcome)

	s.ClearReport()
	s.Clear(ctx)

	require.Len(t, obs.queues, 5)
	assert.Len(t, obs.queues[0], 1)
	assert.Len(t, obs.queues[1], 2)
	assert.Len(t, obs.queues[2], 1)
	assert.Empty(t, obs.queues[3])
	assert.Empty(t, obs.queues[4])

	require.Len(t, obs.reports, 2)
	assert.Len(t, obs.reports[0].Success, 1)
	assert.Nil(t, obs.reports[1])
	assert.Nil(t, s.SyncReport())
}

// gatedPoster holds each POST until released or until its context ends.
type gatedPoster struct {
	started chan string
	release chan struct{}
}

func newGatedPoster() *gatedPoster {
	return &gatedPoster{started: make(chan string, 8), release: make(chan struct{})}
}

func (g *gatedPoster) Post(ctx context.Context, url string, _ json.RawMessage) error {
	g.started <- url
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return &backend.TransportError{Err: ctx.Err()}
	}
}

func TestService_ReplayOutlivesCallerContext(t *testing.T) {
	poster := newGatedPoster()
	s, _ := newTestService(t, poster, true)
	_, err := s.Enqueue(context.Background(), "Reception", "/actions/reception/", nil)
	require.NoError(t, err)
	_, err = s.Enqueue(context.Background(), "Pose", "/actions/pose/", nil)
	require.NoError(t, err)

	reqCtx, cancel := context.WithCancel(context.Background())
	type result struct {
		report *models.SyncReport
		err    error
	}
	done := make(chan result, 1)
	go func() {
		r, err := s.ReplayAll(reqCtx)
		done <- result{r, err}
	}()

	<-poster.started
	cancel()
	close(poster.release)

	res := <-done
	require.NoError(t, res.err)
	require.NotNil(t, res.report)
	assert.Len(t, res.report.Success, 2)
	assert.Empty(t, res.report.Errors)
	assert.Empty(t, s.Queue())
}

func TestService_StopReplaysInterruptsRun(t *testing.T) {
	poster := newGatedPoster()
	s, _ := newTestService(t, poster, true)
	_, err := s.Enqueue(context.Background(), "Reception", "/actions/reception/", nil)
	require.NoError(t, err)
	_, err = s.Enqueue(context.Background(), "Pose", "/actions/pose/", nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.ReplayAll(context.Background())
		done <- err
	}()

	<-poster.started
	s.StopReplays()

	err = <-done
	assert.True(t, apperrors.Is(err, apperrors.ErrInternal))
	q := s.Queue()
	require.Len(t, q, 2, "nothing was delivered")
	assert.Equal(t, 1, q[0].RetryCount)
	assert.Zero(t, q[1].RetryCount)
}

func TestService_Status(t *testing.T) {
	s, _ := newTestService(t, newFakePoster(), true)
	_, err := s.Enqueue(context.Background(), "Pose", "/actions/pose/", nil)
	require.NoError(t, err)

	st := s.Status()
	assert.True(t, st.IsOnline)
	assert.Equal(t, connectivity.StateOnline, st.State)
	assert.Equal(t, 1, st.Pending)
	assert.Nil(t, st.Report)

	b, err := json.Marshal(st)
	require.NoError(t, err)
	assert.JSONEq(t, `{"isOnline":true,"isSimulatedOffline":false,"state":"online","pending":1,"report":null}`, string(b))
}

func TestService_ReplayAllEmptyQueueDoesNotNotify(t *testing.T) {
	s, obs := newTestService(t, newFakePoster(), true)
	report, err := s.ReplayAll(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, report)
	assert.Empty(t, obs.queues)
	assert.Empty(t, obs.reports)
}

// TestEndToEnd_ReloadAndReplay enqueues while offline, reloads from storage,
// then replays against a backend that accepts, refuses and drops connections.
func TestEndToEnd_ReloadAndReplay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		switch r.URL.Path {
		case "/api/actions/reception/":
			w.WriteHeader(http.StatusCreated)
		case "/api/actions/pose/":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"Poste P9 inconnu"}`)
		case "/api/actions/test/":
			hj, ok := w.(http.Hijacker)
			if !ok {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				return
			}
			_ = conn.Close()
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	backendStore := store.NewMemoryBackend()
	client := backend.New(config.BackendConfig{BaseURL: srv.URL + "/api"})

	first := NewManager(ctx, store.NewQueueStore(backendStore, ""), client,
		WithIDGenerator(uuid.Sequence("r1", "p1", "t1")))
	svc := NewService(first, connectivity.NewMonitor(false, nil), nil)

	for _, a := range []models.Action{
		models.Reception{NumCarton: "C-100"},
		models.Pose{NSerie: "K1", PosteID: "P9"},
		models.TestLabo{NSerie: "K2", ResultatOK: false},
	} {
		_, err := svc.EnqueueAction(ctx, a)
		require.NoError(t, err)
	}
	svc.Close(ctx)

	// reload, as after an application restart
	rec := &notify.Recorder{}
	second := NewManager(ctx, store.NewQueueStore(backendStore, ""), client, WithNotifier(rec))
	require.Equal(t, []string{"r1", "p1", "t1"}, ids(second.Queue()))

	monitor := connectivity.NewMonitor(false, rec)
	svc = NewService(second, monitor, nil)
	monitor.HandleOnline()

	report, err := svc.ReplayAll(ctx)
	require.NoError(t, err)

	require.Len(t, report.Success, 1)
	assert.Equal(t, "r1", report.Success[0].Action.ID)
	require.Len(t, report.Errors, 2)
	assert.Equal(t, "Erreur 400: Poste P9 inconnu", report.Errors[0].Message)
	assert.Equal(t, "Erreur réseau - Mis en attente", report.Errors[1].Message)

	q := svc.Queue()
	require.Len(t, q, 1)
	assert.Equal(t, "t1", q[0].ID)
	assert.Equal(t, 1, q[0].RetryCount)
	assert.NotEmpty(t, q[0].LastError)

	reloaded := store.NewQueueStore(backendStore, "").Load(ctx)
	assert.Equal(t, q, reloaded)

	texts := make([]string, 0)
	for _, m := range rec.Messages() {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{
		"Connexion rétablie. Vous pouvez lancer la synchronisation.",
		"Tentative de synchronisation de 3 action(s)...",
		"Synchronisation terminée avec des erreurs.",
	}, texts)
}
