package offline

import (
	"context"
	"encoding/json"

	"github.com/cpltrack/fieldsync/internal/connectivity"
	apperrors "github.com/cpltrack/fieldsync/internal/errors"
	"github.com/cpltrack/fieldsync/internal/models"
)

// Observer is told about state the UI displays.
type Observer interface {
	QueueChanged(queue []models.QueuedAction)
	ReportChanged(report *models.SyncReport)
	ConnectivityChanged(status connectivity.Status)
}

type nopObserver struct{}

func (nopObserver) QueueChanged([]models.QueuedAction) {}
func (nopObserver) ReportChanged(*models.SyncReport) {}
func (nopObserver) ConnectivityChanged(connectivity.Status) {}

// Status is the combined connectivity and queue state.
type Status struct {
	connectivity.Status
	Pending int                `json:"pending"`
	Report  *models.SyncReport `json:"report"`
}

// Service is the interface offered to the UI: the queue manager guarded by
// the connectivity monitor.
type Service struct {
	manager  *Manager
	monitor  *connectivity.Monitor
	observer Observer

	// runs ends every replay in progress when cancelled.
	runs     context.Context
	stopRuns context.CancelFunc
}

// NewService wires manager and monitor. observer may be nil.
func NewService(manager *Manager, monitor *connectivity.Monitor, observer Observer) *Service {
	if observer == nil {
		observer = nopObserver{}
	}
	s := &Service{manager: manager, monitor: monitor, observer: observer}
	s.runs, s.stopRuns = context.WithCancel(context.Background())
	monitor.Subscribe(observer.ConnectivityChanged)
	return s
}

// Manager exposes the underlying queue manager.
func (s *Service) Manager() *Manager {
	return s.manager
}

func (s *Service) IsOnline() bool {
	return s.monitor.IsOnline()
}

func (s *Service) IsSimulatedOffline() bool {
	return s.monitor.IsSimulatedOffline()
}

func (s *Service) Queue() []models.QueuedAction {
	return s.manager.Queue()
}

func (s *Service) SyncReport() *models.SyncReport {
	return s.manager.Report()
}

// Status returns the combined snapshot.
func (s *Service) Status() Status {
	return Status{
		Status:  s.monitor.Status(),
		Pending: s.manager.Len(),
		Report:  s.manager.Report(),
	}
}

func (s *Service) Enqueue(ctx context.Context, actionType, url string, payload json.RawMessage) (string, error) {
	id, err := s.manager.Enqueue(ctx, actionType, url, payload)
	if err != nil {
		return "", err
	}
	s.queueChanged()
	return id, nil
}

func (s *Service) EnqueueAction(ctx context.Context, action models.Action) (string, error) {
	id, err := s.manager.EnqueueAction(ctx, action)
	if err != nil {
		return "", err
	}
	s.queueChanged()
	return id, nil
}

func (s *Service) Remove(ctx context.Context, id string) bool {
	removed := s.manager.Remove(ctx, id)
	if removed {
		s.queueChanged()
	}
	return removed
}

func (s *Service) Clear(ctx context.Context) {
	s.manager.Clear(ctx)
	s.queueChanged()
}

func (s *Service) ClearReport() {
	s.manager.ClearReport()
	s.observer.ReportChanged(nil)
}

// ReplayAll replays the whole queue. It refuses with OFFLINE while offline,
// simulated or not.
func (s *Service) ReplayAll(ctx context.Context) (*models.SyncReport, error) {
	if !s.monitor.IsOnline() {
		return nil, apperrors.New(apperrors.ErrOffline, "cannot synchronise while offline")
	}
	ctx, done := s.replayContext(ctx)
	defer done()
	report, err := s.manager.ReplayAll(ctx)
	if report != nil {
		s.queueChanged()
		s.observer.ReportChanged(report)
	}
	return report, err
}

// ReplayOne replays a single action. It refuses with OFFLINE while offline.
func (s *Service) ReplayOne(ctx context.Context, id string) (Outcome, error) {
	if !s.monitor.IsOnline() {
		return OutcomeNotFound, apperrors.New(apperrors.ErrOffline, "cannot synchronise while offline")
	}
	ctx, done := s.replayContext(ctx)
	defer done()
	outcome, err := s.manager.ReplayOne(ctx, id)
	if err == nil && outcome != OutcomeNotFound {
		s.queueChanged()
		if outcome == OutcomeSucceeded {
			s.observer.ReportChanged(s.manager.Report())
		}
	}
	return outcome, err
}

func (s *Service) ToggleSimulation() connectivity.Status {
	return s.monitor.ToggleSimulation()
}

// StopReplays interrupts replays in progress. Untouched actions stay queued.
func (s *Service) StopReplays() {
	s.stopRuns()
}

// Close stops replays and writes the queue one last time.
func (s *Service) Close(ctx context.Context) {
	s.stopRuns()
	s.manager.Flush(ctx)
}

// replayContext keeps the values of ctx but not its cancellation: a replay
// started by a request runs to the end even if the client goes away, and
// only StopReplays interrupts it.
func (s *Service) replayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(s.runs, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *Service) queueChanged() {
	s.observer.QueueChanged(s.manager.Queue())
}
