// Package connectivity tracks whether the agent can reach the backend.
//
// The Monitor combines the platform signal (real connectivity) with a
// user-controlled simulation flag. Only the Prober produces platform signals;
// the Monitor never polls.
package connectivity

import (
	"sync"

	"github.com/cpltrack/fieldsync/internal/logging"
	"github.com/cpltrack/fieldsync/internal/notify"
)

// State is the effective connectivity state.
type State string

const (
	StateOnline           State = "online"
	StateOffline          State = "offline"
	StateOfflineSimulated State = "offline_simulated"
)

const (
	msgOnline        = "Connexion rétablie. Vous pouvez lancer la synchronisation."
	msgOffline       = "Vous êtes hors ligne. Mode dégradé activé."
	msgSimulationOn  = "Mode Hors Ligne Simulé Activé"
	msgSimulationOff = "Connexion rétablie (Simulation terminée). Prêt à synchroniser."
)

// Status is a snapshot of the monitor.
type Status struct {
	IsOnline           bool  `json:"isOnline"`
	IsSimulatedOffline bool  `json:"isSimulatedOffline"`
	State              State `json:"state"`
}

// Monitor is the connectivity state machine.
type Monitor struct {
	mu             sync.Mutex
	platformOnline bool
	simulated      bool
	notifier       notify.Notifier
	subscribers    []func(Status)
}

// NewMonitor creates a monitor seeded with the platform state at startup.
func NewMonitor(initialOnline bool, notifier notify.Notifier) *Monitor {
	if notifier == nil {
		notifier = notify.Nop
	}
	return &Monitor{platformOnline: initialOnline, notifier: notifier}
}

// Subscribe registers fn to receive every effective state change.
func (m *Monitor) Subscribe(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

func (m *Monitor) stateLocked() State {
	switch {
	case m.simulated:
		return StateOfflineSimulated
	case m.platformOnline:
		return StateOnline
	default:
		return StateOffline
	}
}

func (m *Monitor) statusLocked() Status {
	return Status{
		IsOnline:           m.platformOnline && !m.simulated,
		IsSimulatedOffline: m.simulated,
		State:              m.stateLocked(),
	}
}

// HandleOnline records that the platform reports connectivity.
// It never starts a replay.
func (m *Monitor) HandleOnline() {
	m.transition(func() (string, notify.Level) {
		m.platformOnline = true
		if m.simulated {
			return "", ""
		}
		return msgOnline, notify.LevelInfo
	})
}

// HandleOffline records that the platform lost connectivity.
func (m *Monitor) HandleOffline() {
	m.transition(func() (string, notify.Level) {
		m.platformOnline = false
		if m.simulated {
			return "", ""
		}
		return msgOffline, notify.LevelWarning
	})
}

// ToggleSimulation enters or leaves simulated offline mode.
func (m *Monitor) ToggleSimulation() Status {
	return m.transition(func() (string, notify.Level) {
		m.simulated = !m.simulated
		if m.simulated {
			return msgSimulationOn, notify.LevelWarning
		}
		if m.platformOnline {
			return msgSimulationOff, notify.LevelInfo
		}
		return "", ""
	})
}

// transition applies change and, when the effective state moved, notifies
// and informs subscribers outside the lock.
func (m *Monitor) transition(change func() (string, notify.Level)) Status {
	m.mu.Lock()
	before := m.stateLocked()
	msg, level := change()
	status := m.statusLocked()
	subs := append([]func(Status){}, m.subscribers...)
	m.mu.Unlock()

	if status.State == before {
		return status
	}

	logging.Info("Connectivity state changed", map[string]interface{}{
		"from": string(before),
		"to":   string(status.State),
	})
	if msg != "" {
		m.notifier.Notify(msg, level)
	}
	for _, fn := range subs {
		fn(status)
	}
	return status
}

// IsOnline reports true only when the platform is online and no simulation is active.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.platformOnline && !m.simulated
}

// IsSimulatedOffline reports whether simulated offline mode is active.
func (m *Monitor) IsSimulatedOffline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.simulated
}

// Status returns the current snapshot.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}
