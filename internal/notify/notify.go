// Package notify delivers user-facing toast messages.
package notify

import (
	"sync"

	"github.com/cpltrack/fieldsync/internal/logging"
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelSuccess, LevelWarning, LevelError:
		return true
	}
	return false
}

// Notifier shows a message to the user.
type Notifier interface {
	Notify(message string, level Level)
}

// Func adapts a plain function to Notifier.
type Func func(message string, level Level)

func (f Func) Notify(message string, level Level) {
	f(message, level)
}

// Nop discards every notification.
var Nop Notifier = Func(func(string, Level) {})

// Multi fans a notification out to several sinks in order.
type Multi []Notifier

func (m Multi) Notify(message string, level Level) {
	for _, n := range m {
		if n != nil {
			n.Notify(message, level)
		}
	}
}

// Log writes notifications to the structured log.
type Log struct{}

func (Log) Notify(message string, level Level) {
	fields := map[string]interface{}{"level": string(level)}
	switch level {
	case LevelError:
		logging.Error("Toast: "+message, nil, fields)
	case LevelWarning:
		logging.Warn("Toast: "+message, fields)
	default:
		logging.Info("Toast: "+message, fields)
	}
}

// Message is one recorded notification.
type Message struct {
	Text  string `json:"message"`
	Level Level  `json:"level"`
}

// Recorder keeps every notification it receives.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Notify(message string, level Level) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Text: message, Level: level})
}

// Messages returns a copy of the recorded notifications.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Last returns the most recent notification.
func (r *Recorder) Last() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return Message{}, false
	}
	return r.messages[len(r.messages)-1], true
}

// Reset forgets recorded notifications.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}
