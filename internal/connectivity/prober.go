package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cpltrack/fieldsync/internal/logging"
)

// Checker reaches the backend. A nil error means some HTTP response came back.
type Checker interface {
	Health(ctx context.Context) error
}

// Signal receives platform connectivity signals.
type Signal interface {
	HandleOnline()
	HandleOffline()
}

// Prober runs the health check on a cron schedule and feeds the result to a Signal.
type Prober struct {
	cron    *cron.Cron
	checker Checker
	target  Signal
	timeout time.Duration
	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	running bool
}

// NewProber validates schedule and builds a stopped prober.
func NewProber(checker Checker, target Signal, schedule string, timeout time.Duration) (*Prober, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Prober{
		cron:    cron.New(),
		checker: checker,
		target:  target,
		timeout: timeout,
		baseCtx: ctx,
		cancel:  cancel,
	}
	if _, err := p.cron.AddFunc(schedule, func() { p.Probe(p.baseCtx) }); err != nil {
		cancel()
		return nil, err
	}
	return p, nil
}

// Probe checks the backend once and reports the outcome. It returns true when reachable.
// A probe cut short by ctx, as during Stop, reports nothing.
func (p *Prober) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.checker.Health(probeCtx); err != nil {
		if ctx.Err() != nil {
			logging.Debug("Connectivity probe interrupted", map[string]interface{}{"error": ctx.Err().Error()})
			return false
		}
		logging.Debug("Connectivity probe failed", map[string]interface{}{"error": err.Error()})
		p.target.HandleOffline()
		return false
	}
	p.target.HandleOnline()
	return true
}

// Start begins scheduled probing. Calling Start twice has no effect.
func (p *Prober) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.cron.Start()
	logging.Info("Connectivity prober started", nil)
}

// Stop halts probing and waits for a running probe to finish.
func (p *Prober) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		p.cancel()
		return
	}
	p.running = false
	p.cancel()
	<-p.cron.Stop().Done()
	logging.Info("Connectivity prober stopped", nil)
}
