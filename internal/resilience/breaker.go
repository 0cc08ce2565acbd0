// Package resilience provides the circuit breaker protecting the
// virtual-agent path.
//
// The breaker is a classic three-state machine (closed → open → half-open).
// The orchestrator consults it before every Agentforce call so that a
// flapping or misconfigured deployment is skipped cheaply instead of paying
// a doomed network round-trip on every turn; a skipped call counts as a
// failed virtual-agent attempt and routes the turn to the chat fallback.
//
// All methods are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Allow] while the breaker is open and the
// cool-down has not yet elapsed.
var ErrOpen = errors.New("resilience: breaker is open")

// State represents the current operating mode of a [Breaker].
type State int

const (
	// StateClosed is the normal operating state — calls proceed.
	StateClosed State = iota

	// StateOpen means the breaker tripped after consecutive failures.
	// Calls are refused until the cool-down elapses.
	StateOpen

	// StateHalfOpen is the probe state after the cool-down. A limited
	// number of calls are allowed; success closes the breaker, failure
	// re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds tuning knobs for a [Breaker]. Zero values select defaults.
type Config struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed
	// state before the breaker opens. Default: 5.
	MaxFailures int

	// CoolDown is how long the breaker stays open before probing again.
	// Default: 30s.
	CoolDown time.Duration

	// ProbeMax is the maximum number of probe calls allowed while
	// half-open. Default: 3.
	ProbeMax int
}

// Breaker implements the three-state circuit breaker pattern around a
// single protected call site.
type Breaker struct {
	name        string
	maxFailures int
	coolDown    time.Duration
	probeMax    int

	mu          sync.Mutex
	state       State
	consecutive int
	lastFailure time.Time
	probeCalls  int
	probeFails  int
}

// New creates a [Breaker] with the supplied configuration.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if cfg.ProbeMax <= 0 {
		cfg.ProbeMax = 3
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		coolDown:    cfg.CoolDown,
		probeMax:    cfg.ProbeMax,
		state:       StateClosed,
	}
}

// Allow reports whether a call may proceed. It returns nil in the closed
// state, transitions open → half-open after the cool-down, admits a bounded
// number of probes while half-open, and otherwise returns [ErrOpen].
// Every admitted call must be concluded with exactly one [Breaker.Record].
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) < b.coolDown {
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.probeCalls = 0
		b.probeFails = 0
		slog.Info("breaker transitioning to half-open", "name", b.name)
		b.probeCalls++
		return nil

	case StateHalfOpen:
		if b.probeCalls >= b.probeMax {
			return ErrOpen
		}
		b.probeCalls++
		return nil

	default:
		return nil
	}
}

// Record concludes a call admitted by [Breaker.Allow] with its outcome.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		switch b.state {
		case StateHalfOpen:
			b.state = StateClosed
			slog.Info("breaker closed after successful probe", "name", b.name)
		}
		b.consecutive = 0
		return
	}

	b.lastFailure = time.Now()
	switch b.state {
	case StateHalfOpen:
		b.probeFails++
		b.state = StateOpen
		slog.Warn("breaker re-opened after failed probe", "name", b.name, "error", err)
	default:
		b.consecutive++
		if b.consecutive >= b.maxFailures {
			b.state = StateOpen
			slog.Warn("breaker opened",
				"name", b.name, "consecutive_failures", b.consecutive, "error", err)
		}
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
