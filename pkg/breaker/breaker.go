// Package breaker implements the circuit breaker that guards the upstream
// API. After a run of consecutive failures the circuit opens and requests
// fail fast without a network attempt; once the open window elapses a single
// probe is admitted, and its outcome closes or re-opens the circuit.
//
// This is the strict half-open-after-timeout model: no probe is admitted
// before OpenTimeout has elapsed since the last failure.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrOpen is returned by Allow when the circuit is open and the request
// must fail fast without touching the network.
var ErrOpen = errors.New("circuit breaker is open")

// State is the circuit breaker state.
type State int

const (
	// StateClosed admits all requests.
	StateClosed State = iota

	// StateOpen fails all requests fast.
	StateOpen

	// StateHalfOpen admits exactly one probe request.
	StateHalfOpen
)

// String returns the canonical state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config holds breaker tuning parameters.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int

	// OpenTimeout is how long the circuit stays open before a probe is
	// admitted. Deployments fronting flaky upstreams may shorten this
	// (e.g. 60s) for faster recovery detection.
	OpenTimeout time.Duration
}

// DefaultConfig returns the standard breaker parameters.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 10,
		OpenTimeout:      300 * time.Second,
	}
}

// Snapshot is a read-only view of the breaker state.
type Snapshot struct {
	State         string    `json:"state"`
	Failures      int       `json:"failures"`
	LastFailureAt time.Time `json:"last_failure_at,omitempty"`
}

// Breaker is a process-wide circuit breaker shared by all callers: one
// upstream, one breaker. A single mutex serializes every state transition
// so (failures, state) are never read torn. The lock is never held across
// a network call.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool

	config Config
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a circuit breaker.
func New(cfg Config, logger zerolog.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 10
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 300 * time.Second
	}
	return &Breaker{
		state:  StateClosed,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Allow reports whether a request may proceed. It returns ErrOpen while the
// circuit is open and the open window has not elapsed. When the window has
// elapsed it transitions to half-open and admits exactly one probe;
// concurrent callers keep failing fast until that probe resolves.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.config.OpenTimeout {
			breakerRejections.Inc()
			return ErrOpen
		}
		b.setState(StateHalfOpen)
		b.probing = true
		b.logger.Info().Msg("Circuit breaker half-open, admitting probe")
		return nil

	case StateHalfOpen:
		if b.probing {
			breakerRejections.Inc()
			return ErrOpen
		}
		b.probing = true
		return nil

	default:
		return ErrOpen
	}
}

// RecordSuccess resets the failure count and closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	b.failures = 0
	if b.state != StateClosed {
		b.logger.Info().Msg("Circuit breaker reset to CLOSED")
		b.setState(StateClosed)
	}
}

// RecordFailure increments the failure count. A failed half-open probe
// re-opens the circuit immediately; in the closed state the circuit opens
// once the threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()
	b.probing = false

	switch b.state {
	case StateHalfOpen:
		b.logger.Warn().Msg("Probe failed, circuit breaker re-opened")
		b.setState(StateOpen)
		breakerTrips.Inc()
	case StateClosed:
		if b.failures >= b.config.FailureThreshold {
			b.logger.Error().
				Int("failures", b.failures).
				Msg("Circuit breaker opened")
			b.setState(StateOpen)
			breakerTrips.Inc()
		}
	}
}

// ResolveProbe finishes a pending half-open probe without recording a
// failure or resetting the counter. Terminal client errors (4xx other than
// 429) land here: the upstream answered, so the circuit closes, but a
// caller mistake is not evidence of recovery worth zeroing the counter for.
func (b *Breaker) ResolveProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.probing {
		return
	}
	b.probing = false
	if b.state == StateHalfOpen {
		b.setState(StateClosed)
	}
}

// Reset unconditionally clears all breaker state. This is the
// administrative escape hatch; it never fails.
func (b *Breaker) Reset() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.lastFailure = time.Time{}
	b.probing = false
	b.setState(StateClosed)
	b.logger.Info().Msg("Circuit breaker manually reset")

	return b.snapshotLocked()
}

// Snapshot returns a consistent view of the breaker state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Breaker) snapshotLocked() Snapshot {
	return Snapshot{
		State:         b.state.String(),
		Failures:      b.failures,
		LastFailureAt: b.lastFailure,
	}
}

func (b *Breaker) setState(s State) {
	b.state = s
	breakerState.Set(float64(s))
}
