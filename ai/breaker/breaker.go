// Package breaker guards the inference backend with a three-state
// circuit breaker. Consecutive failures trip it open; after the open
// window one probe request is let through, and consecutive probe
// successes close it again.
package breaker

import (
	"sync"
	"time"

	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/ports"
)

// State of the breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// ErrOpen is returned by Allow while the breaker rejects traffic.
var ErrOpen = errkind.New(errkind.UpstreamUnavailable, "circuit breaker open")

// Options configures a Breaker.
type Options struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open successes
	// required to close it again.
	SuccessThreshold int
	// OpenDuration is how long the breaker stays open before probing.
	OpenDuration time.Duration
	Clock        ports.Clock
	// OnStateChange, if set, is invoked after every transition.
	OnStateChange func(from, to State)
}

func (o *Options) fill() {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.SuccessThreshold <= 0 {
		o.SuccessThreshold = 2
	}
	if o.OpenDuration <= 0 {
		o.OpenDuration = 30 * time.Second
	}
	if o.Clock == nil {
		o.Clock = ports.SystemClock{}
	}
}

// Breaker is safe for concurrent use.
type Breaker struct {
	mu        sync.Mutex
	opts      Options
	state     State
	failures  int
	successes int
	openUntil time.Time
	probing   bool
}

func New(opts Options) *Breaker {
	opts.fill()
	return &Breaker{opts: opts}
}

// State returns the current state, moving Open to HalfOpen when the
// window has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// Allow reports whether a request may proceed. In the half-open state
// only one probe is admitted at a time; further callers are rejected
// until the probe settles through Success, Failure, or Release. Every
// admitted call must settle exactly once, or the probe slot leaks and
// the breaker rejects traffic forever.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
		return nil
	default:
		return ErrOpen
	}
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.probing = false
		b.successes++
		if b.successes >= b.opts.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

// Failure records a failed upstream call. Caller errors must not be fed
// here; settle those with Release instead.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.opts.FailureThreshold {
			b.trip()
		}
	case StateHalfOpen:
		b.probing = false
		b.trip()
	}
}

// Release returns an admitted probe slot without recording an outcome.
// Used when the call ended in a caller error or was abandoned before
// the backend could be judged.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.probing = false
	}
}

// RetryAfter returns how long until the next probe is admitted, or zero
// when traffic is flowing.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	if b.state != StateOpen {
		return 0
	}
	return b.openUntil.Sub(b.opts.Clock.Now())
}

// trip moves to Open and arms the window. Must hold mu.
func (b *Breaker) trip() {
	b.openUntil = b.opts.Clock.Now().Add(b.opts.OpenDuration)
	b.transition(StateOpen)
}

// maybeHalfOpen promotes Open to HalfOpen once the window elapses.
// Must hold mu.
func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && !b.opts.Clock.Now().Before(b.openUntil) {
		b.transition(StateHalfOpen)
	}
}

// transition switches state and resets counters. Must hold mu.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.failures = 0
	b.successes = 0
	b.probing = false
	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(from, to)
	}
}
