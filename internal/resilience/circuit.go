package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the breaker refuses to call the gateway.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is the breaker position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	}
	return "unknown"
}

// gauge encodes the state for the breaker_state metric.
func (s State) gauge() float64 {
	switch s {
	case Closed:
		return 0
	case Open:
		return 1
	case HalfOpen:
		return 2
	}
	return -1
}

const (
	// DefaultWindow is how far back outcomes count towards the failure ratio.
	DefaultWindow = time.Minute
	windowBuckets = 10
	maxBackoff    = 5 * time.Second
)

type bucket struct {
	start    time.Time
	ok, fail int
}

// Breaker guards a remote dependency such as the payment gateway. It opens when
// the failure ratio over a rolling window reaches the threshold after at least
// minRequests outcomes, stays open for the cool-off, then lets a single trial call
// through. A nil *Breaker admits every call and records nothing.
type Breaker struct {
	mu           sync.Mutex
	state        State
	probing      bool
	openedAt     time.Time
	minRequests  int
	failureRatio float64
	openFor      time.Duration
	window       time.Duration
	buckets      [windowBuckets]bucket
	target       string
	logger       *zerolog.Logger
	now          func() time.Time
}

// NewBreaker builds a closed breaker with the default rolling window.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	b := &Breaker{
		minRequests:  max(minRequests, 1),
		failureRatio: failureRatio,
		openFor:      openFor,
		window:       DefaultWindow,
		now:          time.Now,
	}
	switch {
	case b.failureRatio <= 0:
		b.failureRatio = 0.5
	case b.failureRatio > 1:
		b.failureRatio = 1
	}
	if b.openFor <= 0 {
		b.openFor = 30 * time.Second
	}
	return b
}

// WithWindow changes the rolling window outcomes are counted over.
func (b *Breaker) WithWindow(window time.Duration) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if window > 0 {
		b.window = window
		b.buckets = [windowBuckets]bucket{}
	}
	return b
}

// WithTarget names the guarded dependency in metrics and logs.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = strings.TrimSpace(target)
	b.publishStateLocked()
	return b
}

// WithLogger sets the logger used when no request logger is on the context.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = &logger
	return b
}

// WithClock replaces the time source.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now != nil {
		b.now = now
	}
	return b
}

// State returns the current position without admitting a call.
func (b *Breaker) State() State {
	if b == nil {
		return Closed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may go out now. After the cool-off the first
// caller becomes the half-open trial call and everyone else is refused until it reports.
func (b *Breaker) Allow(ctx context.Context) bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.openedAt) < b.openFor {
			return false
		}
		b.moveLocked(ctx, HalfOpen)
	}
	if b.probing {
		return false
	}
	b.probing = true
	return true
}

// Abandon releases an admitted call without counting it, for callers whose own
// context ended before the dependency answered.
func (b *Breaker) Abandon() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

// Report records the outcome of an admitted call.
func (b *Breaker) Report(ctx context.Context, success bool) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		if success {
			b.moveLocked(ctx, Closed)
		} else {
			b.moveLocked(ctx, Open)
		}
		return
	}

	now := b.now()
	b.recordLocked(now, success)
	ok, fail := b.tallyLocked(now)
	total := ok + fail
	if total >= b.minRequests && float64(fail)/float64(total) >= b.failureRatio {
		b.moveLocked(ctx, Open)
	}
}

func (b *Breaker) bucketWidth() time.Duration {
	return max(b.window/windowBuckets, time.Millisecond)
}

func (b *Breaker) recordLocked(now time.Time, success bool) {
	width := b.bucketWidth()
	start := now.Truncate(width)
	slot := &b.buckets[int(start.UnixNano()/int64(width))%windowBuckets]
	if !slot.start.Equal(start) {
		*slot = bucket{start: start}
	}
	if success {
		slot.ok++
	} else {
		slot.fail++
	}
}

func (b *Breaker) tallyLocked(now time.Time) (ok, fail int) {
	oldest := now.Add(-b.window)
	for _, bk := range b.buckets {
		if bk.start.After(oldest) {
			ok += bk.ok
			fail += bk.fail
		}
	}
	return ok, fail
}

func (b *Breaker) moveLocked(ctx context.Context, next State) {
	prev := b.state
	b.state = next
	b.probing = false
	b.buckets = [windowBuckets]bucket{}
	switch next {
	case Open:
		b.openedAt = b.now()
	case Closed:
		b.openedAt = time.Time{}
	}
	b.publishStateLocked()
	if prev == next {
		return
	}

	label := b.label()
	if BreakerTransitions != nil {
		BreakerTransitions.WithLabelValues(label, prev.String(), next.String()).Inc()
	}
	if next == Open && BreakerOpenedTotal != nil {
		BreakerOpenedTotal.WithLabelValues(label).Inc()
	}
	level := zerolog.InfoLevel
	if next == Open {
		level = zerolog.WarnLevel
	}
	evt := b.loggerFor(ctx).WithLevel(level).Str("target", label).Str("from_state", prev.String()).Str("to_state", next.String())
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Msg("breaker_transition")
}

func (b *Breaker) publishStateLocked() {
	if BreakerState != nil {
		BreakerState.WithLabelValues(b.label()).Set(b.state.gauge())
	}
}

func (b *Breaker) label() string {
	if b.target == "" {
		return "default"
	}
	return b.target
}

func (b *Breaker) loggerFor(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	if b.logger != nil {
		return b.logger
	}
	nop := zerolog.Nop()
	return &nop
}

// Backoff doubles base per attempt up to maxBackoff and spreads the result by
// ±jitter (a fraction, 0.2 is 20%).
func Backoff(base time.Duration, attempt int, jitter float64) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base
	for i := 1; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	d = min(d, maxBackoff)
	if jitter <= 0 {
		return d
	}
	spread := float64(d) * jitter
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
