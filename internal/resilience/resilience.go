// Package resilience wraps outbound calls with a small policy object instead
// of scattering retry/timeout/circuit breaker logic across each caller. The
// query reformulation and memory extraction LLM calls go through it; the
// embedding, reranker and chat-stream calls do not. This is a direct implementation of the
// retry/circuit-breaker-annotation replacement called for by the
// re-architecture notes: explicit policy objects and a generic call helper
// in place of annotation-driven AOP.
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// Policy bundles the resilience behaviors applied to a single outbound call.
type Policy struct {
	Retry    RetryPolicy
	Timeout  time.Duration
	Breaker  *Breaker
	Fallback func(err error) (any, error)
}

// RetryPolicy controls attempt count and backoff between attempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// DefaultRetry is a modest retry policy suitable for idempotent reads.
var DefaultRetry = RetryPolicy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second, Jitter: true}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << uint(attempt)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()*0.5))
	}
	return d
}

// Call runs fn under policy: circuit breaker gate, retries with backoff,
// per-attempt timeout, and a fallback invoked if every attempt fails.
func Call[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if policy.Breaker != nil && !policy.Breaker.Allow() {
		if policy.Fallback != nil {
			v, err := policy.Fallback(ErrBreakerOpen)
			if err == nil {
				if t, ok := v.(T); ok {
					return t, nil
				}
			}
			return zero, err
		}
		return zero, ErrBreakerOpen
	}

	attempts := policy.Retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				goto done
			case <-time.After(policy.Retry.delay(attempt)):
			}
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if policy.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
		}
		v, err := fn(callCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			if policy.Breaker != nil {
				policy.Breaker.RecordSuccess()
			}
			return v, nil
		}
		lastErr = err
		if policy.Breaker != nil {
			policy.Breaker.RecordFailure()
			policy.Breaker.mu.Lock()
			policy.Breaker.lastErr = err
			policy.Breaker.mu.Unlock()
		}
		if errors.Is(err, context.Canceled) {
			break
		}
	}

done:
	if policy.Fallback != nil {
		v, err := policy.Fallback(lastErr)
		if err == nil {
			if t, ok := v.(T); ok {
				return t, nil
			}
		}
		return zero, err
	}
	return zero, lastErr
}

// ErrBreakerOpen is returned when a call is rejected by an open breaker.
var ErrBreakerOpen = errors.New("resilience: circuit breaker open")

// BreakerState is the externally observable state of a Breaker, reported by
// the health/stats endpoint.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker is a simple consecutive-failure circuit breaker: after
// FailureThreshold consecutive failures it opens for OpenDuration, then
// allows a single half-open trial call before fully closing or re-opening.
type Breaker struct {
	Name             string
	FailureThreshold int
	OpenDuration     time.Duration

	mu            sync.Mutex
	state         BreakerState
	consecutive   int
	openedAt      time.Time
	halfOpenInUse bool
	lastErr       error
}

// NewBreaker returns a Breaker with the given name and defaults (5
// consecutive failures opens for 30s, half-open allows 1 trial call).
func NewBreaker(name string) *Breaker {
	return &Breaker{Name: name, FailureThreshold: 5, OpenDuration: 30 * time.Second}
}

// Allow reports whether a call may proceed, transitioning open->half-open
// once OpenDuration has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.OpenDuration {
			b.state = StateHalfOpen
			b.halfOpenInUse = false
		} else {
			return false
		}
		fallthrough
	case StateHalfOpen:
		if b.halfOpenInUse {
			return false
		}
		b.halfOpenInUse = true
		return true
	}
	return true
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
	b.state = StateClosed
	b.halfOpenInUse = false
	b.lastErr = nil
}

// RecordFailure increments the consecutive failure count, opening the
// breaker once the threshold is reached (or immediately re-opening a
// half-open trial that failed).
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastErr = nil
	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = time.Now()
		b.halfOpenInUse = false
		return
	}
	b.consecutive++
	if b.consecutive >= b.FailureThreshold {
		b.state = StateOpen
		b.openedAt = time.Now()
	}
}

// Snapshot is the point-in-time breaker state reported by /health/stats.
type Snapshot struct {
	Name        string       `json:"name"`
	State       BreakerState `json:"state"`
	LastFailure string       `json:"lastFailure,omitempty"`
}

// Snapshot returns the current externally observable state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{Name: b.Name, State: b.state}
	if b.lastErr != nil {
		s.LastFailure = b.lastErr.Error()
	}
	return s
}
