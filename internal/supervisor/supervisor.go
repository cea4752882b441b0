// Package supervisor wraps each core component's run loop in a
// circuit breaker: spec §5 and §7 require 5 failures in 60 seconds to
// abort the process, since an operator-visible crash is preferable to
// a silently wedged scheduler. No circuit-breaker library appears
// anywhere in the retrieved example pack, so this is hand-rolled on
// top of internal/backoff (adapted from the teacher's own retry
// package) — see DESIGN.md.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/waterwheel/waterwheel/internal/backoff"
	"github.com/waterwheel/waterwheel/internal/logger"
)

// ErrCircuitOpen is returned by Run once the failure threshold has
// been exceeded within the configured window.
type ErrCircuitOpen struct {
	Component string
	Failures  int
	Window    time.Duration
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("supervisor: %s failed %d times within %s, circuit open", e.Component, e.Failures, e.Window)
}

// Supervisor runs a single component's loop function, restarting it
// on error until maxFailures failures fall within window, at which
// point it gives up.
type Supervisor struct {
	Component   string
	MaxFailures int
	Window      time.Duration
	Logger      logger.Logger

	mu        sync.Mutex
	failures  []time.Time
}

// New builds a Supervisor for the named component.
func New(component string, maxFailures int, window time.Duration, lg logger.Logger) *Supervisor {
	return &Supervisor{Component: component, MaxFailures: maxFailures, Window: window, Logger: lg}
}

// recordFailure appends now to the failure history, pruning entries
// older than the window, and reports whether the breaker should trip.
func (s *Supervisor) recordFailure(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.Window)
	kept := s.failures[:0]
	for _, f := range s.failures {
		if !f.Before(cutoff) {
			kept = append(kept, f)
		}
	}
	kept = append(kept, now)
	s.failures = kept

	return len(s.failures) >= s.MaxFailures
}

// Run invokes fn repeatedly until ctx is canceled (clean shutdown) or
// fn has failed MaxFailures times within Window, in which case Run
// returns *ErrCircuitOpen and the caller (main) should exit
// non-zero.
func (s *Supervisor) Run(ctx context.Context, fn func(context.Context) error) error {
	retrier := backoff.NewRetrier(backoff.WithJitter(
		backoff.NewExponentialBackoffPolicy(100*time.Millisecond), backoff.Jitter,
	))

	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		now := time.Now()
		tripped := s.recordFailure(now)
		if s.Logger != nil {
			s.Logger.Error("component failed", "component", s.Component, "error", err)
		}
		if tripped {
			return &ErrCircuitOpen{Component: s.Component, Failures: s.MaxFailures, Window: s.Window}
		}

		if waitErr := retrier.Next(ctx); waitErr != nil {
			return nil
		}
	}
}
