// Package poller provides the bounded, cancellable polling primitive the
// client uses everywhere a chain side-effect has to become visible in the
// backend: fixed interval, capped attempts, cooperative cancellation.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/verdikta/verdikta-applications-sub001/pkgs/metrics"
)

// ErrCancelled is returned when a poll is torn down before finishing. A
// cancelled poll never delivers its result.
var ErrCancelled = errors.New("poll cancelled")

// Token is a cooperative cancellation handle. Every long operation checks it
// at each suspension point.
type Token struct {
	once sync.Once
	done chan struct{}
}

// NewToken creates a live token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel marks the token dead. Safe to call more than once.
func (t *Token) Cancel() {
	t.once.Do(func() { close(t.done) })
}

// Cancelled reports whether the token is dead.
func (t *Token) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done exposes the cancellation channel for select loops.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// CheckFunc is one poll attempt. A true result stops the poll. Errors are
// treated as a falsy attempt and retried; only reads go through here.
type CheckFunc func(ctx context.Context) (bool, error)

// Options configures a poll run.
type Options struct {
	Kind        string // metrics label
	Interval    time.Duration
	MaxAttempts int
	OnProgress  func(attempt, maxAttempts int)
}

// Poll sleeps Interval before each attempt (attempt numbering starts at 1),
// then runs check. It returns true as soon as check does, false once
// MaxAttempts attempts are exhausted, and ErrCancelled when the token or
// context dies first.
func Poll(ctx context.Context, token *Token, check CheckFunc, opts Options) (bool, error) {
	if opts.Kind == "" {
		opts.Kind = "generic"
	}

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false, ErrCancelled
		case <-token.Done():
			return false, ErrCancelled
		case <-time.After(opts.Interval):
		}

		if token.Cancelled() {
			return false, ErrCancelled
		}

		if opts.OnProgress != nil {
			opts.OnProgress(attempt, opts.MaxAttempts)
		}
		metrics.PollAttempts.WithLabelValues(opts.Kind).Inc()

		ok, err := check(ctx)
		if err != nil {
			log.WithField("kind", opts.Kind).Debugf("Poll attempt %d/%d errored: %v", attempt, opts.MaxAttempts, err)
			continue
		}
		if ok {
			metrics.PollOutcomes.WithLabelValues(opts.Kind, "success").Inc()
			return true, nil
		}
	}

	metrics.PollOutcomes.WithLabelValues(opts.Kind, "timeout").Inc()
	return false, nil
}
