// Package retry runs an operation under a bounded exponential-backoff policy.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"BlogPublisher/internal/logging"
)

// Config bounds the number of attempts and the wait between them.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Classifier decides whether err is worth another attempt. A positive
// wait overrides the computed backoff when it is longer (e.g. Retry-After).
type Classifier func(err error) (retryable bool, wait time.Duration)

// Retrier executes operations with exponential backoff.
type Retrier struct {
	config   Config
	classify Classifier
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewRetrier builds a retrier; a nil classifier never retries.
func NewRetrier(config Config, classify Classifier, logger *slog.Logger) *Retrier {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Retrier{
		config:   config,
		classify: classify,
		logger:   logger,
		sleep:    Sleep,
	}
}

// WithSleep replaces the wait function; tests use it to avoid real delays.
func (r *Retrier) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Retrier {
	r.sleep = sleep
	return r
}

// Do calls operation until it succeeds, fails permanently or attempts run out.
// It returns the number of attempts made and the last operation error unwrapped,
// or a context error if cancelled while waiting.
func (r *Retrier) Do(ctx context.Context, operation func(attempt int) error) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		lastErr = operation(attempt)
		if lastErr == nil {
			if attempt > 1 {
				r.logger.Info("operation succeeded after retry", "attempt", attempt)
			}
			return attempt, nil
		}

		retryable, wait := false, time.Duration(0)
		if r.classify != nil {
			retryable, wait = r.classify(lastErr)
		}

		r.logger.Warn("operation attempt failed",
			"attempt", attempt,
			"max_attempts", r.config.MaxAttempts,
			"retryable", retryable,
			"error", lastErr)

		if !retryable || attempt == r.config.MaxAttempts {
			return attempt, lastErr
		}

		delay := r.Delay(attempt)
		if wait > delay {
			delay = wait
		}
		if r.config.MaxDelay > 0 && delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
		}

		r.logger.Debug("retry backoff wait", "attempt", attempt, "delay_ms", delay.Milliseconds())
		if err := r.sleep(ctx, delay); err != nil {
			return attempt, fmt.Errorf("retry cancelled: %w", err)
		}
	}
	return r.config.MaxAttempts, lastErr
}

// Delay returns the backoff after the given attempt: base * 2^(attempt-1), capped.
func (r *Retrier) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := r.config.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if r.config.MaxDelay > 0 && delay >= r.config.MaxDelay {
			return r.config.MaxDelay
		}
	}
	return delay
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// StatusPolicy lists the HTTP methods and status codes that may be retried.
type StatusPolicy struct {
	statuses map[int]struct{}
	methods  map[string]struct{}
}

// NewStatusPolicy builds a policy; without methods it defaults to POST and PUT.
func NewStatusPolicy(statuses []int, methods ...string) StatusPolicy {
	if len(methods) == 0 {
		methods = []string{http.MethodPost, http.MethodPut}
	}
	p := StatusPolicy{
		statuses: make(map[int]struct{}, len(statuses)),
		methods:  make(map[string]struct{}, len(methods)),
	}
	for _, s := range statuses {
		p.statuses[s] = struct{}{}
	}
	for _, m := range methods {
		p.methods[m] = struct{}{}
	}
	return p
}

// Retryable reports whether a response with status to method may be retried.
func (p StatusPolicy) Retryable(method string, status int) bool {
	if _, ok := p.methods[method]; !ok {
		return false
	}
	_, ok := p.statuses[status]
	return ok
}
