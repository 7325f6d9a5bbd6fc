// Package retry implements the bounded retry envelope wrapped around
// upstream provider calls: exponential backoff, blocked-response
// classification, and a composite exhaustion error.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// blockedMarkers are the signatures the provider's anti-bot challenge
// leaves in error text when it answers with HTML instead of JSON.
var blockedMarkers = []string{
	"unexpected token",
	"is not valid json",
	"html",
	"doctype",
}

// Blocked reports whether err carries a challenge-response signature.
// Matching is case-insensitive over the full error chain text.
func Blocked(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range blockedMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Policy controls the retry envelope.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff.
	BaseDelay time.Duration
	// BlockedPenalty is added to the delay when the failed attempt
	// classified as blocked.
	BlockedPenalty time.Duration

	// Sleep overrides the backoff wait, for tests. Nil means Wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns the service defaults: 3 attempts, 5s base
// delay doubling per attempt, 3s blocked penalty.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      5 * time.Second,
		BlockedPenalty: 3 * time.Second,
	}
}

// Delay returns the pause after failed attempt n (1-based):
// BaseDelay doubled per prior attempt, plus the penalty when that
// failure was blocked.
func (p Policy) Delay(attempt int, blocked bool) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay * time.Duration(1<<uint(attempt-1))
	if blocked {
		d += p.BlockedPenalty
	}
	return d
}

// ExhaustedError reports that every attempt at an operation failed.
// It unwraps to the last underlying error.
type ExhaustedError struct {
	Op       string
	Attempts int
	Blocked  bool
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

type unrecoverableError struct {
	err error
}

func (u unrecoverableError) Error() string {
	return u.err.Error()
}

func (u unrecoverableError) Unwrap() error {
	return u.err
}

// Unrecoverable marks err so Do stops immediately and returns the
// original error instead of burning the remaining attempts.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return unrecoverableError{err: err}
}

// Do runs fn under the policy. It returns nil on the first success,
// ctx's error when the caller goes away, the unwrapped cause for
// unrecoverable failures, and *ExhaustedError once attempts run out.
// The exhaustion error's Blocked flag reflects the last failure.
func Do(ctx context.Context, p Policy, logger zerolog.Logger, op string, fn func(ctx context.Context) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Wait
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		lastErr     error
		lastBlocked bool
	)

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Str("op", op).
					Int("attempt", attempt).
					Msg("upstream call recovered")
			}
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var unrec unrecoverableError
		if errors.As(err, &unrec) {
			return unrec.err
		}

		lastErr = err
		lastBlocked = Blocked(err)

		if attempt == attempts {
			break
		}

		delay := p.Delay(attempt, lastBlocked)
		logger.Warn().
			Str("op", op).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Bool("blocked", lastBlocked).
			Dur("delay", delay).
			Err(err).
			Msg("upstream call failed, backing off")

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}

	return &ExhaustedError{Op: op, Attempts: attempts, Blocked: lastBlocked, Err: lastErr}
}

// Wait blocks for d or until ctx ends, whichever comes first.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
