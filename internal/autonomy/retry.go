package autonomy

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"chitragupta/internal/events"
	"chitragupta/internal/logging"
)

// RetryOptions tunes WithRetry for a single operation.
type RetryOptions struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// normalized fills zero fields from the wrapper defaults.
func (o RetryOptions) normalized(cfg Config) RetryOptions {
	if o.MaxRetries <= 0 {
		o.MaxRetries = cfg.MaxRetries
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = cfg.BaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = cfg.MaxDelay
	}
	return o
}

// RetryExhaustedError carries the final failure and its classification after
// all attempts were spent.
type RetryExhaustedError struct {
	Op             string
	Attempts       int
	Last           error
	Classification Classification
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts (%s): %v", e.Op, e.Attempts, e.Classification.Kind, e.Last)
}

// Unwrap returns the last underlying error.
func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// WithRetry executes op, classifying each failure. Transient failures (and
// unknown failures under the per-message cap) back off exponentially with
// jitter and retry; fatal failures surface immediately. Retries for one
// agent are strictly sequential; the wrapper never runs two turns at once.
func (w *Wrapper) WithRetry(ctx context.Context, op string, fn func(context.Context) error, opts RetryOptions) error {
	opts = opts.normalized(w.cfg)

	var lastErr error
	var lastClass Classification

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return &RetryExhaustedError{
				Op:             op,
				Attempts:       attempt,
				Last:           err,
				Classification: Classification{Kind: ErrorKindFatal, Reason: "cancelled"},
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err
		lastClass = Classify(err)
		if lastClass.Kind == ErrorKindUnknown && w.countUnknown(err.Error()) > w.cfg.UnknownErrorCap {
			// Same opaque failure keeps coming back; treat it as fatal.
			lastClass = Classification{Kind: ErrorKindFatal, Reason: "repeated unknown error escalated"}
		}

		w.bus.Emit(events.AutonomyErrorClassified, string(w.agentID), map[string]interface{}{
			"op":      op,
			"kind":    string(lastClass.Kind),
			"reason":  lastClass.Reason,
			"attempt": attempt,
			"error":   err.Error(),
		})

		if lastClass.Kind == ErrorKindFatal || !lastClass.Retryable {
			logging.Get(logging.CategoryAutonomy).Warn("%s: fatal error on attempt %d: %v", op, attempt, err)
			return &RetryExhaustedError{Op: op, Attempts: attempt + 1, Last: lastErr, Classification: lastClass}
		}

		if attempt >= opts.MaxRetries {
			break
		}

		delay := backoffDelay(opts, attempt, lastClass.BackoffHint)
		logging.AutonomyDebug("%s: attempt %d failed (%s), retrying in %v", op, attempt, lastClass.Kind, delay)

		w.bus.Emit(events.AutonomyRetry, string(w.agentID), map[string]interface{}{
			"op":       op,
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
			"kind":     string(lastClass.Kind),
		})

		if err := w.sleep(ctx, delay); err != nil {
			// Cancelled mid-backoff: short-circuit to fatal.
			return &RetryExhaustedError{
				Op:             op,
				Attempts:       attempt + 1,
				Last:           err,
				Classification: Classification{Kind: ErrorKindFatal, Reason: "cancelled"},
			}
		}
	}

	logging.Get(logging.CategoryAutonomy).Warn("%s: retries exhausted: %v", op, lastErr)
	return &RetryExhaustedError{Op: op, Attempts: opts.MaxRetries + 1, Last: lastErr, Classification: lastClass}
}

// backoffDelay computes min(maxDelay, base * 2^attempt + jitter), where
// jitter is uniform in [0, 0.25*base]. A classifier hint raises the floor.
func backoffDelay(opts RetryOptions, attempt int, hint time.Duration) time.Duration {
	shift := attempt
	if shift > 16 {
		shift = 16
	}
	delay := opts.BaseDelay * time.Duration(1<<shift)
	jitterRange := opts.BaseDelay / 4
	if jitterRange > 0 {
		delay += time.Duration(rand.Int63n(int64(jitterRange) + 1))
	}
	if hint > delay {
		delay = hint
	}
	if delay > opts.MaxDelay {
		delay = opts.MaxDelay
	}
	return delay
}

// sleepContext waits for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
