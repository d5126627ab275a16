package autonomy

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyTransient(t *testing.T) {
	cases := []string{
		"429 too many requests",
		"rate limit exceeded",
		"502 bad gateway",
		"connection reset by peer",
		"request timed out",
		"service unavailable",
		"model overloaded",
	}
	for _, msg := range cases {
		t.Run(msg, func(t *testing.T) {
			c := Classify(errors.New(msg))
			if c.Kind != ErrorKindTransient {
				t.Fatalf("expected transient, got %s (%s)", c.Kind, c.Reason)
			}
			if !c.Retryable {
				t.Fatalf("transient must be retryable")
			}
		})
	}
}

func TestClassifyFatal(t *testing.T) {
	cases := []string{
		"401 unauthorized",
		"403 forbidden",
		"invalid api key",
		"malformed tool arguments",
		"policy denied: rm on protected path",
		"schema validation failed for input",
	}
	for _, msg := range cases {
		t.Run(msg, func(t *testing.T) {
			c := Classify(errors.New(msg))
			if c.Kind != ErrorKindFatal {
				t.Fatalf("expected fatal, got %s (%s)", c.Kind, c.Reason)
			}
			if c.Retryable {
				t.Fatalf("fatal must not be retryable")
			}
		})
	}
}

func TestClassifyUnknown(t *testing.T) {
	c := Classify(errors.New("something inexplicable happened"))
	if c.Kind != ErrorKindUnknown {
		t.Fatalf("expected unknown, got %s", c.Kind)
	}
	if !c.Retryable {
		t.Fatalf("unknown is retryable up to the wrapper cap")
	}
}

func TestClassifyCancellation(t *testing.T) {
	c := Classify(fmt.Errorf("call aborted: %w", context.Canceled))
	if c.Kind != ErrorKindFatal {
		t.Fatalf("cancellation must be fatal, got %s", c.Kind)
	}
	if c.Reason != "cancelled" {
		t.Fatalf("unexpected reason: %s", c.Reason)
	}

	c = Classify(fmt.Errorf("call aborted: %w", context.DeadlineExceeded))
	if c.Kind != ErrorKindTransient {
		t.Fatalf("deadline must be transient, got %s", c.Kind)
	}
}

func TestClassifyRateLimitHint(t *testing.T) {
	c := Classify(errors.New("rate limit exceeded, slow down"))
	if c.BackoffHint <= 0 {
		t.Fatalf("expected a backoff hint for rate limits")
	}
}
