// Package autonomy wraps each agent turn with error classification, retry,
// context recovery and graceful degradation. It owns the turn-metrics ring
// and the per-tool failure tracker.
package autonomy

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrorKind buckets a failure for retry policy.
type ErrorKind string

const (
	// ErrorKindTransient covers network hiccups, rate limits and 5xx.
	ErrorKindTransient ErrorKind = "transient"

	// ErrorKindFatal covers failures that retrying cannot fix.
	ErrorKindFatal ErrorKind = "fatal"

	// ErrorKindUnknown is everything else; retried up to a small cap.
	ErrorKindUnknown ErrorKind = "unknown"
)

// Classification is the retry advice for a single failure.
type Classification struct {
	Kind        ErrorKind
	Retryable   bool
	BackoffHint time.Duration // 0 means no hint
	Reason      string
}

var transientHints = []string{
	"timeout",
	"timed out",
	"context deadline",
	"rate limit",
	"too many requests",
	"429",
	"500",
	"502",
	"503",
	"504",
	"internal server error",
	"bad gateway",
	"service unavailable",
	"overloaded",
	"connection reset",
	"connection refused",
	"broken pipe",
	"temporar",
	"unavailable",
	"eof",
	"network",
	"i/o",
}

var fatalHints = []string{
	"401",
	"403",
	"404",
	"422",
	"unauthorized",
	"forbidden",
	"invalid api key",
	"authentication",
	"auth failed",
	"malformed",
	"invalid schema",
	"schema validation",
	"invalid argument",
	"invalid_request",
	"policy",
	"not permitted",
	"denied",
	"cancelled",
	"canceled",
}

// Classify maps a failure to retry advice. Pure function: same error text,
// same answer.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: ErrorKindUnknown, Reason: "nil error"}
	}

	// Context cancellation is a deliberate stop, never retried.
	if errors.Is(err, context.Canceled) {
		return Classification{Kind: ErrorKindFatal, Reason: "cancelled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{
			Kind:        ErrorKindTransient,
			Retryable:   true,
			BackoffHint: time.Second,
			Reason:      "deadline exceeded",
		}
	}

	msg := strings.ToLower(err.Error())

	for _, h := range transientHints {
		if strings.Contains(msg, h) {
			c := Classification{Kind: ErrorKindTransient, Retryable: true, Reason: "matched transient pattern: " + h}
			if h == "rate limit" || h == "too many requests" || h == "429" {
				c.BackoffHint = 2 * time.Second
			}
			return c
		}
	}

	for _, h := range fatalHints {
		if strings.Contains(msg, h) {
			return Classification{Kind: ErrorKindFatal, Reason: "matched fatal pattern: " + h}
		}
	}

	return Classification{Kind: ErrorKindUnknown, Retryable: true, Reason: "unclassified"}
}
