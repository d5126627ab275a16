package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"chitragupta/internal/logging"
	"chitragupta/internal/types"
)

// ErrInputTimeout is returned by Ask when the timeout elapses and the
// request carries no default value.
var ErrInputTimeout = errors.New("runtime: input request timed out")

// InputRequest asks the host (a human or a supervising process) a question.
// If nobody answers within TimeoutMs the request resolves to DefaultValue
// when one is set and fails with ErrInputTimeout otherwise. A zero timeout
// waits until cancellation.
type InputRequest struct {
	AgentID      types.AgentID
	Prompt       string
	TimeoutMs    int
	DefaultValue *string // nil = no default
}

// PendingInput is one unanswered request.
type PendingInput struct {
	ID      string
	Request InputRequest
	AskedAt time.Time
}

// InputBroker matches agent questions with host answers.
type InputBroker struct {
	mu      sync.Mutex
	clock   types.Clock
	pending map[string]*pendingEntry
}

type pendingEntry struct {
	request InputRequest
	askedAt time.Time
	answer  chan string
}

// NewInputBroker creates an empty broker.
func NewInputBroker(clock types.Clock) *InputBroker {
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &InputBroker{clock: clock, pending: make(map[string]*pendingEntry)}
}

// Ask blocks until the request is answered, times out, or ctx is cancelled.
// A timeout resolves to the default value when one exists and fails with
// ErrInputTimeout when none does; cancellation always fails with ctx.Err().
func (b *InputBroker) Ask(ctx context.Context, req InputRequest) (string, error) {
	id := uuid.NewString()
	entry := &pendingEntry{
		request: req,
		askedAt: b.clock.Now(),
		answer:  make(chan string, 1),
	}
	b.mu.Lock()
	b.pending[id] = entry
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	logging.Runtime("agent %s requests input: %s", req.AgentID, req.Prompt)

	var timeout <-chan time.Time
	if req.TimeoutMs > 0 {
		timer := time.NewTimer(time.Duration(req.TimeoutMs) * time.Millisecond)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case answer := <-entry.answer:
		return answer, nil
	case <-timeout:
		if req.DefaultValue != nil {
			logging.RuntimeDebug("input request %s timed out, using default %q", id, *req.DefaultValue)
			return *req.DefaultValue, nil
		}
		logging.RuntimeDebug("input request %s timed out with no default", id)
		return "", ErrInputTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Respond answers a pending request. Returns false when the id is unknown
// or already answered.
func (b *InputBroker) Respond(id, answer string) bool {
	b.mu.Lock()
	entry, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	entry.answer <- answer
	return true
}

// Pending lists unanswered requests, oldest first.
func (b *InputBroker) Pending() []PendingInput {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PendingInput, 0, len(b.pending))
	for id, entry := range b.pending {
		out = append(out, PendingInput{ID: id, Request: entry.request, AskedAt: entry.askedAt})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].AskedAt.Before(out[j-1].AskedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
