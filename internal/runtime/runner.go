// Package runtime hosts agents: it registers them with the lifecycle
// manager, runs the guarded turn loop, and feeds procedural hints into new
// conversations.
package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"chitragupta/internal/autonomy"
	"chitragupta/internal/events"
	"chitragupta/internal/kaala"
	"chitragupta/internal/logging"
	"chitragupta/internal/types"
	"chitragupta/internal/vidhi"
)

// Config tunes the runner.
type Config struct {
	Autonomy     autonomy.Config
	MaxTurns     int // per agent, 0 = default
	ContextLimit int // tokens, 0 = default
}

// DefaultConfig returns the standard runner limits.
func DefaultConfig() Config {
	return Config{
		Autonomy:     autonomy.DefaultConfig(),
		MaxTurns:     50,
		ContextLimit: 200_000,
	}
}

// SpawnOptions describes a new agent.
type SpawnOptions struct {
	AgentID      types.AgentID // empty = generated
	ParentID     types.AgentID // empty for roots
	Purpose      string
	SystemPrompt string
	Request      string // the initial user request
	MaxTurns     int    // 0 = runner default

	// BudgetMultiplier scales the decayed child budget, (0,1]. Zero or
	// out-of-range means 1. Hosts pass config.AgentProfile.BudgetMultiplier
	// here when spawning from a profile.
	BudgetMultiplier float64
}

// Runner owns one goroutine per agent.
type Runner struct {
	mu         sync.Mutex
	cfg        Config
	lifecycle  *kaala.Manager
	provider   types.Provider
	tools      types.ToolRunner
	bus        *events.Bus
	procedures *vidhi.Engine // optional
	clock      types.Clock
	inputs     *InputBroker

	group   *errgroup.Group
	baseCtx context.Context
	cancel  context.CancelFunc
	agents  map[types.AgentID]*agentHandle
}

type agentHandle struct {
	id      types.AgentID
	wrapper *autonomy.Wrapper
	cancel  context.CancelFunc
}

// NewRunner wires the runtime host. procedures may be nil.
func NewRunner(cfg Config, lifecycle *kaala.Manager, provider types.Provider,
	tools types.ToolRunner, bus *events.Bus, procedures *vidhi.Engine,
	clock types.Clock) *Runner {
	if clock == nil {
		clock = types.SystemClock{}
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultConfig().MaxTurns
	}
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = DefaultConfig().ContextLimit
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	return &Runner{
		cfg:        cfg,
		lifecycle:  lifecycle,
		provider:   provider,
		tools:      tools,
		bus:        bus,
		procedures: procedures,
		clock:      clock,
		inputs:     NewInputBroker(clock),
		group:      group,
		baseCtx:    ctx,
		cancel:     cancel,
		agents:     make(map[types.AgentID]*agentHandle),
	}
}

// Inputs exposes the input broker so hosts can answer agent questions.
func (r *Runner) Inputs() *InputBroker { return r.inputs }

// Spawn registers a new agent with the lifecycle manager and starts its turn
// loop on its own goroutine.
func (r *Runner) Spawn(opts SpawnOptions) (types.AgentID, error) {
	id := opts.AgentID
	if id == "" {
		id = types.AgentID("agent-" + uuid.NewString())
	}

	budget := 0
	if opts.ParentID != "" {
		if check := r.lifecycle.CanSpawn(opts.ParentID); !check.Allowed {
			return "", fmt.Errorf("runtime: spawn denied: %s", check.Reason)
		}
		budget = r.lifecycle.ComputeChildBudget(opts.ParentID)
		if opts.BudgetMultiplier > 0 && opts.BudgetMultiplier <= 1 {
			budget = int(float64(budget) * opts.BudgetMultiplier)
		}
	}

	if _, err := r.lifecycle.RegisterAgent(kaala.RegisterRequest{
		AgentID:     id,
		ParentID:    opts.ParentID,
		Purpose:     opts.Purpose,
		TokenBudget: budget,
	}); err != nil {
		return "", err
	}

	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = r.cfg.MaxTurns
	}

	ctx, cancel := context.WithCancel(r.baseCtx)
	handle := &agentHandle{
		id:      id,
		wrapper: autonomy.NewWrapper(id, r.cfg.Autonomy, r.bus, r.clock),
		cancel:  cancel,
	}

	r.mu.Lock()
	r.agents[id] = handle
	r.mu.Unlock()

	logging.Runtime("spawning agent %s (parent=%s purpose=%q)", id, opts.ParentID, opts.Purpose)
	r.group.Go(func() error {
		defer cancel()
		r.runLoop(ctx, handle, opts, maxTurns)
		r.mu.Lock()
		delete(r.agents, id)
		r.mu.Unlock()
		// Agent-level failures are lifecycle states, not group errors; one
		// agent erroring must not cancel its siblings.
		return nil
	})
	return id, nil
}

// StopAgent cancels an agent's loop. The lifecycle manager still owns the
// kill; this only interrupts the goroutine.
func (r *Runner) StopAgent(id types.AgentID) {
	r.mu.Lock()
	handle, ok := r.agents[id]
	r.mu.Unlock()
	if ok {
		handle.cancel()
	}
}

// Wrapper returns an agent's autonomy wrapper for health inspection.
func (r *Runner) Wrapper(id types.AgentID) (*autonomy.Wrapper, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	return handle.wrapper, true
}

// Wait blocks until every agent loop has exited.
func (r *Runner) Wait() error {
	return r.group.Wait()
}

// Shutdown cancels every loop and waits.
func (r *Runner) Shutdown() error {
	r.cancel()
	return r.group.Wait()
}
