package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"chitragupta/internal/events"
	"chitragupta/internal/kaala"
	"chitragupta/internal/runtime"
	"chitragupta/internal/types"
)

var (
	simAgents   int
	simFailRate float64
)

// simulateCmd drives the full lifecycle stack with a canned provider so the
// supervision behavior can be observed without a real model.
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a canned multi-agent simulation against the lifecycle core",
	Long: `Spawns a root agent and a set of workers backed by a scripted provider.
Workers randomly fail tool calls so retry, tool disabling, and the heal
sweep can be observed end to end. Intended for manual verification and
demos, not production use.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().IntVar(&simAgents, "agents", 3, "number of worker agents")
	simulateCmd.Flags().Float64Var(&simFailRate, "fail-rate", 0.2, "probability a tool call fails")
}

// simProvider scripts a short tool-using conversation per agent.
type simProvider struct {
	turnsPerAgent int
}

func (p *simProvider) Complete(_ context.Context, state *types.AgentState, _ types.CompleteOptions) (*types.Completion, error) {
	turns := 0
	for _, m := range state.Messages {
		if m.Role == types.RoleAssistant {
			turns++
		}
	}
	if turns >= p.turnsPerAgent {
		return &types.Completion{
			Messages:   []types.Message{{Role: types.RoleAssistant, Content: "work complete"}},
			OutputToks: 10,
			StopReason: "end_turn",
		}, nil
	}
	return &types.Completion{
		Messages: []types.Message{{
			Role: types.RoleAssistant,
			ToolCalls: []types.ToolCall{{
				ID:    fmt.Sprintf("%s-call-%d", state.AgentID, turns),
				Name:  "inspect",
				Input: map[string]interface{}{"step": turns},
			}},
		}},
		OutputToks: 25,
		StopReason: "tool_use",
	}, nil
}

// simTools fails a configurable fraction of calls.
type simTools struct {
	rng      *rand.Rand
	failRate float64
}

func (st *simTools) Execute(_ context.Context, name string, _ map[string]interface{}) (*types.ToolResult, error) {
	if st.rng.Float64() < st.failRate {
		return &types.ToolResult{Content: "simulated failure", IsError: true}, nil
	}
	return &types.ToolResult{Content: "ok"}, nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	zcfg := zap.NewDevelopmentConfig()
	if !verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return err
	}
	defer logger.Sync()

	lifecycle := kaala.NewManager(cfg.KaalaSettings(), types.SystemClock{})
	defer lifecycle.Dispose()
	lifecycle.OnStatusChange(func(id types.AgentID, oldStatus, newStatus types.AgentStatus, parent types.AgentID) {
		logger.Info("status change",
			zap.String("agent", string(id)),
			zap.String("from", string(oldStatus)),
			zap.String("to", string(newStatus)))
	})

	bus := events.NewBus()
	for _, name := range []events.Name{
		events.AutonomyRetry, events.AutonomyToolDisabled,
		events.AutonomyToolReenabled, events.AutonomyCompaction,
		events.AutonomyHealthWarning,
	} {
		bus.On(name, func(ev events.Event) {
			logger.Info("autonomy event",
				zap.String("event", string(ev.Name)),
				zap.String("agent", ev.AgentID),
				zap.Any("data", ev.Data))
		})
	}

	provider := &simProvider{turnsPerAgent: 4}
	tools := &simTools{rng: rand.New(rand.NewSource(time.Now().UnixNano())), failRate: simFailRate}
	runner := runtime.NewRunner(runtime.DefaultConfig(), lifecycle, provider, tools, bus, nil, types.SystemClock{})

	rootID, err := runner.Spawn(runtime.SpawnOptions{
		AgentID: "sim-root",
		Purpose: "coordinate the simulation",
		Request: "coordinate the workers",
	})
	if err != nil {
		return err
	}
	for i := 1; i <= simAgents; i++ {
		id, err := runner.Spawn(runtime.SpawnOptions{
			ParentID: rootID,
			Purpose:  fmt.Sprintf("worker %d", i),
			Request:  fmt.Sprintf("inspect module %d and report", i),
		})
		if err != nil {
			logger.Warn("spawn denied", zap.Int("worker", i), zap.Error(err))
			continue
		}
		logger.Info("worker spawned", zap.String("agent", string(id)))
	}

	lifecycle.StartMonitoring()
	defer lifecycle.StopMonitoring()

	if err := runner.Wait(); err != nil {
		return err
	}

	th := lifecycle.GetTreeHealth()
	logger.Info("simulation finished",
		zap.Int("agents", th.TotalAgents),
		zap.Int("maxDepth", th.MaxDepth),
		zap.Int("tokens", th.TotalTokens))
	for status, n := range th.ByStatus {
		logger.Info("final status", zap.String("status", string(status)), zap.Int("count", n))
	}
	return nil
}
