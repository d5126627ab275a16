package runtime

import (
	"context"
	"errors"
	"fmt"

	"chitragupta/internal/autonomy"
	"chitragupta/internal/kaala"
	"chitragupta/internal/logging"
	"chitragupta/internal/types"
)

// runLoop drives one agent until it completes, errors out, exhausts its turn
// limit, or is cancelled.
func (r *Runner) runLoop(ctx context.Context, handle *agentHandle, opts SpawnOptions, maxTurns int) {
	id := handle.id
	w := handle.wrapper

	state := &types.AgentState{
		AgentID:      id,
		ContextLimit: r.cfg.ContextLimit,
	}
	if opts.SystemPrompt != "" {
		state.Messages = append(state.Messages, types.Message{Role: types.RoleSystem, Content: opts.SystemPrompt})
	}
	if hint := r.procedureHint(opts.Request); hint != "" {
		state.Messages = append(state.Messages, types.Message{Role: types.RoleSystem, Content: hint})
	}
	state.Messages = append(state.Messages, types.Message{Role: types.RoleUser, Content: opts.Request})
	state.TokenCount = autonomy.EstimateTokens(state.Messages)

	tokenUsage := 0
	for turn := 1; turn <= maxTurns; turn++ {
		if ctx.Err() != nil {
			logging.Runtime("agent %s cancelled at turn %d", id, turn)
			return
		}

		w.BeforeTurn(state)
		start := r.clock.Now()

		var completion *types.Completion
		err := w.WithRetry(ctx, "provider.complete", func(ctx context.Context) error {
			c, err := r.provider.Complete(ctx, state, types.CompleteOptions{})
			if err != nil {
				return err
			}
			completion = c
			return nil
		}, autonomy.RetryOptions{})

		end := r.clock.Now()
		if err != nil {
			w.RecordTurnMetrics(state, autonomy.TurnMetric{
				StartTime: start, EndTime: end,
				LatencyMs:    end.Sub(start).Milliseconds(),
				TokensBefore: state.TokenCount, TokensAfter: state.TokenCount,
				HadError:  true,
				ErrorKind: errorKindOf(err),
			})
			state = w.RecoverContext(state)
			if !errors.Is(err, context.Canceled) {
				logging.Get(logging.CategoryRuntime).Error("agent %s provider failure: %v", id, err)
				if merr := r.lifecycle.MarkError(id); merr != nil {
					logging.RuntimeDebug("mark error for %s: %v", id, merr)
				}
			}
			return
		}

		tokensBefore := state.TokenCount
		state.Messages = append(state.Messages, completion.Messages...)
		state.TokenCount = autonomy.EstimateTokens(state.Messages)
		tokenUsage += completion.InputToks + completion.OutputToks

		toolCalls := pendingToolCalls(completion.Messages)
		for _, call := range toolCalls {
			state.Messages = append(state.Messages, r.dispatchTool(ctx, w, call))
		}
		state.TokenCount = autonomy.EstimateTokens(state.Messages)

		w.RecordTurnMetrics(state, autonomy.TurnMetric{
			StartTime: start, EndTime: end,
			LatencyMs:    end.Sub(start).Milliseconds(),
			TokensBefore: tokensBefore, TokensAfter: state.TokenCount,
		})
		state = w.AfterTurn(state)

		if err := r.lifecycle.RecordHeartbeat(id, &kaala.HeartbeatUpdate{
			TurnCount:  &turn,
			TokenUsage: &tokenUsage,
		}); err != nil {
			// A terminal or reaped heartbeat means Kaala decided this agent
			// is done; stop the loop.
			logging.Runtime("agent %s heartbeat rejected, stopping: %v", id, err)
			return
		}

		if len(toolCalls) == 0 {
			if err := r.lifecycle.MarkCompleted(id); err != nil {
				logging.RuntimeDebug("mark completed for %s: %v", id, err)
			}
			logging.Runtime("agent %s completed after %d turns", id, turn)
			return
		}
	}

	logging.Get(logging.CategoryRuntime).Warn("agent %s hit the %d-turn limit", id, maxTurns)
	if err := r.lifecycle.MarkError(id); err != nil {
		logging.RuntimeDebug("mark error for %s: %v", id, err)
	}
}

// dispatchTool executes one tool call through the autonomy wrapper's
// tracking. Disabled tools are skipped with a synthetic error result that
// does not count against the tool.
func (r *Runner) dispatchTool(ctx context.Context, w *autonomy.Wrapper, call types.ToolCall) types.Message {
	if w.IsToolDisabled(call.Name) {
		logging.RuntimeDebug("skipping disabled tool %s", call.Name)
		return types.Message{
			Role:       types.RoleTool,
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("tool %s is temporarily disabled after repeated failures", call.Name),
		}
	}

	w.OnToolStart(call.Name)
	result, err := r.tools.Execute(ctx, call.Name, call.Input)
	if err != nil {
		w.OnToolUsed(call.Name, true)
		return types.Message{
			Role:       types.RoleTool,
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("tool error: %v", err),
		}
	}
	w.OnToolUsed(call.Name, result.IsError)
	return types.Message{
		Role:       types.RoleTool,
		ToolCallID: call.ID,
		Content:    result.Content,
	}
}

// procedureHint renders the best matching learned procedure as guidance.
func (r *Runner) procedureHint(request string) string {
	if r.procedures == nil || request == "" {
		return ""
	}
	match := r.procedures.Match(request)
	if match == nil {
		return ""
	}
	hint := fmt.Sprintf("A procedure learned from %d past sessions may apply: %s.",
		len(match.LearnedFrom), match.Name)
	for i, step := range match.Steps {
		hint += fmt.Sprintf(" Step %d: %s.", i+1, step.Tool)
	}
	return hint
}

// pendingToolCalls collects the tool calls the model just requested.
func pendingToolCalls(msgs []types.Message) []types.ToolCall {
	var out []types.ToolCall
	for _, m := range msgs {
		if m.Role == types.RoleAssistant {
			out = append(out, m.ToolCalls...)
		}
	}
	return out
}

func errorKindOf(err error) autonomy.ErrorKind {
	var exhausted *autonomy.RetryExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Classification.Kind
	}
	return autonomy.Classify(err).Kind
}
