package types

import "context"

// Completion is the result of one model turn.
type Completion struct {
	Messages   []Message
	InputToks  int
	OutputToks int
	Cost       float64
	StopReason string
}

// CompleteOptions tunes a single model call.
type CompleteOptions struct {
	MaxTokens   int
	Temperature float64
}

// Provider is the abstract model capability. The core never talks to a model
// vendor directly; hosts supply an implementation.
type Provider interface {
	Complete(ctx context.Context, state *AgentState, opts CompleteOptions) (*Completion, error)
}

// ToolResult is the outcome of a tool execution.
type ToolResult struct {
	Content  string
	IsError  bool
	Metadata map[string]interface{}
}

// ToolRunner is the abstract tool-execution capability.
type ToolRunner interface {
	Execute(ctx context.Context, name string, args map[string]interface{}) (*ToolResult, error)
}
