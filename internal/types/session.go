package types

// SessionToolCall is a completed tool invocation recorded in session history.
// Result holds whatever the tool returned; IsError marks failures.
type SessionToolCall struct {
	Name    string                 `json:"name"`
	Input   map[string]interface{} `json:"input,omitempty"`
	Result  interface{}            `json:"result,omitempty"`
	IsError bool                   `json:"is_error,omitempty"`
}

// SessionTurn is one turn of a recorded session.
type SessionTurn struct {
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	ToolCalls []SessionToolCall `json:"tool_calls,omitempty"`
}

// Session is the read-only record of a past conversation. Vidhi mines these;
// nothing in the core mutates them.
type Session struct {
	ID      string        `json:"id"`
	Project string        `json:"project"`
	Turns   []SessionTurn `json:"turns"`
}
