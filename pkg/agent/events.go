package agent

import "github.com/stellarlinkco/agentcore/pkg/message"

// EventType tags streamed events.
type EventType string

const (
	// EventText carries an incremental text chunk.
	EventText EventType = "text"
	// EventToolStart announces a tool invocation.
	EventToolStart EventType = "tool_start"
	// EventToolEnd carries a successful tool result.
	EventToolEnd EventType = "tool_end"
	// EventToolError carries a failed tool result.
	EventToolError EventType = "tool_error"
	// EventComplete is the final event of a run.
	EventComplete EventType = "complete"
)

// Event is one streamed increment from ExecuteStream.
type Event struct {
	Type EventType

	// Text for EventText.
	Text string

	// Tool fields for the tool events.
	ToolUseID string
	ToolName  string
	Input     map[string]any
	Output    string
	Err       string

	// Result for EventComplete.
	Result *Result
}

// Result aggregates the final run outcome.
type Result struct {
	SessionID  string
	Output     string
	StopReason string
	Usage      message.Usage
	CostUSD    float64
}
