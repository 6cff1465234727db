package types

import "encoding/json"

// ToolSchema is a tool definition sent to the model, for both function and
// handoff tools.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolResult is the outcome of one function tool call.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	Err     string
}

// Failed reports whether the call failed.
func (r ToolResult) Failed() bool { return r.Err != "" }

// Message renders the result as a tool message. A failure is rendered as
// "Error: <reason>" so the model can retry with other arguments.
func (r ToolResult) Message() Message {
	if r.Failed() {
		return NewToolMessage(r.CallID, r.Name, "Error: "+r.Err)
	}
	return NewToolMessage(r.CallID, r.Name, r.Content)
}
