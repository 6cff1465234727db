package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/BaSui01/agentrelay/types"
)

const handoffToolPrefix = "handoff_to_"

// HandoffInput 是模型调用交接工具时给出的参数。
type HandoffInput struct {
	From   string
	To     string
	Reason string
	// Data holds every argument other than reason.
	Data map[string]any
}

// Handoff 把目标 Agent 包装为一个可调用的交接工具。
// Handoff 只引用目标，不拥有它；目标的生命周期长于任何 Handoff。
type Handoff struct {
	target          *Agent
	toolName        string
	toolDescription string
	inputSchema     *types.JSONSchema
	contextFilter   ContextFilter
	onHandoff       func(ctx context.Context, in HandoffInput)
}

// HandoffOption configures a Handoff.
type HandoffOption func(*Handoff)

// WithToolName overrides the generated tool name.
func WithToolName(name string) HandoffOption {
	return func(h *Handoff) { h.toolName = strings.TrimSpace(name) }
}

// WithToolDescription overrides the default tool description.
func WithToolDescription(desc string) HandoffOption {
	return func(h *Handoff) { h.toolDescription = desc }
}

// WithInputField adds an extra argument to the handoff tool schema.
// The reason field is always present and cannot be replaced.
func WithInputField(name string, schema *types.JSONSchema, required bool) HandoffOption {
	return func(h *Handoff) {
		if name == "reason" || schema == nil {
			return
		}
		h.inputSchema.AddProperty(name, schema)
		if required {
			h.inputSchema.AddRequired(name)
		}
	}
}

// WithContextFilter sets the filter applied to history before the target sees it.
func WithContextFilter(f ContextFilter) HandoffOption {
	return func(h *Handoff) { h.contextFilter = f }
}

// WithOnHandoff sets a notification callback invoked when the handoff is taken.
func WithOnHandoff(fn func(ctx context.Context, in HandoffInput)) HandoffOption {
	return func(h *Handoff) { h.onHandoff = fn }
}

// NewHandoff creates a handoff to target.
func NewHandoff(target *Agent, opts ...HandoffOption) (*Handoff, error) {
	if target == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "handoff target cannot be nil")
	}
	h := &Handoff{
		target:          target,
		toolName:        HandoffToolName(target.Name()),
		toolDescription: fmt.Sprintf("Handoff to the %s agent to handle the request.", target.Name()),
		inputSchema:     baseHandoffSchema(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.toolName == "" || h.toolName == handoffToolPrefix {
		return nil, types.Errorf(types.ErrInvalidRequest,
			"cannot derive a handoff tool name from agent name %q", target.Name())
	}
	return h, nil
}

func baseHandoffSchema() *types.JSONSchema {
	return types.NewObjectSchema().
		AddProperty("reason", types.NewStringSchema().WithDescription("Why the conversation is being handed off.")).
		AddRequired("reason")
}

func (h *Handoff) Target() *Agent          { return h.target }
func (h *Handoff) ToolName() string        { return h.toolName }
func (h *Handoff) ToolDescription() string { return h.toolDescription }

// InputSchema returns a copy of the tool's argument schema.
func (h *Handoff) InputSchema() *types.JSONSchema { return h.inputSchema.Clone() }

// Schema returns the tool definition sent to the model.
func (h *Handoff) Schema() types.ToolSchema {
	raw, _ := h.inputSchema.ToJSON()
	return types.ToolSchema{Name: h.toolName, Description: h.toolDescription, Parameters: raw}
}

// FilterHistory applies the context filter, if any. The input is never modified.
func (h *Handoff) FilterHistory(history []types.Message) []types.Message {
	cp := types.CloneMessages(history)
	if h.contextFilter == nil {
		return cp
	}
	return h.contextFilter(cp)
}

var errInvalidHandoffArgs = errors.New("invalid handoff arguments")

// ParseArguments decodes the model-supplied arguments and checks them
// against the input schema. The schema always requires a string reason.
func (h *Handoff) ParseArguments(raw json.RawMessage) (HandoffInput, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return HandoffInput{}, fmt.Errorf("%w: empty arguments", errInvalidHandoffArgs)
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return HandoffInput{}, fmt.Errorf("%w: %v", errInvalidHandoffArgs, err)
	}
	if args == nil {
		return HandoffInput{}, fmt.Errorf("%w: arguments must be an object", errInvalidHandoffArgs)
	}
	if err := h.inputSchema.Check(args); err != nil {
		return HandoffInput{}, fmt.Errorf("%w: %v", errInvalidHandoffArgs, err)
	}
	reason := args["reason"].(string)
	delete(args, "reason")
	in := HandoffInput{To: h.target.Name(), Reason: reason}
	if len(args) > 0 {
		in.Data = args
	}
	return in, nil
}

// HandoffToolName derives the tool name for a handoff to an agent called name:
// lowercase, with every run of non-alphanumeric characters collapsed to "_".
func HandoffToolName(name string) string {
	return handoffToolPrefix + snakeCase(name)
}

func snakeCase(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		pendingSep = true
	}
	return b.String()
}
