package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/agentrelay/llm"
	"github.com/BaSui01/agentrelay/types"
	"go.uber.org/zap"
)

// Outcome is the result of a classification. It is either Structured or
// Unparsed; callers must handle both.
type Outcome interface {
	isOutcome()
}

// Structured carries arguments the model returned through the
// classification tool.
type Structured struct {
	Data map[string]any
}

// Unparsed carries whatever the model produced when it did not call the
// classification tool with a valid JSON object.
type Unparsed struct {
	Raw string
}

func (Structured) isOutcome() {}
func (Unparsed) isOutcome()   {}

// String returns Data[key] when it is a string.
func (s Structured) String(key string) (string, bool) {
	v, ok := s.Data[key].(string)
	return v, ok
}

// ClassifierConfig configures a Classifier.
type ClassifierConfig struct {
	Model        string
	Instructions string
	ToolName     string
	Description  string
	Schema       *types.JSONSchema
}

// Classifier asks the model to answer through a single forced tool call.
type Classifier struct {
	provider llm.Provider
	cfg      ClassifierConfig
	logger   *zap.Logger
}

// NewClassifier creates a classifier. ToolName defaults to "classify".
func NewClassifier(provider llm.Provider, cfg ClassifierConfig, logger *zap.Logger) *Classifier {
	if cfg.ToolName == "" {
		cfg.ToolName = "classify"
	}
	if cfg.Schema == nil {
		cfg.Schema = types.NewObjectSchema()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		provider: provider,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "classifier")),
	}
}

// NewRoutingClassifier builds a classifier that picks one of keys for a
// user message. The structured result carries the choice under "agent".
func NewRoutingClassifier(provider llm.Provider, model string, keys []string, logger *zap.Logger) *Classifier {
	schema := types.NewObjectSchema().
		AddProperty("agent", types.NewEnumSchema(keys...).WithDescription("The agent best suited to answer.")).
		AddProperty("reason", types.NewStringSchema()).
		AddRequired("agent")
	return NewClassifier(provider, ClassifierConfig{
		Model:        model,
		Instructions: "Route the user's message to the most suitable agent. Answer only by calling the route tool.",
		ToolName:     "route",
		Description:  "Select the agent that should handle the message.",
		Schema:       schema,
	}, logger)
}

// Classify sends text to the model and returns the tagged outcome.
// Only transport failures are returned as errors.
func (c *Classifier) Classify(ctx context.Context, text string) (Outcome, error) {
	params, err := c.cfg.Schema.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal classifier schema: %w", err)
	}
	msgs := make([]types.Message, 0, 2)
	if c.cfg.Instructions != "" {
		msgs = append(msgs, types.NewSystemMessage(c.cfg.Instructions))
	}
	msgs = append(msgs, types.NewUserMessage(text))

	resp, err := c.provider.Completion(ctx, &llm.ChatRequest{
		Model:      c.cfg.Model,
		Messages:   msgs,
		Tools:      []types.ToolSchema{{Name: c.cfg.ToolName, Description: c.cfg.Description, Parameters: params}},
		ToolChoice: c.cfg.ToolName,
	})
	if err != nil {
		return nil, err
	}
	msg, ok := resp.FirstMessage()
	if !ok {
		return Unparsed{}, nil
	}

	for _, call := range msg.ToolCalls {
		if call.Name != c.cfg.ToolName {
			continue
		}
		var data map[string]any
		if err := json.Unmarshal(call.Arguments, &data); err != nil || data == nil {
			c.logger.Debug("classification arguments are not an object", zap.Error(err))
			return Unparsed{Raw: string(call.Arguments)}, nil
		}
		return Structured{Data: data}, nil
	}
	return Unparsed{Raw: msg.Content}, nil
}
