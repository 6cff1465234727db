package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/BaSui01/agentrelay/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRoutingClassifier_Structured(t *testing.T) {
	provider := mocks.NewMockProvider().WithReplies(
		mocks.ToolCall("route", `{"agent":"billing","reason":"invoice question"}`))
	c := NewRoutingClassifier(provider, "gpt-4o-mini", []string{"billing", "tech"}, zaptest.NewLogger(t))

	out, err := c.Classify(context.Background(), "why was I charged twice?")
	require.NoError(t, err)

	s, ok := out.(Structured)
	require.True(t, ok, "got %T", out)
	key, ok := s.String("agent")
	require.True(t, ok)
	assert.Equal(t, "billing", key)

	req := provider.LastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "route", req.ToolChoice)
	require.Len(t, req.Tools, 1)
	assert.Contains(t, string(req.Tools[0].Parameters), `"enum":["billing","tech"]`)
	assert.Equal(t, "why was I charged twice?", req.Messages[len(req.Messages)-1].Content)
}

func TestClassifier_Unparsed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		reply mocks.Reply
		raw   string
	}{
		{"prose answer", mocks.Text(`I think {"agent":"tech"}`), `I think {"agent":"tech"}`},
		{"malformed arguments", mocks.ToolCall("classify", `{"agent":`), `{"agent":`},
		{"other tool", mocks.ToolCall("lookup", `{}`), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := mocks.NewMockProvider().WithReplies(tt.reply)
			c := NewClassifier(provider, ClassifierConfig{}, nil)
			out, err := c.Classify(context.Background(), "text")
			require.NoError(t, err)
			u, ok := out.(Unparsed)
			require.True(t, ok, "got %T", out)
			assert.Equal(t, tt.raw, u.Raw)
		})
	}
}

func TestClassifier_ProviderError(t *testing.T) {
	provider := mocks.NewMockProvider().WithError(errors.New("quota"))
	c := NewClassifier(provider, ClassifierConfig{ToolName: "label"}, nil)
	out, err := c.Classify(context.Background(), "text")
	assert.Nil(t, out)
	assert.EqualError(t, err, "quota")
}
