package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSchema_BuildAndSerialize(t *testing.T) {
	t.Parallel()

	s := NewObjectSchema().
		AddProperty("reason", NewStringSchema().WithDescription("why")).
		AddProperty("priority", NewEnumSchema("low", "high")).
		AddRequired("reason", "reason")

	assert.Equal(t, []string{"reason"}, s.Required)

	raw, err := s.ToJSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "object", decoded["type"])
	props := decoded["properties"].(map[string]any)
	assert.Contains(t, props, "reason")
	assert.Contains(t, props, "priority")
}

func TestJSONSchema_CloneIsDeep(t *testing.T) {
	t.Parallel()

	orig := NewObjectSchema().AddProperty("a", NewStringSchema()).AddRequired("a")
	cp := orig.Clone()
	cp.AddProperty("b", NewNumberSchema()).AddRequired("b")
	cp.Properties["a"].Description = "changed"

	assert.Len(t, orig.Properties, 1)
	assert.Equal(t, []string{"a"}, orig.Required)
	assert.Empty(t, orig.Properties["a"].Description)
}

func TestCloneMessages(t *testing.T) {
	t.Parallel()

	msgs := []Message{
		NewUserMessage("hi"),
		NewAssistantMessage("").WithToolCalls([]ToolCall{{ID: "c1", Name: "x"}}),
	}
	cp := CloneMessages(msgs)
	cp[1].ToolCalls[0].Name = "y"
	cp = append(cp, NewUserMessage("more"))

	assert.Equal(t, "x", msgs[1].ToolCalls[0].Name)
	assert.Len(t, msgs, 2)
	assert.Nil(t, CloneMessages(nil))
}

func TestMessage_IsToolTraffic(t *testing.T) {
	t.Parallel()

	call := []ToolCall{{ID: "c1", Name: "lookup"}}
	tests := []struct {
		name string
		msg  Message
		want bool
	}{
		{"tool result", NewToolMessage("c1", "lookup", "42"), true},
		{"call only", NewAssistantMessage("").WithToolCalls(call), true},
		{"call with text", NewAssistantMessage("checking").WithToolCalls(call), false},
		{"plain answer", NewAssistantMessage("42"), false},
		{"user", NewUserMessage("hi"), false},
		{"system", NewSystemMessage("be brief"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.msg.IsToolTraffic(), tt.name)
	}
}

func TestToolResult_Message(t *testing.T) {
	t.Parallel()

	ok := ToolResult{CallID: "c1", Name: "balance", Content: "42"}
	assert.False(t, ok.Failed())
	assert.Equal(t, Message{Role: RoleTool, Content: "42", Name: "balance", ToolCallID: "c1"}, ok.Message())

	failed := ToolResult{CallID: "c2", Name: "balance", Content: "ignored", Err: "account locked"}
	assert.True(t, failed.Failed())
	assert.Equal(t, "Error: account locked", failed.Message().Content)
	assert.Equal(t, "c2", failed.Message().ToolCallID)
}

func TestJSONSchema_Check(t *testing.T) {
	t.Parallel()

	closed := false
	s := NewObjectSchema().
		AddProperty("reason", NewStringSchema()).
		AddProperty("priority", NewEnumSchema("low", "high")).
		AddProperty("attempts", &JSONSchema{Type: SchemaTypeInteger}).
		AddProperty("order", &JSONSchema{
			Type:                 SchemaTypeObject,
			Properties:           map[string]*JSONSchema{"id": NewStringSchema()},
			Required:             []string{"id"},
			AdditionalProperties: &closed,
		}).
		AddProperty("tags", &JSONSchema{Type: SchemaTypeArray, Items: NewStringSchema()}).
		AddRequired("reason")

	tests := []struct {
		name    string
		args    string
		wantErr string
	}{
		{name: "minimal", args: `{"reason":"refund"}`},
		{name: "everything", args: `{"reason":"r","priority":"high","attempts":2,"order":{"id":"o-7"},"tags":["vip"],"extra":true}`},
		{name: "missing reason", args: `{"priority":"low"}`, wantErr: `missing required field "reason"`},
		{name: "reason not a string", args: `{"reason":7}`, wantErr: "reason must be string"},
		{name: "enum miss", args: `{"reason":"r","priority":"urgent"}`, wantErr: "priority must be one of"},
		{name: "fractional integer", args: `{"reason":"r","attempts":1.5}`, wantErr: "attempts must be integer"},
		{name: "nested required", args: `{"reason":"r","order":{}}`, wantErr: `missing required field "order.id"`},
		{name: "nested closed object", args: `{"reason":"r","order":{"id":"o","note":"x"}}`, wantErr: `unexpected field "order.note"`},
		{name: "array item type", args: `{"reason":"r","tags":["a",3]}`, wantErr: "tags[1] must be string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v map[string]any
			require.NoError(t, json.Unmarshal([]byte(tt.args), &v))
			err := s.Check(v)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	assert.ErrorContains(t, s.Check([]any{}), "value must be object")
	assert.NoError(t, (&JSONSchema{Enum: []any{"a"}}).Check("a"))
	assert.Error(t, (&JSONSchema{Enum: []any{"a"}}).Check(map[string]any{}))
}
