package agent

import (
	"github.com/BaSui01/agentrelay/llm/tokenizer"
	"github.com/BaSui01/agentrelay/types"
)

// ContextFilter transforms the history a handoff target will see.
// Filters receive a private copy and may return it modified.
type ContextFilter func(history []types.Message) []types.Message

// RemoveSystemMessages drops system-role entries.
func RemoveSystemMessages(history []types.Message) []types.Message {
	return keepIf(history, func(m types.Message) bool { return m.Role != types.RoleSystem })
}

// RemoveToolMessages drops tool results and assistant messages that only
// carried tool calls.
func RemoveToolMessages(history []types.Message) []types.Message {
	return keepIf(history, func(m types.Message) bool { return !m.IsToolTraffic() })
}

// KeepLastN keeps the n most recent entries.
func KeepLastN(n int) ContextFilter {
	return func(history []types.Message) []types.Message {
		if n <= 0 {
			return []types.Message{}
		}
		if len(history) <= n {
			return history
		}
		return append([]types.Message(nil), history[len(history)-n:]...)
	}
}

// TokenBudget keeps the newest entries whose combined size fits maxTokens.
// Counting errors fall back to keeping the history unchanged.
func TokenBudget(tok tokenizer.Tokenizer, maxTokens int) ContextFilter {
	return func(history []types.Message) []types.Message {
		if tok == nil || maxTokens <= 0 {
			return history
		}
		start := len(history)
		used := 0
		for i := len(history) - 1; i >= 0; i-- {
			n, err := tok.CountMessages(history[i : i+1])
			if err != nil {
				return history
			}
			if used+n > maxTokens {
				break
			}
			used += n
			start = i
		}
		return append([]types.Message(nil), history[start:]...)
	}
}

// ChainFilters applies filters left to right. Nil filters are skipped.
func ChainFilters(filters ...ContextFilter) ContextFilter {
	return func(history []types.Message) []types.Message {
		for _, f := range filters {
			if f != nil {
				history = f(history)
			}
		}
		return history
	}
}

func keepIf(history []types.Message, keep func(types.Message) bool) []types.Message {
	out := make([]types.Message, 0, len(history))
	for _, m := range history {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}
