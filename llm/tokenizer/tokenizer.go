package tokenizer

import (
	"github.com/BaSui01/agentrelay/types"
	"go.uber.org/zap"
)

// Tokenizer 是统一的 Token 计数接口。
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数,
	// 包括每条消息的开销（角色标记、分隔符等）。
	CountMessages(messages []types.Message) (int, error)

	// MaxTokens 返回模型的最大上下文长度.
	MaxTokens() int

	// Name 返回分词器的名称.
	Name() string
}

// 每条消息的固定开销：<|start|>role\n content<|end|>\n
const (
	perMessageOverhead      = 4
	conversationEndOverhead = 3
)

// ForModel 返回模型对应的 tiktoken 分词器；编码数据无法加载时回退到估算器。
func ForModel(model string, logger *zap.Logger) Tokenizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := NewTiktokenTokenizer(model)
	if err := t.init(); err != nil {
		logger.Warn("tiktoken unavailable, falling back to estimator",
			zap.String("model", model), zap.Error(err))
		return NewEstimator(t.MaxTokens())
	}
	return t
}
