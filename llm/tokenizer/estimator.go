package tokenizer

import (
	"unicode"

	"github.com/BaSui01/agentrelay/types"
)

// 每个 token 平均对应的字符数
const (
	cjkRunesPerToken   = 1.5
	otherRunesPerToken = 4.0
)

// Estimator 不需要编码数据的近似计数器，tiktoken 不可用时由 ForModel 返回。
// 交接的 TokenBudget 只需要量级正确，按字符类别估算已足够
type Estimator struct {
	maxTokens int
}

// NewEstimator 创建估算器，maxTokens 非正时取 4096
func NewEstimator(maxTokens int) *Estimator {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Estimator{maxTokens: maxTokens}
}

func (e *Estimator) CountTokens(text string) (int, error) {
	return approxTokens(text), nil
}

func (e *Estimator) CountMessages(messages []types.Message) (int, error) {
	total := conversationEndOverhead
	for _, m := range messages {
		total += perMessageOverhead + approxTokens(m.Content)
		for _, call := range m.ToolCalls {
			total += approxTokens(call.Name) + approxTokens(string(call.Arguments))
		}
	}
	return total, nil
}

func (e *Estimator) MaxTokens() int { return e.maxTokens }

func (e *Estimator) Name() string { return "estimator" }

// approxTokens 非空文本至少计 1
func approxTokens(text string) int {
	if text == "" {
		return 0
	}
	var cjk, other int
	for _, r := range text {
		if wide(r) {
			cjk++
		} else {
			other++
		}
	}
	return max(1, int(float64(cjk)/cjkRunesPerToken+float64(other)/otherRunesPerToken))
}

// wide 报告 r 是否为中日韩文字或全角符号
func wide(r rune) bool {
	switch {
	case unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul):
		return true
	case r >= 0x3000 && r <= 0x303F: // CJK 标点
		return true
	case r >= 0xFF00 && r <= 0xFFEF: // 全角与半角形式
		return true
	default:
		return false
	}
}
