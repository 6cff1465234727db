package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/BaSui01/agentrelay/types"
	"github.com/pkoukk/tiktoken-go"
)

// TiktokenTokenizer 为 OpenAI 系列模型封装 tiktoken。
type TiktokenTokenizer struct {
	model     string
	encoding  string
	maxTokens int
	enc       *tiktoken.Tiktoken
	once      sync.Once
	initErr   error
}

type encodingInfo struct {
	encoding  string
	maxTokens int
}

// modelEncodings 将模型名前缀映射到 tiktoken 编码和上下文大小。
// 按前缀长度从长到短匹配，保证 "gpt-4o" 不被 "gpt-4" 抢先命中。
var modelEncodings = []struct {
	prefix string
	info   encodingInfo
}{
	{"gpt-4o-mini", encodingInfo{"o200k_base", 128000}},
	{"gpt-4o", encodingInfo{"o200k_base", 128000}},
	{"gpt-4.1", encodingInfo{"o200k_base", 1047576}},
	{"o1", encodingInfo{"o200k_base", 200000}},
	{"o3", encodingInfo{"o200k_base", 200000}},
	{"gpt-4-turbo", encodingInfo{"cl100k_base", 128000}},
	{"gpt-4", encodingInfo{"cl100k_base", 8192}},
	{"gpt-3.5-turbo", encodingInfo{"cl100k_base", 16385}},
}

var defaultEncoding = encodingInfo{"cl100k_base", 8192}

func lookupEncoding(model string) encodingInfo {
	for _, e := range modelEncodings {
		if strings.HasPrefix(model, e.prefix) {
			return e.info
		}
	}
	return defaultEncoding
}

// NewTiktokenTokenizer 为给定模型创建 tiktoken 分词器；编码在首次使用时加载。
func NewTiktokenTokenizer(model string) *TiktokenTokenizer {
	info := lookupEncoding(model)
	return &TiktokenTokenizer{
		model:     model,
		encoding:  info.encoding,
		maxTokens: info.maxTokens,
	}
}

// init 惰性初始化编码（首次使用时可能需要下载 BPE 数据）。
func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) CountMessages(messages []types.Message) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}

	total := 0
	for _, msg := range messages {
		total += perMessageOverhead
		total += len(t.enc.Encode(msg.Content, nil, nil))
		total += len(t.enc.Encode(string(msg.Role), nil, nil))
		for _, tc := range msg.ToolCalls {
			total += len(t.enc.Encode(tc.Name, nil, nil))
			total += len(t.enc.Encode(string(tc.Arguments), nil, nil))
		}
	}
	total += conversationEndOverhead
	return total, nil
}

func (t *TiktokenTokenizer) MaxTokens() int {
	return t.maxTokens
}

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
