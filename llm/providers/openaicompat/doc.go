// Package openaicompat implements llm.Provider over any OpenAI-compatible
// Chat Completions endpoint (OpenAI, DeepSeek, Qwen, vLLM, Ollama, ...).
//
// Both blocking completions and SSE streaming are supported. Streamed tool
// calls are forwarded as fragments tagged with their index; callers are
// expected to accumulate them until the stream channel closes.
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName: "openai",
//	    APIKey:       cfg.APIKey,
//	    BaseURL:      "https://api.openai.com",
//	    DefaultModel: "gpt-4o-mini",
//	}, logger)
package openaicompat
