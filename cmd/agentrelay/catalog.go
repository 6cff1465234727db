package main

import (
	"github.com/BaSui01/agentrelay/agent"
	"github.com/BaSui01/agentrelay/config"
	"github.com/BaSui01/agentrelay/llm/tokenizer"
	"go.uber.org/zap"
)

// definitionsFromConfig 把配置中的 Agent 目录转换为注册定义。
// 未指定模型的 Agent 按 defaultModel 选择分词器
func definitionsFromConfig(agents []config.AgentConfig, defaultModel string, logger *zap.Logger) []agent.Definition {
	defs := make([]agent.Definition, 0, len(agents))
	for _, a := range agents {
		settings := agent.ModelSettings{MaxTokens: a.MaxTokens}
		if a.Temperature != nil {
			settings.Temperature = *a.Temperature
		}
		model := a.Model
		if model == "" {
			model = defaultModel
		}
		defs = append(defs, agent.Definition{
			Key:                a.Key,
			Name:               a.Name,
			Instructions:       a.Instructions,
			Model:              a.Model,
			Settings:           settings,
			Handoffs:           a.Handoffs,
			HandoffDescription: a.HandoffDescription,
			HandoffFilter:      handoffFilter(a.HandoffContext, model, logger),
		})
	}
	return defs
}

// handoffFilter 零值配置返回 nil
func handoffFilter(hc config.HandoffContextConfig, model string, logger *zap.Logger) agent.ContextFilter {
	var chain []agent.ContextFilter
	if hc.DropSystem {
		chain = append(chain, agent.RemoveSystemMessages)
	}
	if hc.DropTools {
		chain = append(chain, agent.RemoveToolMessages)
	}
	if hc.KeepLast > 0 {
		chain = append(chain, agent.KeepLastN(hc.KeepLast))
	}
	if hc.MaxTokens > 0 {
		chain = append(chain, agent.TokenBudget(tokenizer.ForModel(model, logger), hc.MaxTokens))
	}
	switch len(chain) {
	case 0:
		return nil
	case 1:
		return chain[0]
	default:
		return agent.ChainFilters(chain...)
	}
}
