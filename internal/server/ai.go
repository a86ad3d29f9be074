package server

import (
	"github.com/insightlab/causal/backend/internal/util"
	"github.com/insightlab/causal/backend/pkg/ai"
	oai "github.com/insightlab/causal/backend/pkg/ai/ollama"
	gai "github.com/insightlab/causal/backend/pkg/ai/openai"
	"github.com/insightlab/causal/backend/pkg/insight"
	"github.com/insightlab/causal/backend/pkg/logger"
)

// newExplainer returns nil when no AI_ADAPTER is configured.
func newExplainer() *insight.Explainer {
	var client ai.GraphAIClient

	switch adapter := util.GetEnv("AI_ADAPTER"); adapter {
	case "":
		return nil
	case "ollama":
		c, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			ChatModel: util.GetEnv("AI_CHAT_MODEL"),
			BaseURL:   util.GetEnv("AI_CHAT_URL"),
			ApiKey:    util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 4)),
		})
		if err != nil {
			logger.Fatal("Failed to create Ollama client", "err", err)
		}
		client = c
	case "openai":
		client = gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			ChatModel: util.GetEnv("AI_CHAT_MODEL"),
			ChatURL:   util.GetEnv("AI_CHAT_URL"),
			ChatKey:   util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 4)),
		})
	default:
		logger.Fatal("Unknown AI adapter", "adapter", adapter)
	}

	return insight.NewExplainer(client, insight.WithMaxPromptTokens(util.GetEnvInt("AI_MAX_PROMPT_TOKENS", insight.DefaultMaxPromptTokens)))
}
