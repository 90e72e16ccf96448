package config

import (
	"sync"
	"time"
)

var (
	llmOnce   sync.Once
	llmConfig *LLMConfig
)

// LLMConfig configures the provider and its credential pool. APIKeys are
// tried in the listed order.
type LLMConfig struct {
	APIKeys        []string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
	CallTimeout    time.Duration
}

func GetLLMConfig() *LLMConfig {
	llmOnce.Do(func() {
		loadEnv()

		llmConfig = &LLMConfig{
			APIKeys:        envList("LLM_API_KEYS"),
			BaseURL:        envString("LLM_BASE_URL", ""),
			ChatModel:      envString("LLM_CHAT_MODEL", "gpt-4o-mini"),
			EmbeddingModel: envString("LLM_EMBEDDING_MODEL", "text-embedding-3-small"),
			CallTimeout:    envDuration("LLM_CALL_TIMEOUT", 2*time.Minute),
		}
	})
	return llmConfig
}
