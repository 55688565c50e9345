package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/pagewarden/pagewarden/api/schemas"
	"github.com/pagewarden/pagewarden/internal/config"
)

// NewModel is a factory that creates a model client for the configured
// provider.
func NewModel(cfg config.LLMModelConfig, logger *zap.Logger) (schemas.Model, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider: %q (supported: %s)", cfg.Provider, config.ProviderGemini)
	}
}
