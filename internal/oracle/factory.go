package oracle

import (
	"database/sql"
	"fmt"

	"github.com/neboloop/ouro/internal/config"
)

// New builds the configured provider wrapped with usage metering.
func New(cfg config.OracleConfig, db *sql.DB) (Oracle, error) {
	var inner Oracle
	switch cfg.Provider {
	case "openrouter":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openrouter requires an API key (OPENROUTER_API_KEY)")
		}
		inner = NewOpenRouterProvider(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout)
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai requires an API key (OPENAI_API_KEY)")
		}
		inner = NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.Timeout)
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic requires an API key (ANTHROPIC_API_KEY)")
		}
		inner = NewAnthropicProvider(cfg.APIKey, cfg.Model, cfg.Timeout)
	case "ollama":
		p, err := NewOllamaProvider(cfg.BaseURL, cfg.Model, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		inner = p
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}
	return NewMetered(inner, Pricing{Input: cfg.InputPrice, Output: cfg.OutputPrice}, db), nil
}
