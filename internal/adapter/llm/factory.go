package llm

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/xiaot623/opsagent/internal/config"
)

// ModeMock selects the rule-based mock client.
const ModeMock = "MOCK"

// NewLLMClient creates a client for one endpoint. In MOCK mode it returns a
// MockClient regardless of the endpoint settings.
func NewLLMClient(mode string, cfg config.EndpointConfig) LLMClient {
	if strings.EqualFold(mode, ModeMock) {
		log.Info().Msg("mock mode enabled, using mock LLM client")
		return NewMockClient(cfg.Model)
	}

	return NewClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout, WithHeaders(cfg.Headers))
}
