// Package llm provides the provider-agnostic LLM client used for transcript
// cleaning and report synthesis.
//
// Each provider implements the same capability interface; the active one is
// selected by configuration at startup, never by runtime type inspection.
package llm

import (
	"context"
	"fmt"

	"github.com/jonesrussell/transcript-refinery/internal/config"
	"github.com/jonesrussell/transcript-refinery/internal/logger"
)

// Client is the capability interface every provider implements.
type Client interface {
	// Name returns the provider name ("openai", "anthropic", "ollama").
	Name() string

	// Model returns the model identifier requests are sent with.
	Model() string

	// Complete sends a single-turn prompt and returns the generated text.
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)

	// EstimateCost returns the token-estimate based cost of sending prompt.
	EstimateCost(prompt string) CostEstimate
}

// NewFromConfig builds the configured provider.
func NewFromConfig(cfg config.LLMConfig, log logger.Logger) (Client, error) {
	switch cfg.Provider {
	case "openai":
		return newOpenAI(cfg, log), nil
	case "anthropic":
		return newAnthropic(cfg, log), nil
	case "ollama":
		return newOllama(cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
