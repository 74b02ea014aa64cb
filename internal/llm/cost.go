package llm

import (
	"fmt"

	"github.com/jonesrussell/transcript-refinery/internal/models"
)

// charsPerToken is the rough-estimate ratio used for token counting.
// Good enough for an advisory pre-flight guard; never billed against.
const charsPerToken = 4

// CostEstimate is the advisory pre-flight cost of one LLM call.
type CostEstimate struct {
	USD      float64 `json:"estimated_cost"`
	Tokens   int     `json:"token_count"`
	Provider string  `json:"provider"`
	Model    string  `json:"model"`
}

// Approximate USD cost per 1K input tokens by model. Local models are free.
var costPer1K = map[string]float64{
	"gpt-4":             0.03,
	"gpt-4o":            0.0025,
	"gpt-3.5-turbo":     0.0015,
	"claude-3-opus":     0.015,
	"claude-3-sonnet":   0.003,
	"claude-3-haiku":    0.00025,
	"claude-3-5-sonnet": 0.003,
}

// CountTokens estimates the token count of text.
func CountTokens(text string) int {
	return len(text) / charsPerToken
}

func estimate(provider, model, prompt string) CostEstimate {
	tokens := CountTokens(prompt)
	rate, ok := costPer1K[model]
	if !ok && provider != "ollama" {
		rate = 0.001 // unknown hosted model, conservative fallback
	}
	return CostEstimate{
		USD:      float64(tokens) / 1000 * rate,
		Tokens:   tokens,
		Provider: provider,
		Model:    model,
	}
}

// Guard refuses LLM dispatch when the estimated spend is over the ceiling.
type Guard struct {
	MaxUSD float64
}

// Check returns models.ErrCostLimitExceeded when est is over the ceiling.
func (g Guard) Check(est CostEstimate) error {
	if est.USD > g.MaxUSD {
		return fmt.Errorf("%w: estimated $%.4f for %d tokens on %s, limit $%.2f",
			models.ErrCostLimitExceeded, est.USD, est.Tokens, est.Model, g.MaxUSD)
	}
	return nil
}
