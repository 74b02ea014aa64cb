package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jonesrussell/transcript-refinery/internal/config"
	"github.com/jonesrussell/transcript-refinery/internal/logger"
	"github.com/jonesrussell/transcript-refinery/internal/models"
)

const defaultAnthropicModel = "claude-3-5-sonnet"

type anthropicClient struct {
	client anthropic.Client
	model  string
	logger logger.Logger
}

func newAnthropic(cfg config.LLMConfig, log logger.Logger) *anthropicClient {
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	return &anthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey)),
		model:  model,
		logger: log,
	}
}

func (c *anthropicClient) Name() string  { return "anthropic" }
func (c *anthropicClient) Model() string { return c.model }

func (c *anthropicClient) EstimateCost(prompt string) CostEstimate {
	return estimate(c.Name(), c.model, prompt)
}

func (c *anthropicClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", models.NewUpstreamError("anthropic", err)
	}

	var text string
	for _, block := range msg.Content {
		text += block.Text
	}
	if text == "" {
		return "", models.NewUpstreamError("anthropic", fmt.Errorf("empty completion"))
	}
	return StripFences(text), nil
}
