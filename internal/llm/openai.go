package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jonesrussell/transcript-refinery/internal/config"
	"github.com/jonesrussell/transcript-refinery/internal/logger"
	"github.com/jonesrussell/transcript-refinery/internal/models"
)

const (
	openAIEndpoint     = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel = "gpt-4o"

	llmHTTPTimeout = 5 * time.Minute
)

type openAIClient struct {
	apiKey     string
	model      string
	httpClient *http.Client
	logger     logger.Logger
}

func newOpenAI(cfg config.LLMConfig, log logger.Logger) *openAIClient {
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &openAIClient{
		apiKey:     cfg.OpenAIAPIKey,
		model:      model,
		httpClient: &http.Client{Timeout: llmHTTPTimeout},
		logger:     log,
	}
}

func (c *openAIClient) Name() string  { return "openai" }
func (c *openAIClient) Model() string { return c.model }

func (c *openAIClient) EstimateCost(prompt string) CostEstimate {
	return estimate(c.Name(), c.model, prompt)
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *openAIClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	reqBody := chatRequest{
		Model:     c.model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	}
	payload, err := json.Marshal(&reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIEndpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", models.NewUpstreamError("openai", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", models.ErrRateLimited
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", models.NewUpstreamError("openai", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", models.NewUpstreamError("openai", fmt.Errorf("decode response: %w", err))
	}
	if parsed.Error != nil {
		return "", models.NewUpstreamError("openai",
			fmt.Errorf("%s: %s", parsed.Error.Type, parsed.Error.Message))
	}
	if resp.StatusCode != http.StatusOK {
		return "", models.NewUpstreamError("openai",
			fmt.Errorf("chat endpoint returned status %d", resp.StatusCode))
	}
	if len(parsed.Choices) == 0 {
		return "", models.NewUpstreamError("openai", fmt.Errorf("empty choices in response"))
	}

	return StripFences(parsed.Choices[0].Message.Content), nil
}
