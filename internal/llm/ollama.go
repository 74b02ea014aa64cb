package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jonesrussell/transcript-refinery/internal/config"
	"github.com/jonesrussell/transcript-refinery/internal/logger"
	"github.com/jonesrussell/transcript-refinery/internal/models"
)

const defaultOllamaModel = "llama3"

type ollamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     logger.Logger
}

func newOllama(cfg config.LLMConfig, log logger.Logger) *ollamaClient {
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	return &ollamaClient{
		baseURL:    strings.TrimSuffix(cfg.OllamaBaseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: llmHTTPTimeout},
		logger:     log,
	}
}

func (c *ollamaClient) Name() string  { return "ollama" }
func (c *ollamaClient) Model() string { return c.model }

// Local models are free; the estimate still carries the token count for the
// status surface.
func (c *ollamaClient) EstimateCost(prompt string) CostEstimate {
	return estimate(c.Name(), c.model, prompt)
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

func (c *ollamaClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	reqBody := ollamaRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  false,
		Options: ollamaOptions{NumPredict: maxTokens},
	}
	payload, err := json.Marshal(&reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", models.NewUpstreamError("ollama", err)
	}
	defer resp.Body.Close()

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", models.NewUpstreamError("ollama", fmt.Errorf("decode response: %w", err))
	}
	if parsed.Error != "" {
		return "", models.NewUpstreamError("ollama", fmt.Errorf("%s", parsed.Error))
	}
	if resp.StatusCode != http.StatusOK {
		return "", models.NewUpstreamError("ollama",
			fmt.Errorf("generate endpoint returned status %d", resp.StatusCode))
	}

	return StripFences(parsed.Response), nil
}
