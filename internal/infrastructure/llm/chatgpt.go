package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jangwonlee-rptly/hellomimir-dev/internal/config"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/domain"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/logging"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/ports"
)

const defaultPrereadingMaxChars = 120000

// ChatGPTClient implements ports.ContentGenerator backed by OpenAI-compatible APIs.
// It performs exactly one provider call per operation and never retries.
type ChatGPTClient struct {
	endpoint           string
	model              string
	apiKey             string
	prereadingMaxChars int
	httpClient         *http.Client
	logger             *slog.Logger
}

var _ ports.ContentGenerator = (*ChatGPTClient)(nil)

// NewChatGPTClient builds a client from configuration.
func NewChatGPTClient(cfg config.ChatGPTConfig, log *slog.Logger) *ChatGPTClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	maxChars := cfg.PrereadingMaxChars
	if maxChars <= 0 {
		maxChars = defaultPrereadingMaxChars
	}
	return &ChatGPTClient{
		endpoint:           cfg.Endpoint,
		model:              cfg.Model,
		apiKey:             cfg.APIKey,
		prereadingMaxChars: maxChars,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logging.OrDiscard(log),
	}
}

// completionRequest is the provider call shape shared by every operation.
type completionRequest struct {
	System      string
	User        string
	JSON        bool
	Temperature float64
	MaxTokens   int
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatPayload struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *ChatGPTClient) complete(ctx context.Context, req completionRequest) (string, error) {
	if c == nil {
		return "", fmt.Errorf("chatgpt client is nil")
	}
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return "", fmt.Errorf("chatgpt client misconfigured")
	}

	payload := chatPayload{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		payload.ResponseFormat = map[string]any{"type": "json_object"}
	}

	return postChat(ctx, c.httpClient, c.endpoint, c.apiKey, payload)
}

// postChat sends one chat completion and returns the first choice's content.
func postChat(ctx context.Context, client *http.Client, endpoint, apiKey string, payload chatPayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: send chat completion: %w", domain.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%w: chat completion error %s: %s", domain.ErrFetch, resp.Status, strings.TrimSpace(string(payload)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: decode chat completion: %v", domain.ErrValidation, err)
	}
	if len(decoded.Choices) == 0 || decoded.Choices[0].Message.Content == nil {
		return "", fmt.Errorf("%w: empty response from provider", domain.ErrValidation)
	}

	return *decoded.Choices[0].Message.Content, nil
}
