package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bdobrica/glum/common/redact"
	"github.com/bdobrica/glum/internal/glum/history"
)

const (
	defaultOpenAIBase  = "https://api.openai.com/v1"
	DefaultOpenAIModel = "gpt-3.5-turbo"
)

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey string
	// BaseURL overrides the endpoint, e.g. for a local OpenAI-compatible
	// server. Defaults to https://api.openai.com/v1.
	BaseURL string
	// Model is used when Params.Model is empty.
	Model string
	// Timeout bounds each HTTP request. Defaults to 120s.
	Timeout time.Duration
}

// OpenAI calls the /chat/completions endpoint.
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI returns a provider backed by the OpenAI (or compatible) API.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBase
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OpenAI{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type oaiRequest struct {
	Model           string             `json:"model"`
	Messages        []oaiMessage       `json:"messages"`
	Temperature     *float64           `json:"temperature,omitempty"`
	MaxTokens       *int               `json:"max_tokens,omitempty"`
	LogitBias       map[string]float64 `json:"logit_bias,omitempty"`
	PresencePenalty *float64           `json:"presence_penalty,omitempty"`
	User            string             `json:"user,omitempty"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

type oaiResponse struct {
	Choices []struct {
		Message      oaiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Error *oaiError `json:"error,omitempty"`
}

// Complete sends prompt and returns the content of the first choice.
func (p *OpenAI) Complete(ctx context.Context, prompt []history.Message, params Params) (string, error) {
	model := params.Model
	if model == "" {
		model = p.cfg.Model
	}

	body := oaiRequest{
		Model:           model,
		Messages:        make([]oaiMessage, 0, len(prompt)),
		Temperature:     params.Temperature,
		MaxTokens:       params.MaxTokens,
		LogitBias:       params.LogitBias,
		PresencePenalty: params.PresencePenalty,
		User:            params.User,
	}
	for _, m := range prompt {
		body.Messages = append(body.Messages, oaiMessage{Role: string(m.Role), Content: m.Content})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai: http request: %s", redact.String(err.Error(), p.cfg.APIKey))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("openai: read response: %w", err)
	}

	var out oaiResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", p.statusError(resp.StatusCode, nil)
		}
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	if out.Error != nil || resp.StatusCode != http.StatusOK {
		return "", p.statusError(resp.StatusCode, out.Error)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return out.Choices[0].Message.Content, nil
}

func (p *OpenAI) statusError(status int, e *oaiError) error {
	msg := http.StatusText(status)
	if e != nil && e.Message != "" {
		msg = redact.String(e.Message, p.cfg.APIKey)
	}
	switch {
	case isContextOverflow(e):
		return fmt.Errorf("%w: %s", ErrContextLengthExceeded, msg)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimit, msg)
	default:
		return fmt.Errorf("openai: status %d: %s", status, msg)
	}
}

func isContextOverflow(e *oaiError) bool {
	if e == nil {
		return false
	}
	if code, ok := e.Code.(string); ok && code == "context_length_exceeded" {
		return true
	}
	lower := strings.ToLower(e.Message)
	return strings.Contains(lower, "maximum context length") || strings.Contains(lower, "max tokens")
}
