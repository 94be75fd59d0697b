package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StatusError reports a non-2xx HTTP response, carrying the status code
// so the retry layer can tell a 4xx (bad request, bad auth, bad model —
// retrying won't help) from a 5xx (worth retrying).
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: status %d: %s", e.Code, e.Message)
}

// ErrParseFailure marks a response that came back 2xx but whose body
// could not be parsed into a usable completion; retrying an identical
// request against the same malformed endpoint response won't help.
var ErrParseFailure = errors.New("llm: response parse failure")

// HTTPProvider talks to an OpenAI-compatible chat-completions endpoint
// (OpenRouter, LiteLLM's proxy surface, or any drop-in).
type HTTPProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

// NewHTTPProvider builds an HTTPProvider. baseURL defaults to a
// LiteLLM-style local proxy root when empty.
func NewHTTPProvider(baseURL, apiKey, model string) *HTTPProvider {
	if baseURL == "" {
		baseURL = "http://localhost:4000"
	}
	return &HTTPProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatReq struct {
	Model       string    `json:"model"`
	Messages    []chatMsg `json:"messages"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

type chatResp struct {
	Choices []struct {
		Message chatMsg `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *HTTPProvider) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	if p.Client == nil {
		return "", errors.New("llm: http client is nil")
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return "", errors.New("llm: model is required")
	}

	reqBody := chatReq{
		Model:       model,
		Temperature: temperature,
		Messages: []chatMsg{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return "", &StatusError{Code: resp.StatusCode, Message: msg}
	}

	var decoded chatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", errors.New(decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrParseFailure)
	}
	return decoded.Choices[0].Message.Content, nil
}
