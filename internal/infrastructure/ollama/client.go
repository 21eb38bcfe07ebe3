package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"FilingsMonitor/internal/config"
	"FilingsMonitor/internal/ports"
)

// Client talks to a local Ollama server through its native chat API.
type Client struct {
	model       string
	temperature float32
	http        *resty.Client
}

var _ ports.ModelBackend = (*Client)(nil)

// NewClient creates a reusable HTTP client. Retries are left to the
// classifier, so resty's own retry is off.
func NewClient(cfg config.ModelConfig) (*Client, error) {
	if cfg.Endpoint == "" || cfg.Model == "" {
		return nil, errors.New("ollama client misconfigured: endpoint and model are required")
	}

	// Accept both the server root and the full chat URL.
	base := strings.TrimSuffix(strings.TrimRight(cfg.Endpoint, "/"), "/api/chat")

	return &Client{
		model:       cfg.Model,
		temperature: cfg.Temperature,
		http: resty.New().
			SetBaseURL(base).
			SetHeader("Content-Type", "application/json").
			SetRetryCount(0),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string          `json:"model"`
	Messages []chatMessage   `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   json.RawMessage `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// Complete posts one non-streaming chat request with the schema as the
// response format.
func (c *Client) Complete(ctx context.Context, req ports.ModelRequest) (string, error) {
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserContent},
		},
		Stream:  false,
		Format:  json.RawMessage(req.Schema),
		Options: map[string]any{"temperature": c.temperature},
	}

	var resp chatResponse
	if err := c.post(ctx, "/api/chat", payload, &resp); err != nil {
		return "", err
	}
	if !resp.Done {
		return "", errors.New("ollama returned an incomplete response")
	}
	return resp.Message.Content, nil
}

// Ping checks that the server answers and has the model pulled.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&tagsResponse{}).
		Get("/api/tags")
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("ollama tags: unexpected status %s", resp.Status())
	}

	tags := resp.Result().(*tagsResponse)
	for _, m := range tags.Models {
		if m.Name == c.model || m.Model == c.model {
			return nil
		}
	}
	return fmt.Errorf("model %q is not pulled on the ollama server", c.model)
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(v).
		Post(path)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	if resp.IsError() {
		body := strings.TrimSpace(string(resp.Body()))
		if len(body) > 512 {
			body = body[:512]
		}
		return fmt.Errorf("unexpected status %s: %s", resp.Status(), body)
	}
	return nil
}
