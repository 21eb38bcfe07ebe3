package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"FilingsMonitor/internal/config"
	"FilingsMonitor/internal/ports"
)

// OpenAIBackend implements ports.ModelBackend against OpenAI-compatible
// chat completion APIs using structured outputs.
type OpenAIBackend struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      *slog.Logger
}

var _ ports.ModelBackend = (*OpenAIBackend)(nil)

// NewOpenAIBackend builds a client from configuration.
func NewOpenAIBackend(cfg config.ModelConfig, logger *slog.Logger) (*OpenAIBackend, error) {
	if cfg.APIKey == "" || cfg.Model == "" {
		return nil, errors.New("openai backend misconfigured: api key and model are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
	}

	return &OpenAIBackend{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      logger,
	}, nil
}

// Complete sends one chat completion constrained by the request schema.
func (o *OpenAIBackend) Complete(ctx context.Context, req ports.ModelRequest) (string, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: o.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserContent},
		},
	}
	if len(req.Schema) > 0 {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.SchemaName,
				Schema: json.RawMessage(req.Schema),
				Strict: true,
			},
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}

	o.logger.Debug("openai completion",
		"model", o.model,
		"finish_reason", resp.Choices[0].FinishReason,
		"total_tokens", resp.Usage.TotalTokens)
	return resp.Choices[0].Message.Content, nil
}

// Ping lists models and checks the configured one is served.
func (o *OpenAIBackend) Ping(ctx context.Context) error {
	models, err := o.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("openai list models: %w", err)
	}
	for _, m := range models.Models {
		if m.ID == o.model {
			return nil
		}
	}
	return fmt.Errorf("model %q not served by endpoint", o.model)
}
