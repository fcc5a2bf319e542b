// Package llm is the text-completion capability used by every agent: submit
// an ordered list of role/content messages, receive one completion.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"crewforge/internal/domain"
)

var ErrEmptyCompletion = errors.New("completion returned no choices")

type Completer interface {
	Complete(ctx context.Context, messages []domain.Message) (string, error)
}

type OpenAIConfig struct {
	APIKey       string
	Organization string
	BaseURL      string
	Model        string
	Temperature  float64
	Logger       *log.Logger
}

type OpenAI struct {
	client      openai.Client
	model       string
	temperature float64
	logger      *log.Logger
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("empty API key")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("empty model")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	// Retries belong to the task-request service.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Organization != "" {
		opts = append(opts, option.WithHeader("OpenAI-Organization", cfg.Organization))
	}

	return &OpenAI{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: cfg.Temperature,
		logger:      cfg.Logger,
	}, nil
}

func (o *OpenAI) Complete(ctx context.Context, messages []domain.Message) (string, error) {
	req := domain.ChatCompletion{
		Model:       o.model,
		Messages:    messages,
		Temperature: o.temperature,
	}
	result, err := o.client.Chat.Completions.New(ctx, buildParams(req))
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	o.logger.Printf("llm completion model=%s choices=%d total_tokens=%d", result.Model, len(result.Choices), result.Usage.TotalTokens)
	return result.Choices[0].Message.Content, nil
}

func buildParams(req domain.ChatCompletion) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleUser:
			msgs = append(msgs, openai.UserMessage(m.Content))
		case domain.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		}
	}
	return openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(req.Model),
		Messages:    msgs,
		Temperature: openai.Float(req.Temperature),
	}
}
