package providers

import (
	"context"
	"errors"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"support-triage/backend/internal/ai/contract"
)

type ClaudeProvider struct {
	client anthropic.Client
	config *contract.ProviderConfig
}

func NewClaudeProvider(config *contract.ProviderConfig) *ClaudeProvider {
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	return &ClaudeProvider{client: anthropic.NewClient(opts...), config: config}
}

func (c *ClaudeProvider) Name() string { return "claude" }

func (c *ClaudeProvider) GetConfig() *contract.ProviderConfig { return c.config }

func (c *ClaudeProvider) Complete(ctx context.Context, prompt string, maxTokens int) (*contract.Completion, error) {
	if maxTokens <= 0 {
		maxTokens = c.config.MaxTokens
	}
	result, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.config.ModelName),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(c.config.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, classifyAnthropic(err)
	}
	if result == nil || len(result.Content) == 0 {
		return nil, &contract.TransientError{Err: errors.New("empty completion")}
	}
	return &contract.Completion{
		Text:         result.Content[0].Text,
		InputTokens:  int(result.Usage.InputTokens),
		OutputTokens: int(result.Usage.OutputTokens),
	}, nil
}

func classifyAnthropic(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return contract.Classify(apierr.StatusCode, err)
	}
	return contract.Classify(0, err)
}
