package providers

import (
	"context"
	"errors"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"support-triage/backend/internal/ai/contract"
)

// OpenAIProvider also serves any OpenAI-compatible gateway (Azure, Gemini
// proxies) through a custom base URL.
type OpenAIProvider struct {
	client openai.Client
	config *contract.ProviderConfig
}

func NewOpenAIProvider(config *contract.ProviderConfig) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...), config: config}
}

func (o *OpenAIProvider) Name() string { return "openai" }

func (o *OpenAIProvider) GetConfig() *contract.ProviderConfig { return o.config }

func (o *OpenAIProvider) Complete(ctx context.Context, prompt string, maxTokens int) (*contract.Completion, error) {
	if maxTokens <= 0 {
		maxTokens = o.config.MaxTokens
	}
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(o.config.ModelName),
		Temperature: openai.Float(o.config.Temperature),
		MaxTokens:   openai.Int(int64(maxTokens)),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return nil, classifyOpenAI(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &contract.TransientError{Err: errors.New("empty completion")}
	}
	return &contract.Completion{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

func classifyOpenAI(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return contract.Classify(apierr.StatusCode, err)
	}
	return contract.Classify(0, err)
}
