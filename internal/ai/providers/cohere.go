package providers

import (
	"context"
	"errors"
	"strings"

	cohere "github.com/cohere-ai/cohere-go"

	"support-triage/backend/internal/ai/contract"
)

type CohereProvider struct {
	client *cohere.Client
	config *contract.ProviderConfig
}

func NewCohereProvider(config *contract.ProviderConfig) *CohereProvider {
	client, _ := cohere.CreateClient(config.APIKey)
	return &CohereProvider{client: client, config: config}
}

func (c *CohereProvider) Name() string { return "cohere" }

func (c *CohereProvider) GetConfig() *contract.ProviderConfig { return c.config }

// Complete runs the blocking SDK call on its own goroutine so the context
// deadline is honored; an abandoned call is left to finish on its own.
func (c *CohereProvider) Complete(ctx context.Context, prompt string, maxTokens int) (*contract.Completion, error) {
	if c.client == nil {
		return nil, &contract.NonTransientError{Reason: "cohere client not initialized"}
	}
	if maxTokens <= 0 {
		maxTokens = c.config.MaxTokens
	}

	type outcome struct {
		response *cohere.GenerateResponse
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		tokens := uint(maxTokens)
		temperature := c.config.Temperature
		response, err := c.client.Generate(cohere.GenerateOptions{
			Model:       c.config.ModelName,
			Prompt:      prompt,
			MaxTokens:   &tokens,
			Temperature: &temperature,
		})
		done <- outcome{response: response, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, &contract.TransientError{Err: ctx.Err()}
	case result := <-done:
		if result.err != nil {
			return nil, classifyCohere(result.err)
		}
		if result.response == nil || len(result.response.Generations) == 0 {
			return nil, &contract.TransientError{Err: errors.New("empty completion")}
		}
		text := result.response.Generations[0].Text
		// The generate API reports no token usage; estimate from length.
		return &contract.Completion{
			Text:         text,
			InputTokens:  EstimateTokens(prompt),
			OutputTokens: EstimateTokens(text),
		}, nil
	}
}

func classifyCohere(err error) error {
	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "unauthorized"), strings.Contains(message, "invalid api key"), strings.Contains(message, "forbidden"):
		return &contract.NonTransientError{Reason: "authentication failed", Err: err}
	case strings.Contains(message, "bad request"), strings.Contains(message, "invalid request"):
		return &contract.NonTransientError{Reason: "malformed request", Err: err}
	}
	return &contract.TransientError{Err: err}
}
