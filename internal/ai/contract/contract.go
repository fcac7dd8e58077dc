package contract

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider is the narrow invocation surface the engine depends on. Failures
// carry the transient/non-transient distinction the retry policy needs.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string, maxTokens int) (*Completion, error)
	GetConfig() *ProviderConfig
}

type ProviderConfig struct {
	ID              int64
	ProviderName    string
	APIKey          string
	ModelName       string
	BaseURL         string
	Temperature     float64
	MaxTokens       int
	CostPer1KInput  float64
	CostPer1KOutput float64
}

type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

func (c *Completion) TotalTokens() int {
	return c.InputTokens + c.OutputTokens
}

// Cost prices a completion against per-1k-token rates.
func (c *Completion) Cost(costPer1KInput, costPer1KOutput float64) float64 {
	return (float64(c.InputTokens)/1000.0)*costPer1KInput + (float64(c.OutputTokens)/1000.0)*costPer1KOutput
}

// TransientError marks a failure worth retrying: timeouts, 5xx responses,
// dropped connections, burst throttling.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient provider error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NonTransientError marks a failure retries cannot fix: bad credentials,
// malformed requests, daily quota exhaustion.
type NonTransientError struct {
	Reason string
	Err    error
}

func (e *NonTransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *NonTransientError) Unwrap() error { return e.Err }

// RateLimitedError is raised before a provider call when the local budget is
// exhausted; RetryAfter is when the earliest window frees up.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// Classify wraps an HTTP-level provider failure per the retry taxonomy.
// Status 0 means no response was received (timeout, reset) and counts as
// transient.
func Classify(status int, err error) error {
	switch {
	case status == 401 || status == 403:
		return &NonTransientError{Reason: "authentication failed", Err: err}
	case status == 400 || status == 404 || status == 422:
		return &NonTransientError{Reason: "malformed request", Err: err}
	case status == 429:
		// Provider-side burst throttling; daily quota exhaustion is caught
		// by the local limiter before the call.
		return &TransientError{Err: err}
	case status >= 500, status == 408, status == 0:
		return &TransientError{Err: err}
	}
	return &NonTransientError{Reason: fmt.Sprintf("provider rejected request (status %d)", status), Err: err}
}
