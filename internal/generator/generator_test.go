package generator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"support-triage/backend/internal/ai/contract"
	"support-triage/backend/internal/models"
	"support-triage/backend/internal/ratelimit"
)

type fakeProvider struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
	text     string
	block    chan struct{}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) GetConfig() *contract.ProviderConfig {
	return &contract.ProviderConfig{ProviderName: "fake"}
}

func (f *fakeProvider) Complete(ctx context.Context, prompt string, maxTokens int) (*contract.Completion, error) {
	f.mu.Lock()
	f.calls++
	calls := f.calls
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if calls <= f.failures {
		return nil, f.err
	}
	return &contract.Completion{Text: f.text, InputTokens: 100, OutputTokens: 50}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testRequest(provider contract.Provider) Request {
	return Request{
		Message: &models.Message{
			ID:       "msg-1",
			Channel:  "it-help",
			UserID:   "U123",
			Text:     "vpn is down",
			Category: "vpn_support",
			Priority: models.PriorityHigh,
		},
		Provider:     provider,
		ProviderInfo: models.AIProvider{ID: 1, ModelName: "test-model", MaxTokens: 500, CostPer1KInput: 3, CostPer1KOutput: 15},
		Prompt:       models.PromptTemplate{ID: 1, Content: "Help {{user_id}} with: {{message_text}}"},
	}
}

func newTestGenerator(maxRetries int) *Generator {
	gen := New(ratelimit.New(), zap.NewNop(), maxRetries, time.Second)
	gen.retryDelay = time.Millisecond
	return gen
}

func TestGenerateSuccess(t *testing.T) {
	provider := &fakeProvider{text: "Try reconnecting to the VPN."}
	gen := newTestGenerator(2)

	response, err := gen.Generate(context.Background(), testRequest(provider))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if response.Status != models.ResponseGenerated {
		t.Fatalf("expected generated status, got %q", response.Status)
	}
	if response.Text != "Try reconnecting to the VPN." {
		t.Fatalf("unexpected text %q", response.Text)
	}
	if response.TokensUsed != 150 {
		t.Fatalf("expected 150 tokens, got %d", response.TokensUsed)
	}
	// 100 input at $3/1k plus 50 output at $15/1k.
	want := 100.0/1000*3 + 50.0/1000*15
	if response.Cost != want {
		t.Fatalf("expected cost %f, got %f", want, response.Cost)
	}
}

func TestGenerateRetriesTransientThenSucceeds(t *testing.T) {
	provider := &fakeProvider{
		text:     "done",
		failures: 2,
		err:      &contract.TransientError{Err: errors.New("http 503")},
	}
	gen := newTestGenerator(2)

	response, err := gen.Generate(context.Background(), testRequest(provider))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if provider.callCount() != 3 {
		t.Fatalf("expected 3 attempts, got %d", provider.callCount())
	}
	if response.Status != models.ResponseGenerated {
		t.Fatalf("expected generated status, got %q", response.Status)
	}
}

func TestGenerateExhaustsRetries(t *testing.T) {
	provider := &fakeProvider{
		failures: 10,
		err:      &contract.TransientError{Err: errors.New("http 503")},
	}
	gen := newTestGenerator(2)

	response, err := gen.Generate(context.Background(), testRequest(provider))
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if provider.callCount() != 3 {
		t.Fatalf("expected maxRetries+1 attempts, got %d", provider.callCount())
	}
	if response.Status != models.ResponseFailed {
		t.Fatalf("expected failed status, got %q", response.Status)
	}
	if response.FailureReason == nil || *response.FailureReason == "" {
		t.Fatalf("failed response must retain a reason")
	}
}

func TestGenerateNonTransientFailsImmediately(t *testing.T) {
	provider := &fakeProvider{
		failures: 10,
		err:      &contract.NonTransientError{Reason: "authentication failed", Err: errors.New("http 401")},
	}
	gen := newTestGenerator(3)

	response, err := gen.Generate(context.Background(), testRequest(provider))
	if err == nil {
		t.Fatalf("expected error")
	}
	if provider.callCount() != 1 {
		t.Fatalf("non-transient errors must not be retried, got %d attempts", provider.callCount())
	}
	if response.Status != models.ResponseFailed {
		t.Fatalf("expected failed status, got %q", response.Status)
	}
}

func TestGenerateRateLimitedFailsFast(t *testing.T) {
	provider := &fakeProvider{text: "never reached"}
	gen := newTestGenerator(2)

	req := testRequest(provider)
	req.ProviderInfo.Limits = models.RateLimit{RequestsPerMinute: 1}
	first, err := gen.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("first generate: %v", err)
	}
	if first.Status != models.ResponseGenerated {
		t.Fatalf("first call should succeed, got %q", first.Status)
	}

	req.Message = &models.Message{ID: "msg-2", Text: "second"}
	response, err := gen.Generate(context.Background(), req)
	if err == nil {
		t.Fatalf("expected rate-limited error")
	}
	var limited *contract.RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if limited.RetryAfter <= 0 {
		t.Fatalf("rate-limited error must carry a positive retry-after")
	}
	if response.Status != models.ResponseFailed {
		t.Fatalf("expected failed status, got %q", response.Status)
	}
	if provider.callCount() != 1 {
		t.Fatalf("denied request must not reach the provider")
	}
}

func TestGenerateSingleFlightPerMessage(t *testing.T) {
	block := make(chan struct{})
	provider := &fakeProvider{text: "slow", block: block}
	gen := newTestGenerator(0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = gen.Generate(context.Background(), testRequest(provider))
	}()

	// Wait for the first generation to reach the provider call.
	deadline := time.Now().Add(2 * time.Second)
	for provider.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("first generation never started")
		}
		time.Sleep(time.Millisecond)
	}

	_, err := gen.Generate(context.Background(), testRequest(provider))
	if !errors.Is(err, ErrGenerationInFlight) {
		t.Fatalf("expected ErrGenerationInFlight, got %v", err)
	}

	close(block)
	<-done
}

func TestResolvePrompt(t *testing.T) {
	msg := &models.Message{
		ID:       "msg-1",
		Channel:  "it-help",
		UserID:   "U123",
		Text:     "vpn down",
		Category: "vpn_support",
		Priority: models.PriorityHigh,
		Context: &models.MessageContext{
			UserName:   "Sam Doe",
			UserEmail:  "sam@example.com",
			Department: "Finance",
			Devices:    []models.DeviceInfo{{Name: "MBP", Model: "M3", OS: "macOS 15"}},
		},
	}
	template := "{{user_name}} ({{department}}) in {{channel}}: {{message_text}} [{{priority}}] devices: {{device_info}}"
	resolved := ResolvePrompt(template, msg, nil)
	want := "Sam Doe (Finance) in it-help: vpn down [high] devices: MBP (M3, macOS 15)"
	if resolved != want {
		t.Fatalf("resolved prompt mismatch:\n got %q\nwant %q", resolved, want)
	}
}

func TestResolvePromptWithoutContext(t *testing.T) {
	msg := &models.Message{UserID: "U123", Text: "help"}
	resolved := ResolvePrompt("{{user_name}}: {{message_text}} {{department}}", msg, nil)
	if !strings.HasPrefix(resolved, "U123: help") {
		t.Fatalf("missing context should fall back to user id, got %q", resolved)
	}
	if strings.Contains(resolved, "{{") {
		t.Fatalf("known placeholders must be resolved, got %q", resolved)
	}
}
