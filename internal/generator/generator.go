package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"support-triage/backend/internal/ai/contract"
	"support-triage/backend/internal/ai/providers"
	"support-triage/backend/internal/models"
	"support-triage/backend/internal/ratelimit"
)

// ErrGenerationInFlight is returned when a second generation is triggered for
// a message that already has one running. Duplicates are rejected, never
// queued.
var ErrGenerationInFlight = errors.New("generation already in flight for message")

type Request struct {
	Message       *models.Message
	ThreadHistory []string
	Provider      contract.Provider
	ProviderInfo  models.AIProvider
	Prompt        models.PromptTemplate
	// Draft responses are stored for human review instead of being delivered.
	Draft bool
}

type Generator struct {
	limiter     *ratelimit.Limiter
	logger      *zap.Logger
	maxRetries  int
	retryDelay  time.Duration
	callTimeout time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(limiter *ratelimit.Limiter, logger *zap.Logger, maxRetries int, callTimeout time.Duration) *Generator {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if callTimeout <= 0 {
		callTimeout = 60 * time.Second
	}
	return &Generator{
		limiter:     limiter,
		logger:      logger,
		maxRetries:  maxRetries,
		retryDelay:  500 * time.Millisecond,
		callTimeout: callTimeout,
		inflight:    map[string]struct{}{},
	}
}

// Generate runs a single AI call for the message: resolves the prompt,
// acquires a rate-limit permit (failing fast when the budget is gone), retries
// transient failures with exponential backoff, and prices the result. On
// failure the returned response carries status failed and the retained reason
// alongside the error.
func (g *Generator) Generate(ctx context.Context, req Request) (*models.AIResponse, error) {
	if !g.begin(req.Message.ID) {
		return nil, ErrGenerationInFlight
	}
	defer g.end(req.Message.ID)

	response := &models.AIResponse{
		ID:         uuid.NewString(),
		MessageID:  req.Message.ID,
		ProviderID: req.ProviderInfo.ID,
		ModelName:  req.ProviderInfo.ModelName,
		Status:     models.ResponsePending,
		IsDraft:    req.Draft,
		CreatedAt:  time.Now().UTC(),
	}

	prompt := ResolvePrompt(req.Prompt.Content, req.Message, req.ThreadHistory)
	estimated := providers.EstimateTokens(prompt) + req.ProviderInfo.MaxTokens
	limits := ratelimit.Limits{
		RequestsPerMinute: req.ProviderInfo.Limits.RequestsPerMinute,
		RequestsPerDay:    req.ProviderInfo.Limits.RequestsPerDay,
		TokensPerMinute:   req.ProviderInfo.Limits.TokensPerMinute,
		TokensPerDay:      req.ProviderInfo.Limits.TokensPerDay,
	}

	var lastErr error
	delay := g.retryDelay
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fail(response, ctx.Err()), &contract.TransientError{Err: ctx.Err()}
			case <-time.After(delay):
			}
			delay *= 2
		}

		permit, retryAfter := g.limiter.TryAcquire(req.ProviderInfo.ID, limits, estimated)
		if permit == nil {
			err := &contract.RateLimitedError{RetryAfter: retryAfter}
			return fail(response, err), err
		}

		completion, err := g.complete(ctx, req.Provider, prompt, req.ProviderInfo.MaxTokens)
		if err != nil {
			permit.Commit(0)
			lastErr = err
			if contract.IsTransient(err) {
				g.logger.Debug("transient provider failure",
					zap.String("message_id", req.Message.ID),
					zap.String("provider", req.Provider.Name()),
					zap.Int("attempt", attempt+1),
					zap.Error(err))
				continue
			}
			return fail(response, err), err
		}

		permit.Commit(completion.TotalTokens())
		response.Status = models.ResponseGenerated
		response.Text = completion.Text
		response.InputTokens = completion.InputTokens
		response.OutputTokens = completion.OutputTokens
		response.TokensUsed = completion.TotalTokens()
		response.Cost = completion.Cost(req.ProviderInfo.CostPer1KInput, req.ProviderInfo.CostPer1KOutput)
		response.ResponseTimeMs = time.Since(response.CreatedAt).Milliseconds()
		response.UpdatedAt = time.Now().UTC()
		return response, nil
	}

	if lastErr == nil {
		lastErr = &contract.TransientError{Err: errors.New("no attempts made")}
	}
	return fail(response, fmt.Errorf("retries exhausted: %w", lastErr)), lastErr
}

func (g *Generator) complete(ctx context.Context, provider contract.Provider, prompt string, maxTokens int) (*contract.Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	return provider.Complete(callCtx, prompt, maxTokens)
}

func (g *Generator) begin(messageID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.inflight[messageID]; ok {
		return false
	}
	g.inflight[messageID] = struct{}{}
	return true
}

func (g *Generator) end(messageID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, messageID)
}

func fail(response *models.AIResponse, err error) *models.AIResponse {
	reason := err.Error()
	response.Status = models.ResponseFailed
	response.FailureReason = &reason
	response.ResponseTimeMs = time.Since(response.CreatedAt).Milliseconds()
	response.UpdatedAt = time.Now().UTC()
	return response
}

// ResolvePrompt substitutes message and context variables into a prompt
// template. Unknown placeholders are left in place so template mistakes are
// visible in the output rather than silently blank.
func ResolvePrompt(template string, msg *models.Message, threadHistory []string) string {
	pairs := []string{
		"{{message_text}}", msg.Text,
		"{{channel}}", msg.Channel,
		"{{user_id}}", msg.UserID,
		"{{category}}", msg.Category,
		"{{priority}}", string(msg.Priority),
		"{{thread_history}}", strings.Join(threadHistory, "\n"),
	}
	if msg.Context != nil {
		pairs = append(pairs,
			"{{user_name}}", msg.Context.UserName,
			"{{user_email}}", msg.Context.UserEmail,
			"{{department}}", msg.Context.Department,
			"{{device_info}}", formatDevices(msg.Context.Devices),
			"{{related_tickets}}", strings.Join(msg.Context.RelatedTickets, ", "),
		)
	} else {
		pairs = append(pairs,
			"{{user_name}}", msg.UserID,
			"{{user_email}}", "",
			"{{department}}", "",
			"{{device_info}}", "",
			"{{related_tickets}}", "",
		)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func formatDevices(devices []models.DeviceInfo) string {
	parts := make([]string, 0, len(devices))
	for _, device := range devices {
		parts = append(parts, fmt.Sprintf("%s (%s, %s)", device.Name, device.Model, device.OS))
	}
	return strings.Join(parts, "; ")
}
