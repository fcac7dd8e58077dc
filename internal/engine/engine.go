package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"support-triage/backend/internal/ai"
	"support-triage/backend/internal/classifier"
	"support-triage/backend/internal/generator"
	"support-triage/backend/internal/models"
	"support-triage/backend/internal/realtime"
	"support-triage/backend/internal/rules"
)

// Outcome is the result of one automation cycle.
type Outcome string

const (
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeResponded Outcome = "responded"
	OutcomeSuggested Outcome = "suggested"
	OutcomeEscalated Outcome = "escalated"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
	OutcomeNoMatch   Outcome = "no_match"
)

// Store is the persistence collaborator. The engine emits state, it does not
// own storage.
type Store interface {
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	SaveClassification(ctx context.Context, msg *models.Message) error
	OnStatusChange(ctx context.Context, msg *models.Message, previous models.MessageStatus, reason string) error
	OnResponseGenerated(ctx context.Context, response *models.AIResponse) error
	OnEscalation(ctx context.Context, record *models.EscalationRecord) error
	InsertUsage(ctx context.Context, log models.UsageLog) error
	ThreadHistory(ctx context.Context, msg *models.Message, limit int) ([]string, error)
	ListProcessing(ctx context.Context) ([]models.Message, error)
}

// Notifier is the delivery sink for auto-responses and escalations.
// Fire-and-report: the engine logs failures and moves on.
type Notifier interface {
	DeliverResponse(ctx context.Context, channel, threadID, text string) error
	DeliverEscalation(ctx context.Context, record *models.EscalationRecord) error
}

// Engine drives a message through the triage state machine:
// pending -> processing -> responded | escalated | ignored | failed,
// with failed -> pending reserved for explicit manual retry.
type Engine struct {
	snapshots  SnapshotSource
	store      Store
	notifier   Notifier
	factory    *ai.Factory
	generator  *generator.Generator
	escalation *EscalationRouter
	hub        *realtime.Hub
	locks      *lockMap
	logger     *zap.Logger
	// Target for escalations triggered by auto-response rules, which carry
	// no escalate_to of their own.
	escalateTo string
}

func New(snapshots SnapshotSource, store Store, notifier Notifier, factory *ai.Factory, gen *generator.Generator, hub *realtime.Hub, escalateTo string, logger *zap.Logger) *Engine {
	if escalateTo == "" {
		escalateTo = "it-escalations"
	}
	return &Engine{
		snapshots:  snapshots,
		store:      store,
		notifier:   notifier,
		factory:    factory,
		generator:  gen,
		escalation: NewEscalationRouter(notifier, logger),
		hub:        hub,
		locks:      newLockMap(),
		logger:     logger,
		escalateTo: escalateTo,
	}
}

// Process runs one automation cycle for a pending message. Cycles for the
// same message id are serialized by a non-blocking per-message lock:
// concurrent invocations return OutcomeDuplicate immediately, which prevents
// duplicate AI calls and duplicate sends.
func (e *Engine) Process(ctx context.Context, msg *models.Message) (Outcome, error) {
	if !e.locks.TryAcquire(msg.ID) {
		e.logger.Debug("duplicate processing suppressed", zap.String("message_id", msg.ID))
		return OutcomeDuplicate, nil
	}
	defer e.locks.Release(msg.ID)

	// The caller's copy may be stale: another cycle can finish between load
	// and lock acquisition. Only the persisted status decides whether this
	// cycle runs.
	current, err := e.store.GetMessage(ctx, msg.ID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("load message state: %w", err)
	}
	msg.Status = current.Status
	if msg.Status != models.StatusPending {
		e.logger.Debug("message not pending, skipping",
			zap.String("message_id", msg.ID),
			zap.String("status", string(msg.Status)))
		return OutcomeDuplicate, nil
	}

	snapshot, err := e.snapshots.Snapshot(ctx)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("load configuration snapshot: %w", err)
	}
	snapshot.pruneUnresolvable(e.logger)

	classification := classifier.New(snapshot.Classifier).Classify(msg)
	msg.Category = classification.Category
	msg.Priority = classification.Priority
	if err := e.store.SaveClassification(ctx, msg); err != nil {
		return OutcomeFailed, fmt.Errorf("persist classification: %w", err)
	}

	evalCtx := rules.EvalContext{Keywords: classification.Matched}
	for _, rule := range snapshot.AutoRules {
		if !rule.Conditions.Matches(msg, evalCtx) {
			continue
		}
		return e.applyRule(ctx, msg, rule, snapshot)
	}

	// Escalation rules fire independently of auto-response rules.
	for _, rule := range snapshot.EscalationRules {
		if !rule.Conditions.Matches(msg, evalCtx) {
			continue
		}
		if err := e.escalate(ctx, msg, rule.Rule, "escalation rule: "+rule.Rule.Name); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeEscalated, nil
	}

	// No rule matched: the message stays pending for manual handling. A
	// deliberate no-op, not a failure.
	e.logger.Info("no rule matched, message awaits manual triage",
		zap.String("message_id", msg.ID),
		zap.String("category", msg.Category))
	return OutcomeNoMatch, nil
}

func (e *Engine) applyRule(ctx context.Context, msg *models.Message, rule rules.AutoRule, snapshot *Snapshot) (Outcome, error) {
	reason := "auto-response rule: " + rule.Rule.Name
	switch rule.Rule.Action {
	case models.ActionIgnore:
		if err := e.transition(ctx, msg, models.StatusIgnored, reason); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeIgnored, nil
	case models.ActionEscalate:
		escalation := models.EscalationRule{
			ID:         rule.Rule.ID,
			Name:       rule.Rule.Name,
			EscalateTo: e.escalateTo,
			Urgency:    urgencyForPriority(msg.Priority),
			IsEnabled:  true,
		}
		if err := e.escalate(ctx, msg, escalation, reason); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeEscalated, nil
	case models.ActionAutoRespond, models.ActionSuggest:
		return e.respond(ctx, msg, rule, snapshot, reason)
	}
	return OutcomeFailed, fmt.Errorf("unknown rule action %q", rule.Rule.Action)
}

func (e *Engine) respond(ctx context.Context, msg *models.Message, rule rules.AutoRule, snapshot *Snapshot, reason string) (Outcome, error) {
	if err := e.transition(ctx, msg, models.StatusProcessing, reason); err != nil {
		return OutcomeFailed, err
	}

	providerInfo, ok := snapshot.defaultProvider()
	if !ok {
		return OutcomeFailed, e.failMessage(ctx, msg, "no active AI provider configured")
	}
	provider := e.factory.CreateProvider(&ai.ProviderConfig{
		ID:              providerInfo.ID,
		ProviderName:    providerInfo.ProviderName,
		APIKey:          providerInfo.APIKey,
		ModelName:       providerInfo.ModelName,
		BaseURL:         derefString(providerInfo.BaseURL),
		Temperature:     providerInfo.Temperature,
		MaxTokens:       providerInfo.MaxTokens,
		CostPer1KInput:  providerInfo.CostPer1KInput,
		CostPer1KOutput: providerInfo.CostPer1KOutput,
	})
	if provider == nil {
		return OutcomeFailed, e.failMessage(ctx, msg, "unsupported AI provider: "+providerInfo.ProviderName)
	}

	history, err := e.store.ThreadHistory(ctx, msg, 20)
	if err != nil {
		e.logger.Warn("thread history unavailable", zap.String("message_id", msg.ID), zap.Error(err))
	}

	draft := rule.Rule.Action == models.ActionSuggest
	response, genErr := e.generator.Generate(ctx, generator.Request{
		Message:       msg,
		ThreadHistory: history,
		Provider:      provider,
		ProviderInfo:  providerInfo,
		Prompt:        snapshot.Prompts[rule.Rule.PromptID],
		Draft:         draft,
	})
	if errors.Is(genErr, generator.ErrGenerationInFlight) {
		// The lock makes this unreachable in practice; treat it as the
		// duplicate suppression it is.
		e.logger.Debug("generation already in flight", zap.String("message_id", msg.ID))
		return OutcomeDuplicate, nil
	}
	e.recordUsage(ctx, msg, providerInfo, response)

	if genErr != nil {
		if response != nil {
			if err := e.store.OnResponseGenerated(ctx, response); err != nil {
				e.logger.Error("persist failed response", zap.String("message_id", msg.ID), zap.Error(err))
			}
		}
		return OutcomeFailed, e.failMessage(ctx, msg, genErr.Error())
	}

	if !draft {
		if err := e.notifier.DeliverResponse(ctx, msg.Channel, derefString(msg.ThreadID), response.Text); err != nil {
			// Delivery is fire-and-report: the response stays generated and
			// a human can send it from the dashboard.
			e.logger.Warn("auto-response delivery failed",
				zap.String("message_id", msg.ID),
				zap.String("channel", msg.Channel),
				zap.Error(err))
		} else {
			response.Status = models.ResponseSent
		}
	}
	if err := e.store.OnResponseGenerated(ctx, response); err != nil {
		return OutcomeFailed, e.failMessage(ctx, msg, "persist response: "+err.Error())
	}
	if err := e.transition(ctx, msg, models.StatusResponded, reason); err != nil {
		return OutcomeFailed, err
	}
	e.broadcast("response.generated", map[string]any{
		"message_id":  msg.ID,
		"response_id": response.ID,
		"draft":       draft,
	})
	if draft {
		return OutcomeSuggested, nil
	}
	return OutcomeResponded, nil
}

func (e *Engine) escalate(ctx context.Context, msg *models.Message, rule models.EscalationRule, reason string) error {
	if err := e.transition(ctx, msg, models.StatusEscalated, reason); err != nil {
		return err
	}
	record := e.escalation.Route(ctx, msg, rule)
	if err := e.store.OnEscalation(ctx, record); err != nil {
		e.logger.Error("persist escalation", zap.String("message_id", msg.ID), zap.Error(err))
	}
	e.broadcast("message.escalated", map[string]any{
		"message_id":  msg.ID,
		"escalate_to": record.EscalateTo,
		"urgency":     record.Urgency,
	})
	return nil
}

// failMessage moves the message to failed with a retained human-readable
// reason. No error reaches a terminal state without being recorded.
func (e *Engine) failMessage(ctx context.Context, msg *models.Message, reason string) error {
	if err := e.transition(ctx, msg, models.StatusFailed, reason); err != nil {
		return err
	}
	return fmt.Errorf("message %s failed: %s", msg.ID, reason)
}

func (e *Engine) transition(ctx context.Context, msg *models.Message, to models.MessageStatus, reason string) error {
	previous := msg.Status
	if !models.CanTransition(previous, to) {
		return fmt.Errorf("illegal status transition %s -> %s for message %s", previous, to, msg.ID)
	}
	msg.Status = to
	msg.UpdatedAt = time.Now().UTC()
	if err := e.store.OnStatusChange(ctx, msg, previous, reason); err != nil {
		msg.Status = previous
		return fmt.Errorf("persist status change: %w", err)
	}
	e.broadcast("message.status", map[string]any{
		"message_id": msg.ID,
		"previous":   previous,
		"status":     to,
		"reason":     reason,
	})
	return nil
}

func (e *Engine) recordUsage(ctx context.Context, msg *models.Message, providerInfo models.AIProvider, response *models.AIResponse) {
	if response == nil {
		return
	}
	log := models.UsageLog{
		ProviderID:     providerInfo.ID,
		MessageID:      &msg.ID,
		InputTokens:    response.InputTokens,
		OutputTokens:   response.OutputTokens,
		TotalTokens:    response.TokensUsed,
		TotalCost:      response.Cost,
		ResponseTimeMs: response.ResponseTimeMs,
		Success:        response.Status != models.ResponseFailed,
		ErrorMessage:   response.FailureReason,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.InsertUsage(ctx, log); err != nil {
		e.logger.Warn("persist usage log", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

func (e *Engine) broadcast(eventType string, payload map[string]any) {
	if e.hub == nil {
		return
	}
	payload["type"] = eventType
	e.hub.Broadcast(payload)
}

func urgencyForPriority(priority models.Priority) models.Urgency {
	switch priority {
	case models.PriorityUrgent:
		return models.UrgencyCritical
	case models.PriorityHigh:
		return models.UrgencyHigh
	case models.PriorityMedium:
		return models.UrgencyMedium
	}
	return models.UrgencyLow
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
