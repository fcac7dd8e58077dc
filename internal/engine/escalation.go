package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"support-triage/backend/internal/models"
)

// EscalationRouter resolves an escalation rule's target and urgency into a
// notification record. Delivery is the notifier's job; a delivery failure is
// reported but never reverts the escalation, which is a logical fact once the
// rule fires.
type EscalationRouter struct {
	notifier Notifier
	logger   *zap.Logger
}

func NewEscalationRouter(notifier Notifier, logger *zap.Logger) *EscalationRouter {
	return &EscalationRouter{notifier: notifier, logger: logger}
}

func (r *EscalationRouter) Route(ctx context.Context, msg *models.Message, rule models.EscalationRule) *models.EscalationRecord {
	record := &models.EscalationRecord{
		MessageID:  msg.ID,
		RuleID:     rule.ID,
		EscalateTo: rule.EscalateTo,
		Urgency:    rule.Urgency,
		Summary:    escalationSummary(msg),
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.notifier.DeliverEscalation(ctx, record); err != nil {
		r.logger.Warn("escalation notification failed",
			zap.String("message_id", msg.ID),
			zap.String("escalate_to", rule.EscalateTo),
			zap.Error(err))
	}
	return record
}

func escalationSummary(msg *models.Message) string {
	excerpt := msg.Text
	// Truncate on a rune boundary so a multi-byte character is never split.
	if runes := []rune(excerpt); len(runes) > 200 {
		excerpt = string(runes[:200]) + "..."
	}
	return fmt.Sprintf("[%s/%s] %s", msg.Category, msg.Priority, excerpt)
}
