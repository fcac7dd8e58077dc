package rules

import (
	"sort"

	"go.uber.org/zap"

	"support-triage/backend/internal/models"
)

// AutoRule pairs a stored auto-response rule with its compiled conditions.
type AutoRule struct {
	Rule       models.AutoResponseRule
	Conditions *Compiled
}

// EscRule pairs a stored escalation rule with its compiled conditions.
type EscRule struct {
	Rule       models.EscalationRule
	Conditions *Compiled
}

// CompileAutoRules drops disabled rules, disables rules with invalid
// conditions (logged, not fatal), and orders the rest by descending priority.
// Equal priorities keep declaration order; that ordering is a contract relied
// on by first-match-wins evaluation.
func CompileAutoRules(ruleList []models.AutoResponseRule, logger *zap.Logger) []AutoRule {
	compiled := make([]AutoRule, 0, len(ruleList))
	for _, rule := range ruleList {
		if !rule.IsEnabled {
			continue
		}
		conditions, err := Compile(rule.Conditions)
		if err != nil {
			logger.Warn("auto-response rule disabled",
				zap.Int64("rule_id", rule.ID),
				zap.String("rule", rule.Name),
				zap.Error(err))
			continue
		}
		compiled = append(compiled, AutoRule{Rule: rule, Conditions: conditions})
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Rule.Priority > compiled[j].Rule.Priority
	})
	return compiled
}

// CompileEscalationRules mirrors CompileAutoRules for escalation rules, which
// carry no priority and evaluate in declaration order.
func CompileEscalationRules(ruleList []models.EscalationRule, logger *zap.Logger) []EscRule {
	compiled := make([]EscRule, 0, len(ruleList))
	for _, rule := range ruleList {
		if !rule.IsEnabled {
			continue
		}
		conditions, err := Compile(rule.Conditions)
		if err != nil {
			logger.Warn("escalation rule disabled",
				zap.Int64("rule_id", rule.ID),
				zap.String("rule", rule.Name),
				zap.Error(err))
			continue
		}
		compiled = append(compiled, EscRule{Rule: rule, Conditions: conditions})
	}
	return compiled
}
