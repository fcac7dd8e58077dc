package engine

import (
	"context"

	"go.uber.org/zap"

	"support-triage/backend/internal/classifier"
	"support-triage/backend/internal/models"
	"support-triage/backend/internal/rules"
)

// Snapshot is the immutable configuration view one processing cycle runs
// against. Reload happens by producing a new snapshot between cycles; a
// snapshot is never mutated once built.
type Snapshot struct {
	AutoRules       []rules.AutoRule
	EscalationRules []rules.EscRule
	Prompts         map[int64]models.PromptTemplate
	Providers       []models.AIProvider
	Classifier      classifier.Config
}

// SnapshotSource supplies a fresh snapshot at the start of each cycle.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// pruneUnresolvable disables rules whose action needs a prompt that does not
// exist or is inactive. That is a configuration error for the one rule, not
// the engine.
func (s *Snapshot) pruneUnresolvable(logger *zap.Logger) {
	kept := s.AutoRules[:0]
	for _, rule := range s.AutoRules {
		needsPrompt := rule.Rule.Action == models.ActionAutoRespond || rule.Rule.Action == models.ActionSuggest
		if needsPrompt {
			prompt, ok := s.Prompts[rule.Rule.PromptID]
			if !ok || !prompt.IsActive {
				logger.Warn("auto-response rule disabled: prompt missing or inactive",
					zap.Int64("rule_id", rule.Rule.ID),
					zap.Int64("prompt_id", rule.Rule.PromptID))
				continue
			}
		}
		kept = append(kept, rule)
	}
	s.AutoRules = kept
}

// defaultProvider returns the provider a generation should use: the flagged
// default, or the first active one.
func (s *Snapshot) defaultProvider() (models.AIProvider, bool) {
	var first *models.AIProvider
	for i := range s.Providers {
		provider := &s.Providers[i]
		if !provider.IsActive {
			continue
		}
		if provider.IsDefault {
			return *provider, true
		}
		if first == nil {
			first = provider
		}
	}
	if first != nil {
		return *first, true
	}
	return models.AIProvider{}, false
}
