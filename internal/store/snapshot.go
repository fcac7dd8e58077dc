package store

import (
	"context"

	"support-triage/backend/internal/engine"
	"support-triage/backend/internal/models"
	"support-triage/backend/internal/rules"
)

// Snapshot assembles the immutable configuration view for one processing
// cycle: compiled rules, active prompts, providers with opened keys, and the
// classifier keyword map. Rules that fail to compile are dropped here, which
// is where configuration errors surface.
func (s *Store) Snapshot(ctx context.Context) (*engine.Snapshot, error) {
	autoRules, err := s.ListAutoRules(ctx)
	if err != nil {
		return nil, err
	}
	escalationRules, err := s.ListEscalationRules(ctx)
	if err != nil {
		return nil, err
	}
	prompts, err := s.ListPrompts(ctx)
	if err != nil {
		return nil, err
	}
	providers, err := s.ListProviders(ctx, true)
	if err != nil {
		return nil, err
	}

	promptIndex := make(map[int64]models.PromptTemplate, len(prompts))
	for _, prompt := range prompts {
		promptIndex[prompt.ID] = prompt
	}

	return &engine.Snapshot{
		AutoRules:       rules.CompileAutoRules(autoRules, s.Logger),
		EscalationRules: rules.CompileEscalationRules(escalationRules, s.Logger),
		Prompts:         promptIndex,
		Providers:       providers,
		Classifier:      s.ClassifierCfg,
	}, nil
}
