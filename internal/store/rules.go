package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"support-triage/backend/internal/models"
	"support-triage/backend/internal/rules"
)

// CreateAutoRule validates the conditions before storing; a rule that fails
// to compile never reaches the database.
func (s *Store) CreateAutoRule(ctx context.Context, rule *models.AutoResponseRule) error {
	if _, err := rules.Compile(rule.Conditions); err != nil {
		return err
	}
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx, `
			INSERT INTO auto_response_rules (name, conditions_json, action, prompt_id, priority, is_enabled, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			RETURNING id`,
			rule.Name, string(conditions), rule.Action, rule.PromptID, rule.Priority, rule.IsEnabled, now, now).Scan(&rule.ID)
	})
}

func (s *Store) ListAutoRules(ctx context.Context) ([]models.AutoResponseRule, error) {
	items := []models.AutoResponseRule{}
	err := s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT id, name, conditions_json, action, prompt_id, priority, is_enabled, created_at, updated_at
			FROM auto_response_rules
			ORDER BY priority DESC, id ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var rule models.AutoResponseRule
			var conditions string
			if err := rows.Scan(&rule.ID, &rule.Name, &conditions, &rule.Action, &rule.PromptID,
				&rule.Priority, &rule.IsEnabled, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
				return err
			}
			if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
				s.Logger.Warn("skipping rule with corrupt conditions", zap.Int64("rule_id", rule.ID), zap.Error(err))
				continue
			}
			items = append(items, rule)
		}
		return rows.Err()
	})
	return items, err
}

func (s *Store) UpdateAutoRule(ctx context.Context, rule *models.AutoResponseRule) error {
	if _, err := rules.Compile(rule.Conditions); err != nil {
		return err
	}
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return err
	}
	rule.UpdatedAt = time.Now().UTC()
	return s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
			UPDATE auto_response_rules
			SET name=$1, conditions_json=$2, action=$3, prompt_id=$4, priority=$5, is_enabled=$6, updated_at=$7
			WHERE id=$8`,
			rule.Name, string(conditions), rule.Action, rule.PromptID, rule.Priority, rule.IsEnabled, rule.UpdatedAt, rule.ID)
		return err
	})
}

func (s *Store) DeleteAutoRule(ctx context.Context, id int64) error {
	return s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `DELETE FROM auto_response_rules WHERE id=$1`, id)
		return err
	})
}

func (s *Store) CreateEscalationRule(ctx context.Context, rule *models.EscalationRule) error {
	if _, err := rules.Compile(rule.Conditions); err != nil {
		return err
	}
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return err
	}
	rule.CreatedAt = time.Now().UTC()
	return s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx, `
			INSERT INTO escalation_rules (name, conditions_json, escalate_to, urgency, is_enabled, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING id`,
			rule.Name, string(conditions), rule.EscalateTo, rule.Urgency, rule.IsEnabled, rule.CreatedAt).Scan(&rule.ID)
	})
}

func (s *Store) ListEscalationRules(ctx context.Context) ([]models.EscalationRule, error) {
	items := []models.EscalationRule{}
	err := s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT id, name, conditions_json, escalate_to, urgency, is_enabled, created_at
			FROM escalation_rules
			ORDER BY id ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var rule models.EscalationRule
			var conditions string
			if err := rows.Scan(&rule.ID, &rule.Name, &conditions, &rule.EscalateTo,
				&rule.Urgency, &rule.IsEnabled, &rule.CreatedAt); err != nil {
				return err
			}
			if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
				s.Logger.Warn("skipping escalation rule with corrupt conditions", zap.Int64("rule_id", rule.ID), zap.Error(err))
				continue
			}
			items = append(items, rule)
		}
		return rows.Err()
	})
	return items, err
}

func (s *Store) DeleteEscalationRule(ctx context.Context, id int64) error {
	return s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `DELETE FROM escalation_rules WHERE id=$1`, id)
		return err
	})
}

func (s *Store) CreatePrompt(ctx context.Context, prompt *models.PromptTemplate) error {
	prompt.CreatedAt = time.Now().UTC()
	return s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx, `
			INSERT INTO prompt_templates (name, content, is_active, created_at)
			VALUES ($1,$2,$3,$4)
			RETURNING id`,
			prompt.Name, prompt.Content, prompt.IsActive, prompt.CreatedAt).Scan(&prompt.ID)
	})
}

func (s *Store) ListPrompts(ctx context.Context) ([]models.PromptTemplate, error) {
	items := []models.PromptTemplate{}
	err := s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT id, name, content, is_active, created_at FROM prompt_templates ORDER BY id ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var prompt models.PromptTemplate
			if err := rows.Scan(&prompt.ID, &prompt.Name, &prompt.Content, &prompt.IsActive, &prompt.CreatedAt); err != nil {
				return err
			}
			items = append(items, prompt)
		}
		return rows.Err()
	})
	return items, err
}

func (s *Store) DeletePrompt(ctx context.Context, id int64) error {
	return s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `DELETE FROM prompt_templates WHERE id=$1`, id)
		return err
	})
}
