package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"support-triage/backend/internal/models"
)

var ErrResponseImmutable = errors.New("response already sent and cannot be edited")

const responseColumns = `id, message_id, provider_id, model_name, status, text, is_draft, is_edited, original_response, input_tokens, output_tokens, tokens_used, cost, response_time_ms, failure_reason, created_at, updated_at`

func scanResponse(row interface{ Scan(...any) error }) (models.AIResponse, error) {
	var response models.AIResponse
	err := row.Scan(&response.ID, &response.MessageID, &response.ProviderID, &response.ModelName,
		&response.Status, &response.Text, &response.IsDraft, &response.IsEdited, &response.OriginalResponse,
		&response.InputTokens, &response.OutputTokens, &response.TokensUsed, &response.Cost,
		&response.ResponseTimeMs, &response.FailureReason, &response.CreatedAt, &response.UpdatedAt)
	return response, err
}

// OnResponseGenerated stores a freshly generated (or failed) response. Any
// still-active response for the same message is superseded first, keeping the
// one-active-response invariant.
func (s *Store) OnResponseGenerated(ctx context.Context, response *models.AIResponse) error {
	return s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		tx, err := conn.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if _, err := tx.Exec(ctx, `
			UPDATE ai_responses
			SET status=$1, failure_reason=$2, updated_at=$3
			WHERE message_id=$4 AND status IN ($5, $6)`,
			models.ResponseFailed, "superseded by new generation", time.Now().UTC(),
			response.MessageID, models.ResponsePending, models.ResponseGenerated); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO ai_responses (`+responseColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
			response.ID, response.MessageID, response.ProviderID, response.ModelName,
			response.Status, response.Text, response.IsDraft, response.IsEdited, response.OriginalResponse,
			response.InputTokens, response.OutputTokens, response.TokensUsed, response.Cost,
			response.ResponseTimeMs, response.FailureReason, response.CreatedAt, response.UpdatedAt); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

func (s *Store) GetResponse(ctx context.Context, id string) (*models.AIResponse, error) {
	var response models.AIResponse
	err := s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		row := conn.QueryRow(ctx, `SELECT `+responseColumns+` FROM ai_responses WHERE id=$1`, id)
		var scanErr error
		response, scanErr = scanResponse(row)
		return scanErr
	})
	if err != nil {
		return nil, err
	}
	return &response, nil
}

func (s *Store) ListResponses(ctx context.Context, messageID string) ([]models.AIResponse, error) {
	items := []models.AIResponse{}
	err := s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+responseColumns+` FROM ai_responses
			WHERE message_id=$1 ORDER BY created_at DESC`, messageID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			response, err := scanResponse(rows)
			if err != nil {
				return err
			}
			items = append(items, response)
		}
		return rows.Err()
	})
	return items, err
}

// EditResponse rewrites a draft's text, retaining the original for
// provenance. A sent response is immutable.
func (s *Store) EditResponse(ctx context.Context, id, newText string) (*models.AIResponse, error) {
	response, err := s.GetResponse(ctx, id)
	if err != nil {
		return nil, err
	}
	if response.Status == models.ResponseSent {
		return nil, ErrResponseImmutable
	}
	original := response.Text
	err = s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
			UPDATE ai_responses
			SET text=$1, is_edited=TRUE,
			    original_response=COALESCE(original_response, $2),
			    updated_at=$3
			WHERE id=$4`, newText, original, time.Now().UTC(), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetResponse(ctx, id)
}

func (s *Store) MarkResponseSent(ctx context.Context, id string) error {
	return s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
			UPDATE ai_responses SET status=$1, updated_at=$2 WHERE id=$3`,
			models.ResponseSent, time.Now().UTC(), id)
		return err
	})
}

func (s *Store) InsertUsage(ctx context.Context, log models.UsageLog) error {
	return s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO usage_logs (provider_id, message_id, input_tokens, output_tokens, total_tokens, total_cost, response_time_ms, success, error_message, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			log.ProviderID, log.MessageID, log.InputTokens, log.OutputTokens, log.TotalTokens,
			log.TotalCost, log.ResponseTimeMs, log.Success, log.ErrorMessage, log.CreatedAt)
		return err
	})
}

func (s *Store) OnEscalation(ctx context.Context, record *models.EscalationRecord) error {
	return s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx, `
			INSERT INTO escalations (message_id, rule_id, escalate_to, urgency, summary, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING id`,
			record.MessageID, record.RuleID, record.EscalateTo, record.Urgency, record.Summary, record.CreatedAt).Scan(&record.ID)
	})
}
