package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"support-triage/backend/internal/models"
)

const providerColumns = `id, provider_name, model_name, api_key, base_url, temperature, max_tokens, cost_per_1k_input, cost_per_1k_output, requests_per_minute, requests_per_day, tokens_per_minute, tokens_per_day, is_active, is_default, created_at`

// CreateProvider seals the API key before it touches the database.
func (s *Store) CreateProvider(ctx context.Context, provider *models.AIProvider) error {
	sealed, err := s.Keyring.Seal(provider.APIKey)
	if err != nil {
		return err
	}
	provider.CreatedAt = time.Now().UTC()
	return s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx, `
			INSERT INTO ai_providers (provider_name, model_name, api_key, base_url, temperature, max_tokens, cost_per_1k_input, cost_per_1k_output, requests_per_minute, requests_per_day, tokens_per_minute, tokens_per_day, is_active, is_default, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			RETURNING id`,
			provider.ProviderName, provider.ModelName, sealed, provider.BaseURL,
			provider.Temperature, provider.MaxTokens, provider.CostPer1KInput, provider.CostPer1KOutput,
			provider.Limits.RequestsPerMinute, provider.Limits.RequestsPerDay,
			provider.Limits.TokensPerMinute, provider.Limits.TokensPerDay,
			provider.IsActive, provider.IsDefault, provider.CreatedAt).Scan(&provider.ID)
	})
}

// ListProviders returns active providers with plaintext keys, ready for a
// configuration snapshot. A key that fails to open disables its provider.
func (s *Store) ListProviders(ctx context.Context, activeOnly bool) ([]models.AIProvider, error) {
	items := []models.AIProvider{}
	err := s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		query := `SELECT ` + providerColumns + ` FROM ai_providers`
		if activeOnly {
			query += ` WHERE is_active=TRUE`
		}
		query += ` ORDER BY is_default DESC, id ASC`
		rows, err := conn.Query(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var provider models.AIProvider
			if err := rows.Scan(&provider.ID, &provider.ProviderName, &provider.ModelName, &provider.APIKey,
				&provider.BaseURL, &provider.Temperature, &provider.MaxTokens,
				&provider.CostPer1KInput, &provider.CostPer1KOutput,
				&provider.Limits.RequestsPerMinute, &provider.Limits.RequestsPerDay,
				&provider.Limits.TokensPerMinute, &provider.Limits.TokensPerDay,
				&provider.IsActive, &provider.IsDefault, &provider.CreatedAt); err != nil {
				return err
			}
			plaintext, err := s.Keyring.Open(provider.APIKey)
			if err != nil {
				s.Logger.Warn("provider key cannot be opened, provider disabled",
					zap.Int64("provider_id", provider.ID), zap.Error(err))
				continue
			}
			provider.APIKey = plaintext
			items = append(items, provider)
		}
		return rows.Err()
	})
	return items, err
}

func (s *Store) DeleteProvider(ctx context.Context, id int64) error {
	return s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `DELETE FROM ai_providers WHERE id=$1`, id)
		return err
	})
}
