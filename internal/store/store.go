package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"support-triage/backend/internal/classifier"
	"support-triage/backend/internal/crypto"
	"support-triage/backend/internal/db"
	"support-triage/backend/internal/models"
)

// Store is the persistence layer behind the automation engine and the HTTP
// surface. It implements the engine's collaborator contracts; the engine
// itself never touches SQL.
type Store struct {
	DB            *db.Store
	Keyring       *crypto.Keyring
	ClassifierCfg classifier.Config
	Logger        *zap.Logger
}

func New(database *db.Store, keyring *crypto.Keyring, classifierCfg classifier.Config, logger *zap.Logger) *Store {
	return &Store{DB: database, Keyring: keyring, ClassifierCfg: classifierCfg, Logger: logger}
}

const messageColumns = `id, channel, user_id, text, timestamp, thread_id, category, priority, status, context_json, created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (models.Message, error) {
	var msg models.Message
	var contextJSON *string
	if err := row.Scan(&msg.ID, &msg.Channel, &msg.UserID, &msg.Text, &msg.Timestamp, &msg.ThreadID,
		&msg.Category, &msg.Priority, &msg.Status, &contextJSON, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
		return msg, err
	}
	if contextJSON != nil && *contextJSON != "" {
		var enrichment models.MessageContext
		if err := json.Unmarshal([]byte(*contextJSON), &enrichment); err == nil {
			msg.Context = &enrichment
		}
	}
	return msg, nil
}

func (s *Store) InsertMessage(ctx context.Context, msg *models.Message) error {
	var contextJSON *string
	if msg.Context != nil {
		encoded, err := json.Marshal(msg.Context)
		if err != nil {
			return err
		}
		value := string(encoded)
		contextJSON = &value
	}
	return s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO messages (`+messageColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (id) DO NOTHING`,
			msg.ID, msg.Channel, msg.UserID, msg.Text, msg.Timestamp, msg.ThreadID,
			msg.Category, msg.Priority, msg.Status, contextJSON, msg.CreatedAt, msg.UpdatedAt)
		return err
	})
}

func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	err := s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		row := conn.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, id)
		var scanErr error
		msg, scanErr = scanMessage(row)
		return scanErr
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *Store) ListMessages(ctx context.Context, status models.MessageStatus, limit, offset int) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	items := []models.Message{}
	err := s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		query := `SELECT ` + messageColumns + ` FROM messages`
		args := []any{}
		if status != "" {
			query += ` WHERE status=$1`
			args = append(args, status)
		}
		query += ` ORDER BY timestamp DESC LIMIT ` + itoa(limit) + ` OFFSET ` + itoa(offset)
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			msg, err := scanMessage(rows)
			if err != nil {
				return err
			}
			items = append(items, msg)
		}
		return rows.Err()
	})
	return items, err
}

// SaveClassification persists the classifier's category/priority verdict.
func (s *Store) SaveClassification(ctx context.Context, msg *models.Message) error {
	return s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
			UPDATE messages SET category=$1, priority=$2, updated_at=$3 WHERE id=$4`,
			msg.Category, msg.Priority, time.Now().UTC(), msg.ID)
		return err
	})
}

// ErrStaleStatus is returned when a transition's starting status no longer
// matches the stored row. The caller acted on a stale copy of the message.
var ErrStaleStatus = errors.New("message status changed concurrently")

// OnStatusChange applies a status transition and appends it to the audit
// trail in one transaction, so a recorded change is never lost. The update is
// a compare-and-set on the previous status: a concurrent transition wins and
// this one fails with ErrStaleStatus instead of overwriting it.
func (s *Store) OnStatusChange(ctx context.Context, msg *models.Message, previous models.MessageStatus, reason string) error {
	return s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		tx, err := conn.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		tag, err := tx.Exec(ctx, `
			UPDATE messages SET status=$1, updated_at=$2 WHERE id=$3 AND status=$4`,
			msg.Status, msg.UpdatedAt, msg.ID, previous)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrStaleStatus
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO status_changes (message_id, previous_status, new_status, reason, created_at)
			VALUES ($1,$2,$3,$4,$5)`,
			msg.ID, previous, msg.Status, reason, time.Now().UTC()); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

func (s *Store) ListProcessing(ctx context.Context) ([]models.Message, error) {
	items := []models.Message{}
	err := s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+messageColumns+` FROM messages WHERE status=$1`, models.StatusProcessing)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			msg, err := scanMessage(rows)
			if err != nil {
				return err
			}
			items = append(items, msg)
		}
		return rows.Err()
	})
	return items, err
}

// ThreadHistory returns earlier messages in the same thread, oldest first.
func (s *Store) ThreadHistory(ctx context.Context, msg *models.Message, limit int) ([]string, error) {
	if msg.ThreadID == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	history := []string{}
	err := s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT text FROM messages
			WHERE thread_id=$1 AND id != $2 AND timestamp < $3
			ORDER BY timestamp ASC
			LIMIT `+itoa(limit), *msg.ThreadID, msg.ID, msg.Timestamp)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var text string
			if err := rows.Scan(&text); err != nil {
				return err
			}
			history = append(history, text)
		}
		return rows.Err()
	})
	return history, err
}

func (s *Store) ListStatusChanges(ctx context.Context, messageID string) ([]models.StatusChange, error) {
	items := []models.StatusChange{}
	err := s.DB.WithConn(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT id, message_id, previous_status, new_status, reason, created_at
			FROM status_changes WHERE message_id=$1 ORDER BY created_at ASC`, messageID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var change models.StatusChange
			if err := rows.Scan(&change.ID, &change.MessageID, &change.Previous, &change.New, &change.Reason, &change.CreatedAt); err != nil {
				return err
			}
			items = append(items, change)
		}
		return rows.Err()
	})
	return items, err
}

func itoa(value int) string {
	return strconv.Itoa(value)
}
