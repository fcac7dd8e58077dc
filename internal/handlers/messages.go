package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"support-triage/backend/internal/models"
)

type ingestRequest struct {
	Channel   string                 `json:"channel"`
	UserID    string                 `json:"user_id"`
	Text      string                 `json:"text"`
	Timestamp *time.Time             `json:"timestamp"`
	ThreadID  *string                `json:"thread_id"`
	Context   *models.MessageContext `json:"context"`
}

// IngestMessage accepts an inbound support message, persists it as pending,
// and queues it for an automation cycle. The HTTP path only acknowledges
// receipt; triage happens asynchronously.
func (a *API) IngestMessage(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Channel == "" || req.UserID == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "channel, user_id and text are required")
		return
	}

	now := time.Now().UTC()
	timestamp := now
	if req.Timestamp != nil {
		timestamp = req.Timestamp.UTC()
	}
	msg := models.Message{
		ID:        uuid.NewString(),
		Channel:   req.Channel,
		UserID:    req.UserID,
		Text:      req.Text,
		Timestamp: timestamp,
		ThreadID:  req.ThreadID,
		Status:    models.StatusPending,
		Context:   req.Context,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.Store.InsertMessage(r.Context(), &msg); err != nil {
		a.Logger.Error("insert message", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store message")
		return
	}
	if err := a.Queue.Enqueue(r.Context(), msg.ID); err != nil {
		// The message is persisted; a later retry or a manual re-enqueue can
		// still pick it up.
		a.Logger.Error("enqueue message", zap.String("message_id", msg.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to queue message")
		return
	}
	writeJSON(w, http.StatusAccepted, msg)
}

func (a *API) ListMessages(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePagination(r)
	status := models.MessageStatus(r.URL.Query().Get("status"))
	messages, err := a.Store.ListMessages(r.Context(), status, limit, (page-1)*limit)
	if err != nil {
		a.Logger.Error("list messages", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"page":     page,
		"limit":    limit,
	})
}

func (a *API) GetMessage(w http.ResponseWriter, r *http.Request, id string) {
	msg, err := a.Store.GetMessage(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	history, err := a.Store.ListStatusChanges(r.Context(), id)
	if err != nil {
		a.Logger.Warn("list status changes", zap.String("message_id", id), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":        msg,
		"status_history": history,
	})
}

// RetryMessage re-submits a failed message. Any other status is rejected, the
// state machine only allows failed -> pending.
func (a *API) RetryMessage(w http.ResponseWriter, r *http.Request, id string) {
	msg, err := a.Store.GetMessage(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if msg.Status != models.StatusFailed {
		writeError(w, http.StatusConflict, "only failed messages can be retried")
		return
	}
	if err := a.Engine.Retry(r.Context(), msg); err != nil {
		a.Logger.Error("retry message", zap.String("message_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to retry message")
		return
	}
	if err := a.Queue.Enqueue(r.Context(), msg.ID); err != nil {
		a.Logger.Error("enqueue retried message", zap.String("message_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to queue message")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (a *API) ListMessageResponses(w http.ResponseWriter, r *http.Request, id string) {
	responses, err := a.Store.ListResponses(r.Context(), id)
	if err != nil {
		a.Logger.Error("list responses", zap.String("message_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list responses")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"responses": responses})
}
