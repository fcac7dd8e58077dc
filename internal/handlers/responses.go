package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"support-triage/backend/internal/models"
	"support-triage/backend/internal/store"
)

type editResponseRequest struct {
	Text string `json:"text"`
}

// EditResponse rewrites a draft before a human sends it. The original text is
// kept for provenance and a sent response cannot be edited.
func (a *API) EditResponse(w http.ResponseWriter, r *http.Request, id string) {
	var req editResponseRequest
	if err := readJSON(r, &req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	response, err := a.Store.EditResponse(r.Context(), id, req.Text)
	if err != nil {
		if errors.Is(err, store.ErrResponseImmutable) {
			writeError(w, http.StatusConflict, "response already sent")
			return
		}
		writeError(w, http.StatusNotFound, "response not found")
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// SendResponse delivers a generated response to its channel and marks it
// sent. This is the human approval path for suggest-mode drafts.
func (a *API) SendResponse(w http.ResponseWriter, r *http.Request, id string) {
	response, err := a.Store.GetResponse(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "response not found")
		return
	}
	if response.Status == models.ResponseSent {
		writeError(w, http.StatusConflict, "response already sent")
		return
	}
	if response.Status != models.ResponseGenerated {
		writeError(w, http.StatusConflict, "response is not ready to send")
		return
	}
	msg, err := a.Store.GetMessage(r.Context(), response.MessageID)
	if err != nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	threadID := ""
	if msg.ThreadID != nil {
		threadID = *msg.ThreadID
	}
	if err := a.Notifier.DeliverResponse(r.Context(), msg.Channel, threadID, response.Text); err != nil {
		a.Logger.Error("deliver response", zap.String("response_id", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, "delivery failed")
		return
	}
	if err := a.Store.MarkResponseSent(r.Context(), id); err != nil {
		a.Logger.Error("mark response sent", zap.String("response_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update response")
		return
	}
	response.Status = models.ResponseSent
	writeJSON(w, http.StatusOK, response)
}
