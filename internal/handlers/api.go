package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"support-triage/backend/internal/engine"
	"support-triage/backend/internal/queue"
	"support-triage/backend/internal/realtime"
	"support-triage/backend/internal/store"
)

type API struct {
	Store    *store.Store
	Engine   *engine.Engine
	Queue    *queue.Queue
	Notifier engine.Notifier
	Hub      *realtime.Hub
	Logger   *zap.Logger
}

func NewAPI(st *store.Store, eng *engine.Engine, q *queue.Queue, notifier engine.Notifier, hub *realtime.Hub, logger *zap.Logger) *API {
	return &API{Store: st, Engine: eng, Queue: q, Notifier: notifier, Hub: hub, Logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func readJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func ParseID(pathPart string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(pathPart), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parsePagination(r *http.Request) (int, int) {
	page := 1
	limit := 20
	if value := r.URL.Query().Get("page"); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			page = parsed
		}
	}
	if value := r.URL.Query().Get("limit"); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	return page, limit
}
