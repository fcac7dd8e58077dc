package router

import (
	"net/http"
	"strings"

	"support-triage/backend/internal/handlers"
	"support-triage/backend/internal/middleware"
	"support-triage/backend/internal/realtime"
)

type Router struct {
	api     *handlers.API
	limiter *middleware.RateLimiter
	origin  string
	hub     *realtime.Hub
}

func New(api *handlers.API, limiter *middleware.RateLimiter, origin string, hub *realtime.Hub) *Router {
	return &Router{api: api, limiter: limiter, origin: origin, hub: hub}
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if middleware.HandleCORS(w, r, rt.origin) {
		return
	}
	middleware.SecurityHeaders(w)

	path := strings.TrimSuffix(r.URL.Path, "/")
	if path == "" {
		path = "/"
	}

	if rt.limiter != nil && strings.HasPrefix(path, "/api/") {
		if !rt.limiter.Allow(middleware.ClientKey(r)) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("{\"error\":\"rate limit exceeded\"}"))
			return
		}
	}

	switch {
	case path == "/healthz":
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("{\"status\":\"ok\"}"))
			return
		}
	case path == "/api/v1/ws":
		if r.Method == http.MethodGet && rt.hub != nil {
			realtime.ServeWS(w, r, rt.hub)
			return
		}
	case path == "/api/v1/messages":
		switch r.Method {
		case http.MethodGet:
			rt.api.ListMessages(w, r)
			return
		case http.MethodPost:
			rt.api.IngestMessage(w, r)
			return
		}
	case strings.HasPrefix(path, "/api/v1/messages/"):
		segments := strings.Split(strings.TrimPrefix(path, "/api/v1/messages/"), "/")
		switch {
		case len(segments) == 1 && segments[0] != "":
			if r.Method == http.MethodGet {
				rt.api.GetMessage(w, r, segments[0])
				return
			}
		case len(segments) == 2 && segments[1] == "retry":
			if r.Method == http.MethodPost {
				rt.api.RetryMessage(w, r, segments[0])
				return
			}
		case len(segments) == 2 && segments[1] == "responses":
			if r.Method == http.MethodGet {
				rt.api.ListMessageResponses(w, r, segments[0])
				return
			}
		}
	case strings.HasPrefix(path, "/api/v1/responses/"):
		segments := strings.Split(strings.TrimPrefix(path, "/api/v1/responses/"), "/")
		switch {
		case len(segments) == 1 && segments[0] != "":
			if r.Method == http.MethodPatch {
				rt.api.EditResponse(w, r, segments[0])
				return
			}
		case len(segments) == 2 && segments[1] == "send":
			if r.Method == http.MethodPost {
				rt.api.SendResponse(w, r, segments[0])
				return
			}
		}
	case path == "/api/v1/rules":
		switch r.Method {
		case http.MethodGet:
			rt.api.ListAutoRules(w, r)
			return
		case http.MethodPost:
			rt.api.CreateAutoRule(w, r)
			return
		}
	case strings.HasPrefix(path, "/api/v1/rules/"):
		if id, ok := handlers.ParseID(strings.TrimPrefix(path, "/api/v1/rules/")); ok {
			switch r.Method {
			case http.MethodPatch:
				rt.api.UpdateAutoRule(w, r, id)
				return
			case http.MethodDelete:
				rt.api.DeleteAutoRule(w, r, id)
				return
			}
		}
	case path == "/api/v1/escalation-rules":
		switch r.Method {
		case http.MethodGet:
			rt.api.ListEscalationRules(w, r)
			return
		case http.MethodPost:
			rt.api.CreateEscalationRule(w, r)
			return
		}
	case strings.HasPrefix(path, "/api/v1/escalation-rules/"):
		if id, ok := handlers.ParseID(strings.TrimPrefix(path, "/api/v1/escalation-rules/")); ok {
			if r.Method == http.MethodDelete {
				rt.api.DeleteEscalationRule(w, r, id)
				return
			}
		}
	case path == "/api/v1/prompts":
		switch r.Method {
		case http.MethodGet:
			rt.api.ListPrompts(w, r)
			return
		case http.MethodPost:
			rt.api.CreatePrompt(w, r)
			return
		}
	case strings.HasPrefix(path, "/api/v1/prompts/"):
		if id, ok := handlers.ParseID(strings.TrimPrefix(path, "/api/v1/prompts/")); ok {
			if r.Method == http.MethodDelete {
				rt.api.DeletePrompt(w, r, id)
				return
			}
		}
	case path == "/api/v1/providers":
		switch r.Method {
		case http.MethodGet:
			rt.api.ListProviders(w, r)
			return
		case http.MethodPost:
			rt.api.CreateProvider(w, r)
			return
		}
	case strings.HasPrefix(path, "/api/v1/providers/"):
		if id, ok := handlers.ParseID(strings.TrimPrefix(path, "/api/v1/providers/")); ok {
			if r.Method == http.MethodDelete {
				rt.api.DeleteProvider(w, r, id)
				return
			}
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("{\"error\":\"not found\"}"))
}
