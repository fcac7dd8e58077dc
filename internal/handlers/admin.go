package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"support-triage/backend/internal/models"
)

func (a *API) CreatePrompt(w http.ResponseWriter, r *http.Request) {
	var prompt models.PromptTemplate
	if err := readJSON(r, &prompt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if prompt.Name == "" || prompt.Content == "" {
		writeError(w, http.StatusBadRequest, "name and content are required")
		return
	}
	if err := a.Store.CreatePrompt(r.Context(), &prompt); err != nil {
		a.Logger.Error("create prompt", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create prompt")
		return
	}
	writeJSON(w, http.StatusCreated, prompt)
}

func (a *API) ListPrompts(w http.ResponseWriter, r *http.Request) {
	items, err := a.Store.ListPrompts(r.Context())
	if err != nil {
		a.Logger.Error("list prompts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list prompts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prompts": items})
}

func (a *API) DeletePrompt(w http.ResponseWriter, r *http.Request, id int64) {
	if err := a.Store.DeletePrompt(r.Context(), id); err != nil {
		a.Logger.Error("delete prompt", zap.Int64("prompt_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete prompt")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type createProviderRequest struct {
	ProviderName    string           `json:"provider_name"`
	ModelName       string           `json:"model_name"`
	APIKey          string           `json:"api_key"`
	BaseURL         *string          `json:"base_url"`
	Temperature     float64          `json:"temperature"`
	MaxTokens       int              `json:"max_tokens"`
	CostPer1KInput  float64          `json:"cost_per_1k_input"`
	CostPer1KOutput float64          `json:"cost_per_1k_output"`
	Limits          models.RateLimit `json:"limits"`
	IsActive        bool             `json:"is_active"`
	IsDefault       bool             `json:"is_default"`
}

func (a *API) CreateProvider(w http.ResponseWriter, r *http.Request) {
	var req createProviderRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProviderName == "" || req.ModelName == "" || req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "provider_name, model_name and api_key are required")
		return
	}
	provider := models.AIProvider{
		ProviderName:    req.ProviderName,
		ModelName:       req.ModelName,
		APIKey:          req.APIKey,
		BaseURL:         req.BaseURL,
		Temperature:     req.Temperature,
		MaxTokens:       req.MaxTokens,
		CostPer1KInput:  req.CostPer1KInput,
		CostPer1KOutput: req.CostPer1KOutput,
		Limits:          req.Limits,
		IsActive:        req.IsActive,
		IsDefault:       req.IsDefault,
	}
	if err := a.Store.CreateProvider(r.Context(), &provider); err != nil {
		a.Logger.Error("create provider", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create provider")
		return
	}
	// The key never leaves the server after creation.
	writeJSON(w, http.StatusCreated, provider)
}

func (a *API) ListProviders(w http.ResponseWriter, r *http.Request) {
	items, err := a.Store.ListProviders(r.Context(), false)
	if err != nil {
		a.Logger.Error("list providers", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list providers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": items})
}

func (a *API) DeleteProvider(w http.ResponseWriter, r *http.Request, id int64) {
	if err := a.Store.DeleteProvider(r.Context(), id); err != nil {
		a.Logger.Error("delete provider", zap.Int64("provider_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete provider")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
