package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"support-triage/backend/internal/models"
	"support-triage/backend/internal/rules"
)

func ruleError(w http.ResponseWriter, err error) bool {
	var confErr *rules.ConfigurationError
	if errors.As(err, &confErr) {
		writeError(w, http.StatusBadRequest, confErr.Error())
		return true
	}
	return false
}

func validAction(action models.RuleAction) bool {
	switch action {
	case models.ActionAutoRespond, models.ActionSuggest, models.ActionEscalate, models.ActionIgnore:
		return true
	}
	return false
}

func (a *API) CreateAutoRule(w http.ResponseWriter, r *http.Request) {
	var rule models.AutoResponseRule
	if err := readJSON(r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if rule.Name == "" || !validAction(rule.Action) {
		writeError(w, http.StatusBadRequest, "name and a valid action are required")
		return
	}
	if err := a.Store.CreateAutoRule(r.Context(), &rule); err != nil {
		if ruleError(w, err) {
			return
		}
		a.Logger.Error("create auto rule", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create rule")
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (a *API) ListAutoRules(w http.ResponseWriter, r *http.Request) {
	items, err := a.Store.ListAutoRules(r.Context())
	if err != nil {
		a.Logger.Error("list auto rules", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": items})
}

func (a *API) UpdateAutoRule(w http.ResponseWriter, r *http.Request, id int64) {
	var rule models.AutoResponseRule
	if err := readJSON(r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if rule.Name == "" || !validAction(rule.Action) {
		writeError(w, http.StatusBadRequest, "name and a valid action are required")
		return
	}
	rule.ID = id
	if err := a.Store.UpdateAutoRule(r.Context(), &rule); err != nil {
		if ruleError(w, err) {
			return
		}
		a.Logger.Error("update auto rule", zap.Int64("rule_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (a *API) DeleteAutoRule(w http.ResponseWriter, r *http.Request, id int64) {
	if err := a.Store.DeleteAutoRule(r.Context(), id); err != nil {
		a.Logger.Error("delete auto rule", zap.Int64("rule_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *API) CreateEscalationRule(w http.ResponseWriter, r *http.Request) {
	var rule models.EscalationRule
	if err := readJSON(r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if rule.Name == "" || rule.EscalateTo == "" {
		writeError(w, http.StatusBadRequest, "name and escalate_to are required")
		return
	}
	if rule.Urgency == "" {
		rule.Urgency = models.UrgencyMedium
	}
	if err := a.Store.CreateEscalationRule(r.Context(), &rule); err != nil {
		if ruleError(w, err) {
			return
		}
		a.Logger.Error("create escalation rule", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create rule")
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (a *API) ListEscalationRules(w http.ResponseWriter, r *http.Request) {
	items, err := a.Store.ListEscalationRules(r.Context())
	if err != nil {
		a.Logger.Error("list escalation rules", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": items})
}

func (a *API) DeleteEscalationRule(w http.ResponseWriter, r *http.Request, id int64) {
	if err := a.Store.DeleteEscalationRule(r.Context(), id); err != nil {
		a.Logger.Error("delete escalation rule", zap.Int64("rule_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
