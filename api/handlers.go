package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"deepwork/app"
	"deepwork/internal/errors"
	"deepwork/models"
)

type startRequest struct {
	PlannedMinutes int    `json:"planned_minutes"`
	MentalState    string `json:"mental_state"`
	TaskLabel      string `json:"task_label"`
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput("malformed request body"))
		return
	}

	result, err := a.sessions.Start(r.Context(), app.StartRequest{
		UserID:         userFrom(r),
		PlannedMinutes: req.PlannedMinutes,
		MentalState:    models.MentalState(req.MentalState),
		TaskLabel:      req.TaskLabel,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type heartbeatRequest struct {
	Idle      bool            `json:"idle"`
	TabHidden bool            `json:"tab_hidden"`
	Event     *heartbeatEvent `json:"event,omitempty"`
}

type heartbeatEvent struct {
	Kind     string          `json:"kind"`
	Metadata models.Metadata `json:"metadata,omitempty"`
}

func (a *App) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput("malformed request body"))
		return
	}

	hbReq := app.HeartbeatRequest{
		UserID:    userFrom(r),
		Idle:      req.Idle,
		TabHidden: req.TabHidden,
	}
	if req.Event != nil {
		hbReq.Event = &app.HeartbeatEvent{
			Kind:     models.EventKind(req.Event.Kind),
			Metadata: req.Event.Metadata,
		}
	}

	result, err := a.sessions.Heartbeat(r.Context(), hbReq)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type endRequest struct {
	Outcome string `json:"outcome"`
	Boosted bool   `json:"boosted"`
}

func (a *App) handleEnd(w http.ResponseWriter, r *http.Request) {
	var req endRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput("malformed request body"))
		return
	}

	result, err := a.sessions.End(r.Context(), app.EndRequest{
		UserID:  userFrom(r),
		Outcome: models.SessionStatus(req.Outcome),
		Boosted: req.Boosted,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *App) handleActive(w http.ResponseWriter, r *http.Request) {
	state, err := a.sessions.Active(r.Context(), userFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if state == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"active": true, "session": state})
}

func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	sessions, err := a.sessions.History(r.Context(), userFrom(r), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (a *App) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30)
	aggregates, err := a.sessions.DailyStats(r.Context(), userFrom(r), days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"days": aggregates})
}

func (a *App) handleInsights(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30)
	insights, err := a.insights.Compute(r.Context(), userFrom(r), days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, insights)
}

func (a *App) handleExport(w http.ResponseWriter, r *http.Request) {
	filename := fmt.Sprintf("focus-history-%s.xlsx", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))

	if err := a.exporter.Export(r.Context(), userFrom(r), w); err != nil {
		// Headers are already out; all that's left is logging
		a.logger.Error("history export failed for user %s: %v", userFrom(r), err)
	}
}

// writeJSON serializes a response body with the given status
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps application error codes onto HTTP statuses
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetCode(err) {
	case errors.CodeInvalidInput:
		status = http.StatusBadRequest
	case errors.CodeNoActiveSession, errors.CodeNotFound:
		status = http.StatusNotFound
	case errors.CodePersistenceFailure, errors.CodeStoreUnavailable:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{
		"code":  errors.GetCode(err),
		"error": err.Error(),
	})
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}
