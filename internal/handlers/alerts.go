package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"vitalwatch/internal/models"
)

// DefaultManualMessage is used when a manual alert carries no message
const DefaultManualMessage = "Manual alert raised by operator"

// ManualAlerter raises alerts outside the rule engine
type ManualAlerter interface {
	ManualAlert(ctx context.Context, alert models.AlertEvent) error
}

// StateReader reports the stored alert flag of a patient
type StateReader interface {
	Get(ctx context.Context, patientID string) (bool, error)
}

// AlertsHandler serves the manual alert and alert state endpoints
type AlertsHandler struct {
	alerter ManualAlerter
	state   StateReader
	now     func() time.Time
}

func NewAlertsHandler(alerter ManualAlerter, state StateReader) *AlertsHandler {
	return &AlertsHandler{alerter: alerter, state: state, now: time.Now}
}

// ManualAlertRequest is the body of POST /alerts/manual. Timestamp is unix
// milliseconds and defaults to now.
type ManualAlertRequest struct {
	PatientID string `json:"patient_id"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	Priority  string `json:"priority"`
}

// Manual handles POST /alerts/manual
func (h *AlertsHandler) Manual(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var req ManualAlertRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.PatientID = strings.TrimSpace(req.PatientID)
	if req.PatientID == "" {
		writeError(w, http.StatusBadRequest, models.ErrEmptyPatientID.Error())
		return
	}

	priority := models.Priority(strings.ToUpper(req.Priority))
	switch priority {
	case models.PriorityNone, models.PriorityLow, models.PriorityHigh, models.PriorityCritical:
	default:
		writeError(w, http.StatusBadRequest, "priority must be LOW, HIGH or CRITICAL")
		return
	}

	if req.Message == "" {
		req.Message = DefaultManualMessage
	}
	if req.Timestamp == 0 {
		req.Timestamp = h.now().UnixMilli()
	}

	alert := models.AlertEvent{
		PatientID: req.PatientID,
		Message:   req.Message,
		Timestamp: req.Timestamp,
		Priority:  priority,
	}
	if err := h.alerter.ManualAlert(r.Context(), alert); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"success": true})
}

// PatientState handles GET /patients/{id}/alert
func (h *AlertsHandler) PatientState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, models.ErrEmptyPatientID.Error())
		return
	}

	alerting, err := h.state.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"patient_id": id,
		"alerting":   alerting,
	})
}
