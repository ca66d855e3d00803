package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"vitalwatch/internal/metrics"
	"vitalwatch/internal/models"
)

// IngestHandler accepts readings over HTTP and queues them for the worker pool
type IngestHandler struct {
	readings    chan<- models.Reading
	maxBodySize int64
}

// IngestConfig holds configuration for the ingest handler
type IngestConfig struct {
	Readings    chan<- models.Reading
	MaxBodySize int64
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(cfg IngestConfig) *IngestHandler {
	maxBodySize := cfg.MaxBodySize
	if maxBodySize == 0 {
		maxBodySize = 10 * 1024 * 1024 // 10MB default
	}

	return &IngestHandler{
		readings:    cfg.Readings,
		maxBodySize: maxBodySize,
	}
}

// IngestRequest is the incoming JSON payload (single or batch)
type IngestRequest struct {
	Reading  *ReadingInput  `json:"reading,omitempty"`
	Readings []ReadingInput `json:"readings,omitempty"`
}

// ReadingInput is the wire form of a reading. Timestamp may be unix
// milliseconds or a date string.
type ReadingInput struct {
	PatientID string  `json:"patient_id"`
	Kind      string  `json:"kind"`
	Value     float64 `json:"value"`
	Timestamp any     `json:"timestamp"`
}

// IngestResponse is the response returned to clients
type IngestResponse struct {
	Success  bool          `json:"success"`
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	Errors   []IngestError `json:"errors,omitempty"`
}

// IngestError describes why one reading was rejected
type IngestError struct {
	Index     int    `json:"index"`
	PatientID string `json:"patient_id,omitempty"`
	Error     string `json:"error"`
}

func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" && contentType != "" {
		writeError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	inputs, err := parseBody(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(inputs) == 0 {
		writeError(w, http.StatusBadRequest, "no readings provided")
		return
	}
	metrics.IngestBatchSize.Observe(float64(len(inputs)))

	response := h.processReadings(inputs)

	status := http.StatusOK
	if response.Rejected > 0 && response.Accepted == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, response)
}

// parseBody accepts {"reading":{}}, {"readings":[]}, a bare array or a bare reading
func parseBody(body []byte) ([]ReadingInput, error) {
	var req IngestRequest
	if err := json.Unmarshal(body, &req); err == nil {
		if len(req.Readings) > 0 {
			return req.Readings, nil
		}
		if req.Reading != nil {
			return []ReadingInput{*req.Reading}, nil
		}
	}

	var inputs []ReadingInput
	if err := json.Unmarshal(body, &inputs); err == nil && len(inputs) > 0 {
		return inputs, nil
	}

	var single ReadingInput
	if err := json.Unmarshal(body, &single); err == nil && single.PatientID != "" {
		return []ReadingInput{single}, nil
	}

	return nil, errors.New("invalid JSON format: expected reading object or array of readings")
}

func (h *IngestHandler) processReadings(inputs []ReadingInput) IngestResponse {
	var response IngestResponse

	reject := func(i int, id string, err error, errorType string) {
		response.Errors = append(response.Errors, IngestError{Index: i, PatientID: id, Error: err.Error()})
		response.Rejected++
		metrics.IngestValidationErrors.WithLabelValues(errorType).Inc()
		metrics.IngestReadingsTotal.WithLabelValues("http", "rejected").Inc()
	}

	for i, input := range inputs {
		reading, err := convertInput(input)
		if err != nil {
			reject(i, input.PatientID, err, "timestamp")
			continue
		}

		reading = reading.Normalize()
		if err := reading.Validate(); err != nil {
			reject(i, reading.PatientID, err, "validation")
			continue
		}

		select {
		case h.readings <- reading:
			response.Accepted++
			metrics.IngestReadingsTotal.WithLabelValues("http", "accepted").Inc()
		default:
			reject(i, reading.PatientID, errors.New("internal queue full, try again later"), "queue_full")
		}
	}

	response.Success = response.Rejected == 0
	return response
}

func convertInput(input ReadingInput) (models.Reading, error) {
	var ts int64
	switch v := input.Timestamp.(type) {
	case float64:
		ts = int64(v)
	case string:
		parsed, err := models.ParseTimestamp(v)
		if err != nil {
			return models.Reading{}, fmt.Errorf("timestamp: %w", err)
		}
		ts = parsed
	case nil:
		return models.Reading{}, fmt.Errorf("timestamp: %w", models.ErrZeroTimestamp)
	default:
		return models.Reading{}, fmt.Errorf("timestamp: %w", models.ErrInvalidTimestamp)
	}

	return models.NewReading(input.PatientID, models.Kind(input.Kind), input.Value, ts), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
