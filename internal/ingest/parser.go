package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"vitalwatch/internal/models"
)

// ErrMalformedMessage is returned for lines that are not four comma-separated fields
var ErrMalformedMessage = errors.New("malformed stream message")

// ParseMessage parses one stream line of the form
// patientId,timestampMillis,kind,value
func ParseMessage(line string) (models.Reading, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 4 {
		return models.Reading{}, fmt.Errorf("%w: expected 4 fields, got %d", ErrMalformedMessage, len(parts))
	}

	id := strings.TrimSpace(parts[0])
	if id == "" {
		return models.Reading{}, models.ErrEmptyPatientID
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return models.Reading{}, fmt.Errorf("%w: timestamp %q", ErrMalformedMessage, parts[1])
	}

	kind, err := models.ParseKind(parts[2])
	if err != nil {
		return models.Reading{}, fmt.Errorf("%w: %q", err, strings.TrimSpace(parts[2]))
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
	if err != nil {
		return models.Reading{}, fmt.Errorf("%w: value %q", ErrMalformedMessage, parts[3])
	}

	r := models.NewReading(id, kind, value, ts)
	if err := r.Validate(); err != nil {
		return models.Reading{}, err
	}
	return r, nil
}
