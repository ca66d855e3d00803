package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestWithPatientAddsFields(t *testing.T) {
	var buf bytes.Buffer
	prev := Logger
	Logger = zerolog.New(&buf)
	defer func() { Logger = prev }()

	log := WithPatient("engine", "42")
	log.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log line: %v", err)
	}
	if entry["component"] != "engine" {
		t.Errorf("component: got %v", entry["component"])
	}
	if entry["patient_id"] != "42" {
		t.Errorf("patient_id: got %v", entry["patient_id"])
	}
}

func TestInitFallsBackToInfo(t *testing.T) {
	prev := Logger
	defer func() {
		Logger = prev
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	}()

	Init("not-a-level")

	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("expected info level, got %s", zerolog.GlobalLevel())
	}
}
