package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"vitalwatch/internal/models"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "hr.csv", "1,72.0,HeartRate,1700000000000\n1,130.0,HeartRate,1700000001000\n")
	writeFile(t, dir, "sat.txt", "2,97.5,Saturation,1700000000000\nheader only\n")
	writeFile(t, dir, "notes.md", "1,72.0,HeartRate,1700000000000\n")

	m := NewMemory()
	n, err := LoadDir(context.Background(), dir, m)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 readings, got %d", n)
	}

	got, _ := m.Records(context.Background(), "1", 0, 1<<62)
	if len(got) != 2 || got[1].Value != 130 || got[1].Kind != models.KindHeartRate {
		t.Errorf("unexpected readings for patient 1: %+v", got)
	}
}

func TestLoadDir_Missing(t *testing.T) {
	_, err := LoadDir(context.Background(), filepath.Join(t.TempDir(), "nope"), NewMemory())
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestLoadDir_NotDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.csv", "")

	_, err := LoadDir(context.Background(), filepath.Join(dir, "a.csv"), NewMemory())
	if !errors.Is(err, ErrNotDirectory) {
		t.Errorf("expected ErrNotDirectory, got %v", err)
	}
}

func TestLoadDir_NoDataFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "readme.md", "nothing")

	_, err := LoadDir(context.Background(), dir, NewMemory())
	if !errors.Is(err, ErrNoDataFiles) {
		t.Errorf("expected ErrNoDataFiles, got %v", err)
	}
}

func TestLoadDir_BadLine(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.csv", "1,abc,HeartRate,1700000000000\n")

	_, err := LoadDir(context.Background(), dir, NewMemory())
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadDir_UnknownKind(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.csv", "1,36.6,Temperature,1700000000000\n")

	_, err := LoadDir(context.Background(), dir, NewMemory())
	if !errors.Is(err, models.ErrInvalidKind) {
		t.Errorf("expected ErrInvalidKind, got %v", err)
	}
}
