package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"vitalwatch/internal/logger"
	"vitalwatch/internal/models"
)

var (
	ErrNotDirectory = errors.New("data path is not a directory")
	ErrNoDataFiles  = errors.New("no .csv or .txt files found")
)

// LoadDir reads every .csv and .txt file in dir into dst. Each line is
// patientId,value,kind,timestampMillis. Lines with the wrong number of
// fields are skipped; lines that fail to parse or validate are an error.
// It returns the number of readings loaded.
func LoadDir(ctx context.Context, dir string, dst Appender) (int, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to open data dir %s: %w", dir, err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list data dir %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".csv", ".txt":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoDataFiles, dir)
	}

	log := logger.WithComponent("loader")
	total := 0
	for _, path := range files {
		readings, err := readFile(path)
		if err != nil {
			return total, err
		}
		if err := dst.AppendBatch(ctx, readings); err != nil {
			return total, fmt.Errorf("failed to store readings from %s: %w", path, err)
		}
		total += len(readings)
		log.Debug().Str("file", path).Int("readings", len(readings)).Msg("loaded data file")
	}

	log.Info().Int("files", len(files)).Int("readings", total).Msg("data directory loaded")
	return total, nil
}

func readFile(path string) ([]models.Reading, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var out []models.Reading
	for line := 1; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if len(rec) != 4 {
			continue
		}

		reading, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, reading)
	}
	return out, nil
}

func parseRecord(rec []string) (models.Reading, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
	if err != nil {
		return models.Reading{}, fmt.Errorf("invalid value %q: %w", rec[1], err)
	}
	kind, err := models.ParseKind(rec[2])
	if err != nil {
		return models.Reading{}, err
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(rec[3]), 10, 64)
	if err != nil {
		return models.Reading{}, fmt.Errorf("invalid timestamp %q: %w", rec[3], err)
	}

	reading := models.NewReading(strings.TrimSpace(rec[0]), kind, value, ts)
	if err := reading.Validate(); err != nil {
		return models.Reading{}, err
	}
	return reading, nil
}
