package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"vitalwatch/internal/logger"
	"vitalwatch/internal/models"
)

const schema = `CREATE TABLE IF NOT EXISTS readings (
	id         BIGSERIAL PRIMARY KEY,
	patient_id TEXT NOT NULL,
	kind       TEXT NOT NULL,
	value      DOUBLE PRECISION NOT NULL,
	ts         BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS readings_patient_ts ON readings (patient_id, ts)`

// Postgres stores readings in a single append-only table
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects, pings and creates the schema
func OpenPostgres(ctx context.Context, dsn string, maxConns int) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	p := NewPostgres(db)
	if err := p.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log := logger.WithComponent("storage")
	log.Info().Msg("postgres timeline ready")
	return p, nil
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create readings table: %w", err)
	}
	return nil
}

func (p *Postgres) Append(ctx context.Context, r models.Reading) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO readings (patient_id, kind, value, ts) VALUES ($1, $2, $3, $4)`,
		r.PatientID, string(r.Kind), r.Value, r.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert reading for %s: %w", r.PatientID, err)
	}
	return nil
}

// AppendBatch writes the batch with COPY inside one transaction
func (p *Postgres) AppendBatch(ctx context.Context, readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("readings", "patient_id", "kind", "value", "ts"))
	if err != nil {
		return fmt.Errorf("failed to prepare copy: %w", err)
	}

	for _, r := range readings {
		if _, err := stmt.ExecContext(ctx, r.PatientID, string(r.Kind), r.Value, r.Timestamp); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to copy reading for %s: %w", r.PatientID, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (p *Postgres) Records(ctx context.Context, patientID string, startMillis, endMillis int64) ([]models.Reading, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT patient_id, kind, value, ts FROM readings
		 WHERE patient_id = $1 AND ts >= $2 AND ts <= $3
		 ORDER BY id`,
		patientID, startMillis, endMillis)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings for %s: %w", patientID, err)
	}
	defer rows.Close()

	var out []models.Reading
	for rows.Next() {
		var r models.Reading
		var kind string
		if err := rows.Scan(&r.PatientID, &kind, &r.Value, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.Kind = models.Kind(kind)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read readings for %s: %w", patientID, err)
	}
	return out, nil
}

func (p *Postgres) Patients(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT DISTINCT patient_id FROM readings ORDER BY patient_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan patient id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
