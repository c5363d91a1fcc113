// Package store keeps the history of finished measurements in SQLite.
// The orchestrator holds no history; callers record each outcome here
// and average across runs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	_ "modernc.org/sqlite"

	"github.com/cjeanneret/RippleGo/internal/logic/measure"
)

type Store struct {
	*sql.DB
}

// Measurement is one stored run result.
type Measurement struct {
	ID             string    `json:"id"`
	DistanceMm     float64   `json:"distance_mm"`
	DensityGPerCm3 float64   `json:"density_g_per_cm3"`
	FrequencyHz    float64   `json:"frequency_hz"`
	WavelengthPx   float64   `json:"wavelength_px"`
	Resolution     float64   `json:"resolution_px_per_m"`
	Tension        float64   `json:"tension_mn_m"`
	SampleCount    int       `json:"sample_count"`
	Attempts       int       `json:"attempts"`
	Failures       int       `json:"failures"`
	CreatedAt      time.Time `json:"created_at"`
}

// Summary aggregates the tension of a set of measurements.
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean_mn_m"`
	StdDev float64 `json:"std_dev_mn_m"`
	Min    float64 `json:"min_mn_m"`
	Max    float64 `json:"max_mn_m"`
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS measurements (
			id                TEXT PRIMARY KEY,
			distance_mm       DOUBLE NOT NULL,
			density           DOUBLE,
			frequency_hz      DOUBLE NOT NULL,
			wavelength_px     DOUBLE NOT NULL,
			resolution        DOUBLE NOT NULL,
			tension           DOUBLE NOT NULL,
			sample_count      INTEGER NOT NULL,
			attempts          INTEGER NOT NULL,
			failures          INTEGER NOT NULL,
			created_at        INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_measurements_created ON measurements(created_at);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db}, nil
}

// FromOutcome converts a completed run into a Measurement.
func FromOutcome(out measure.Outcome) (Measurement, error) {
	if out.State != measure.Complete || out.Result == nil {
		return Measurement{}, fmt.Errorf("run %s is %v, not complete", out.RunID, out.State)
	}
	created := out.FinishedAt
	if created.IsZero() {
		created = time.Now()
	}
	return Measurement{
		ID:             out.RunID,
		DistanceMm:     out.Params.DistanceMm,
		DensityGPerCm3: out.Params.DensityGPerCm3,
		FrequencyHz:    out.Params.FrequencyHz,
		WavelengthPx:   out.Wavelength,
		Resolution:     out.Resolution,
		Tension:        out.Result.Value,
		SampleCount:    out.Result.SampleCount,
		Attempts:       out.Attempts,
		Failures:       out.Failures,
		CreatedAt:      created,
	}, nil
}

// Record inserts m and returns its id, generating one when m.ID is empty.
func (s *Store) Record(ctx context.Context, m Measurement) (string, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.ExecContext(ctx, `
		INSERT INTO measurements (
			id, distance_mm, density, frequency_hz, wavelength_px, resolution,
			tension, sample_count, attempts, failures, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.DistanceMm, m.DensityGPerCm3, m.FrequencyHz, m.WavelengthPx, m.Resolution,
		m.Tension, m.SampleCount, m.Attempts, m.Failures, m.CreatedAt.UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("record measurement %s: %w", m.ID, err)
	}
	return m.ID, nil
}

// Recent returns up to limit measurements, newest first. A limit <= 0
// returns every row.
func (s *Store) Recent(ctx context.Context, limit int) ([]Measurement, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.QueryContext(ctx, `
		SELECT id, distance_mm, density, frequency_hz, wavelength_px, resolution,
			tension, sample_count, attempts, failures, created_at
		FROM measurements
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Measurement
	for rows.Next() {
		var m Measurement
		var density sql.NullFloat64
		var created int64
		if err := rows.Scan(&m.ID, &m.DistanceMm, &density, &m.FrequencyHz, &m.WavelengthPx,
			&m.Resolution, &m.Tension, &m.SampleCount, &m.Attempts, &m.Failures, &created); err != nil {
			return nil, err
		}
		m.DensityGPerCm3 = density.Float64
		m.CreatedAt = time.Unix(0, created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Get returns the measurement with the given id.
func (s *Store) Get(ctx context.Context, id string) (Measurement, error) {
	var m Measurement
	var density sql.NullFloat64
	var created int64
	err := s.QueryRowContext(ctx, `
		SELECT id, distance_mm, density, frequency_hz, wavelength_px, resolution,
			tension, sample_count, attempts, failures, created_at
		FROM measurements WHERE id = ?`, id).Scan(
		&m.ID, &m.DistanceMm, &density, &m.FrequencyHz, &m.WavelengthPx,
		&m.Resolution, &m.Tension, &m.SampleCount, &m.Attempts, &m.Failures, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return m, fmt.Errorf("measurement %s not found: %w", id, err)
	}
	if err != nil {
		return m, err
	}
	m.DensityGPerCm3 = density.Float64
	m.CreatedAt = time.Unix(0, created)
	return m, nil
}

// Summary aggregates the tension of the latest limit measurements.
func (s *Store) Summary(ctx context.Context, limit int) (Summary, error) {
	rows, err := s.Recent(ctx, limit)
	if err != nil {
		return Summary{}, err
	}
	values := make([]float64, len(rows))
	for i, m := range rows {
		values[i] = m.Tension
	}
	return Summarize(values), nil
}

// Summarize computes count, mean, sample standard deviation and range of
// values. The deviation is zero for fewer than two values.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	sum := Summary{
		Count: len(values),
		Min:   floats.Min(values),
		Max:   floats.Max(values),
	}
	if len(values) == 1 {
		sum.Mean = values[0]
		return sum
	}
	sum.Mean, sum.StdDev = stat.MeanStdDev(values, nil)
	return sum
}

// Average is the arithmetic mean of values, zero when empty.
func Average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}
