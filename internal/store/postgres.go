package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/telemetry"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS telemetry (
	id          BIGSERIAL PRIMARY KEY,
	device_id   TEXT             NOT NULL,
	site_id     TEXT             NOT NULL,
	sensor_ts   TIMESTAMPTZ      NOT NULL,
	created_at  TIMESTAMPTZ      NOT NULL DEFAULT now(),
	temperature DOUBLE PRECISION NOT NULL,
	humidity    DOUBLE PRECISION NOT NULL,
	pressure    DOUBLE PRECISION,
	extra       JSONB
);
CREATE INDEX IF NOT EXISTS telemetry_device_ts_idx ON telemetry (device_id, sensor_ts DESC);
CREATE INDEX IF NOT EXISTS telemetry_ts_idx ON telemetry (sensor_ts DESC);
CREATE INDEX IF NOT EXISTS telemetry_created_idx ON telemetry (created_at);
`

// PostgresStore ukládá měření do PostgreSQL (případně TimescaleDB).
type PostgresStore struct {
	pool *pgxpool.Pool // Pool spojení, thread-safe
}

// NewPostgresStore vytvoří pool, ověří spojení (Ping) a založí tabulku.
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("chyba konfigurace DB: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("DB není dostupná: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrace schématu selhala: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Append(ctx context.Context, r telemetry.Reading) error {
	extra, err := encodeExtra(r.Measurements.Extra)
	if err != nil {
		return err
	}

	query := `INSERT INTO telemetry (device_id, site_id, sensor_ts, temperature, humidity, pressure, extra)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = s.pool.Exec(ctx, query,
		r.DeviceID, r.SiteID, r.Timestamp,
		r.Measurements.Temperature, r.Measurements.Humidity, r.Measurements.Pressure, extra)
	if err != nil {
		return fmt.Errorf("chyba insertu do PG: %w", err)
	}
	return nil
}

func (s *PostgresStore) QueryRange(ctx context.Context, device string, since time.Time, limit int) ([]telemetry.Reading, error) {
	query := `SELECT device_id, site_id, sensor_ts, temperature, humidity, pressure, extra
		FROM telemetry
		WHERE sensor_ts >= $1 AND ($2 = 'all' OR device_id = $2)
		` + historyOrder + `
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, since, device, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("chyba načítání historie: %w", err)
	}
	defer rows.Close()

	out := make([]telemetry.Reading, 0, 100)
	for rows.Next() {
		r, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chyba načítání historie: %w", err)
	}

	reverse(out)
	return out, nil
}

func scanPostgres(rows pgx.Rows) (telemetry.Reading, error) {
	var (
		r     telemetry.Reading
		extra []byte
	)
	if err := rows.Scan(&r.DeviceID, &r.SiteID, &r.Timestamp,
		&r.Measurements.Temperature, &r.Measurements.Humidity, &r.Measurements.Pressure, &extra); err != nil {
		return telemetry.Reading{}, err
	}
	r.Timestamp = r.Timestamp.UTC()

	m, err := decodeExtra(extra)
	if err != nil {
		return telemetry.Reading{}, err
	}
	r.Measurements.Extra = m
	return r, nil
}

func (s *PostgresStore) AggregateRange(ctx context.Context, device string, since time.Time) (Aggregate, error) {
	// COALESCE: bez řádků vrací AVG/MIN/MAX NULL, my chceme nuly.
	query := `SELECT COUNT(*),
			COALESCE(AVG(temperature), 0), COALESCE(MIN(temperature), 0), COALESCE(MAX(temperature), 0),
			COALESCE(AVG(humidity), 0), COALESCE(MIN(humidity), 0), COALESCE(MAX(humidity), 0)
		FROM telemetry
		WHERE sensor_ts >= $1 AND ($2 = 'all' OR device_id = $2)`

	var a Aggregate
	err := s.pool.QueryRow(ctx, query, since, device).Scan(&a.Count,
		&a.Temperature.Avg, &a.Temperature.Min, &a.Temperature.Max,
		&a.Humidity.Avg, &a.Humidity.Min, &a.Humidity.Max)
	if err != nil {
		return Aggregate{}, fmt.Errorf("chyba agregace: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM telemetry WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("chyba mazání starých dat: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close uzavře pool při ukončení aplikace.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// encodeExtra vrací nil pro prázdnou mapu, aby sloupec zůstal NULL.
func encodeExtra(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("serializace extra polí: %w", err)
	}
	return b, nil
}

func decodeExtra(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("čtení extra polí: %w", err)
	}
	return m, nil
}
