package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Registruje driver "sqlite" (čisté Go, bez cgo).
	_ "modernc.org/sqlite"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/telemetry"
)

// Časy ukládáme jako unix nanosekundy: porovnání v SQL je pak číselné a přesné.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS telemetry (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id   TEXT    NOT NULL,
	site_id     TEXT    NOT NULL,
	sensor_ts   INTEGER NOT NULL,
	created_at  INTEGER NOT NULL,
	temperature REAL    NOT NULL,
	humidity    REAL    NOT NULL,
	pressure    REAL,
	extra       TEXT
);
CREATE INDEX IF NOT EXISTS telemetry_device_ts_idx ON telemetry (device_id, sensor_ts DESC);
CREATE INDEX IF NOT EXISTS telemetry_ts_idx ON telemetry (sensor_ts DESC);
CREATE INDEX IF NOT EXISTS telemetry_created_idx ON telemetry (created_at);
`

// SQLiteStore je vestavěné úložiště pro lokální běh bez Postgresu.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore otevře (nebo vytvoří) databázový soubor. ":memory:" pro testy.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("chyba otevření SQLite: %w", err)
	}

	// Jedno fyzické spojení: SQLite neumí souběžné zápisy a ":memory:"
	// by s víc spojeními znamenalo víc různých databází.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("SQLite %s: %w", p, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrace schématu selhala: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, r telemetry.Reading) error {
	extra, err := encodeExtra(r.Measurements.Extra)
	if err != nil {
		return err
	}
	var extraText sql.NullString
	if extra != nil {
		extraText = sql.NullString{String: string(extra), Valid: true}
	}
	var pressure sql.NullFloat64
	if r.Measurements.Pressure != nil {
		pressure = sql.NullFloat64{Float64: *r.Measurements.Pressure, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO telemetry (device_id, site_id, sensor_ts, created_at, temperature, humidity, pressure, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.DeviceID, r.SiteID, r.Timestamp.UnixNano(), s.now().UnixNano(),
		r.Measurements.Temperature, r.Measurements.Humidity, pressure, extraText)
	if err != nil {
		return fmt.Errorf("chyba insertu do SQLite: %w", err)
	}
	return nil
}

func (s *SQLiteStore) QueryRange(ctx context.Context, device string, since time.Time, limit int) ([]telemetry.Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, site_id, sensor_ts, temperature, humidity, pressure, extra
		FROM telemetry
		WHERE sensor_ts >= ? AND (? = 'all' OR device_id = ?)
		` + historyOrder + `
		LIMIT ?`,
		since.UnixNano(), device, device, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("chyba načítání historie: %w", err)
	}
	defer rows.Close()

	out := make([]telemetry.Reading, 0, 100)
	for rows.Next() {
		var (
			r        telemetry.Reading
			ts       int64
			pressure sql.NullFloat64
			extra    sql.NullString
		)
		if err := rows.Scan(&r.DeviceID, &r.SiteID, &ts,
			&r.Measurements.Temperature, &r.Measurements.Humidity, &pressure, &extra); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		if pressure.Valid {
			p := pressure.Float64
			r.Measurements.Pressure = &p
		}
		if extra.Valid {
			if r.Measurements.Extra, err = decodeExtra([]byte(extra.String)); err != nil {
				return nil, err
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chyba načítání historie: %w", err)
	}

	reverse(out)
	return out, nil
}

func (s *SQLiteStore) AggregateRange(ctx context.Context, device string, since time.Time) (Aggregate, error) {
	var a Aggregate
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(AVG(temperature), 0), COALESCE(MIN(temperature), 0), COALESCE(MAX(temperature), 0),
			COALESCE(AVG(humidity), 0), COALESCE(MIN(humidity), 0), COALESCE(MAX(humidity), 0)
		FROM telemetry
		WHERE sensor_ts >= ? AND (? = 'all' OR device_id = ?)`,
		since.UnixNano(), device, device).Scan(&a.Count,
		&a.Temperature.Avg, &a.Temperature.Min, &a.Temperature.Max,
		&a.Humidity.Avg, &a.Humidity.Min, &a.Humidity.Max)
	if err != nil {
		return Aggregate{}, fmt.Errorf("chyba agregace: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM telemetry WHERE created_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("chyba mazání starých dat: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
