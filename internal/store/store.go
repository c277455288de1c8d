// Package store je perzistentní vrstva pro měření.
//
// Zbytek aplikace neví, jak se píše SQL, jen volá metody rozhraní Store.
// Implementace: PostgresStore (pgx, produkce) a SQLiteStore (modernc,
// lokální vývoj a testy). Volitelně je obalí CachedStore, který drží
// poslední hodnotu každého zařízení ve Valkey.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/telemetry"
)

// AllDevices je hodnota filtru zařízení, která znamená "bez filtru".
const AllDevices = "all"

// MaxHistory je horní limit řádků, které vrací QueryRange.
const MaxHistory = 1000

// historyOrder řadí historii od nejnovějšího; při shodném čase senzoru
// rozhoduje pořadí zápisu. Sdílí ho obě implementace.
const historyOrder = "ORDER BY sensor_ts DESC, id DESC"

var (
	// ErrCacheUpdate znamená, že historie je zapsaná, ale cache posledních hodnot ne.
	ErrCacheUpdate = errors.New("latest cache update failed")

	// ErrNotFound vrací Latest pro zařízení bez dat.
	ErrNotFound = errors.New("no data for device")
)

// Stats jsou souhrnné hodnoty jedné veličiny.
type Stats struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Aggregate je výsledek AggregateRange. Bez dat jsou všechna pole nulová.
type Aggregate struct {
	Count       int64 `json:"count"`
	Temperature Stats `json:"temperature"`
	Humidity    Stats `json:"humidity"`
}

// Store je rozhraní úložiště, které volá pipeline a read API.
type Store interface {
	// Append uloží jedno zvalidované měření.
	Append(ctx context.Context, r telemetry.Reading) error

	// QueryRange vrací nejnovějších max. limit měření s časem senzoru >= since,
	// seřazená chronologicky (nejstarší první). device "all" = všechna zařízení.
	QueryRange(ctx context.Context, device string, since time.Time, limit int) ([]telemetry.Reading, error)

	// AggregateRange spočítá count/avg/min/max teploty a vlhkosti.
	AggregateRange(ctx context.Context, device string, since time.Time) (Aggregate, error)

	// Purge smaže měření přijatá před okamžikem before. Vrací počet smazaných.
	Purge(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

// LatestReader umí vrátit poslední měření zařízení (jen s cache).
type LatestReader interface {
	Latest(ctx context.Context, deviceID string) (telemetry.Reading, error)
}

// Options vybírají a konfigurují implementaci.
type Options struct {
	Driver      string // postgres | sqlite
	PostgresURL string
	SQLitePath  string
	ValkeyAddr  string // prázdné = bez cache
}

// Open otevře úložiště podle Options a ověří spojení.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Store, error) {
	var (
		s   Store
		err error
	)

	switch opts.Driver {
	case "postgres":
		s, err = NewPostgresStore(ctx, opts.PostgresURL)
	case "sqlite":
		s, err = NewSQLiteStore(ctx, opts.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("Úložiště připojeno", "driver", opts.Driver)

	if opts.ValkeyAddr == "" {
		return s, nil
	}

	cache, err := NewLatestCache(ctx, opts.ValkeyAddr)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	logger.Info("Valkey cache připojena", "addr", opts.ValkeyAddr)
	return NewCachedStore(s, cache), nil
}

// clampLimit omezí limit na (0, MaxHistory].
func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxHistory {
		return MaxHistory
	}
	return limit
}

// reverse otočí výsledek dotazu (DESC) na chronologické pořadí.
func reverse(rs []telemetry.Reading) {
	for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
		rs[i], rs[j] = rs[j], rs[i]
	}
}
