// Package config načítá nastavení telemetry hubu z ENV proměnných.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrMissing vrací Load, pokud chybí povinná proměnná.
// Bez brokera nebo databáze nemá smysl startovat v polovičním stavu.
var ErrMissing = errors.New("missing required configuration")

// Config drží konfiguraci celé služby.
// Používáme princip 12-Factor App - konfigurace je oddělená od kódu v ENV proměnných.
type Config struct {
	// MQTT Konfigurace
	MQTTBrokerURL  string
	MQTTUsername   string
	MQTTPassword   string
	MQTTClientID   string
	TelemetryTopic string // Wildcard topic s měřeními (site/+/device/+/telemetry)
	StatusTopic    string // Wildcard topic pro last-will zprávy zařízení

	// Databázová Konfigurace
	StoreDriver string // "postgres" nebo "sqlite"
	PostgresURL string
	SQLitePath  string
	ValkeyAddr  string // Prázdné = cache poslední hodnoty je vypnutá

	// Alerty
	AlertTempThreshold float64
	AlertRulesFile     string

	// Retention: jak dlouho držíme historii (default 30 dní).
	Retention time.Duration

	// HTTP / WebSocket
	HTTPPort  string
	ClientURL string // Povolený origin pro prohlížeč (CORS + WebSocket)
	JWTSecret string

	// Pipeline
	PresenceTimeout time.Duration
	IngestQueueSize int
	PersistWorkers  int

	// App Konfigurace
	AppEnv    string
	LogLevel  string
	LogToMQTT bool
}

// Production vrací true, pokud nesmíme klientům ukazovat detail chyb.
func (c Config) Production() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// Load načte nastavení. Volitelné proměnné mají bezpečný default,
// povinné (broker, DB URL) vrací chybu a main musí skončit.
func Load() (Config, error) {
	cfg := Config{
		MQTTBrokerURL:  getEnv("MQTT_BROKER_URL", ""),
		MQTTUsername:   getEnv("MQTT_USERNAME", ""),
		MQTTPassword:   getEnv("MQTT_PASSWORD", ""),
		MQTTClientID:   getEnv("MQTT_CLIENT_ID", "iot_backend_"+uuid.NewString()[:8]),
		TelemetryTopic: getEnv("TELEMETRY_TOPIC", "site/+/device/+/telemetry"),
		StatusTopic:    getEnv("STATUS_TOPIC", "site/+/device/+/status"),

		StoreDriver: strings.ToLower(strings.TrimSpace(getEnv("STORE_DRIVER", "postgres"))),
		PostgresURL: getEnv("POSTGRES_URL", ""),
		SQLitePath:  getEnv("SQLITE_PATH", "telemetry.db"),
		ValkeyAddr:  getEnv("VALKEY_ADDR", ""),

		AlertRulesFile: getEnv("ALERT_RULES_FILE", ""),

		HTTPPort:  getEnv("PORT", "3001"),
		ClientURL: getEnv("CLIENT_URL", "http://localhost:5173"),
		JWTSecret: getEnv("JWT_SECRET", ""),

		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if cfg.MQTTBrokerURL == "" {
		return Config{}, fmt.Errorf("%w: MQTT_BROKER_URL", ErrMissing)
	}

	switch cfg.StoreDriver {
	case "postgres":
		if cfg.PostgresURL == "" {
			return Config{}, fmt.Errorf("%w: POSTGRES_URL (STORE_DRIVER=postgres)", ErrMissing)
		}
	case "sqlite":
		if cfg.SQLitePath == "" {
			return Config{}, fmt.Errorf("%w: SQLITE_PATH (STORE_DRIVER=sqlite)", ErrMissing)
		}
	default:
		return Config{}, fmt.Errorf("unsupported STORE_DRIVER %q (postgres|sqlite)", cfg.StoreDriver)
	}

	// Typované hodnoty: špatný formát je chyba konfigurace, ne tichý fallback.
	var err error
	if cfg.AlertTempThreshold, err = getFloat("ALERT_TEMP_THRESHOLD", 35); err != nil {
		return Config{}, err
	}
	if cfg.Retention, err = getDuration("RETENTION", 30*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.PresenceTimeout, err = getDuration("PRESENCE_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.IngestQueueSize, err = getInt("INGEST_QUEUE_SIZE", 1024); err != nil {
		return Config{}, err
	}
	if cfg.PersistWorkers, err = getInt("PERSIST_WORKERS", 4); err != nil {
		return Config{}, err
	}
	if cfg.LogToMQTT, err = getBool("LOG_TO_MQTT", false); err != nil {
		return Config{}, err
	}

	if cfg.IngestQueueSize <= 0 || cfg.PersistWorkers <= 0 {
		return Config{}, errors.New("INGEST_QUEUE_SIZE and PERSIST_WORKERS must be positive")
	}
	if cfg.Retention <= 0 || cfg.PresenceTimeout <= 0 {
		return Config{}, errors.New("RETENTION and PRESENCE_TIMEOUT must be positive")
	}

	return cfg, nil
}

// Redacted vrací kopii bez hesel, aby šla zalogovat při startu.
func (c Config) Redacted() Config {
	if c.MQTTPassword != "" {
		c.MQTTPassword = "***"
	}
	if c.JWTSecret != "" {
		c.JWTSecret = "***"
	}
	if c.PostgresURL != "" {
		c.PostgresURL = redactURL(c.PostgresURL)
	}
	return c
}

func redactURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}
	return raw[:scheme+3] + "***" + raw[at:]
}

// getEnv je pomocná funkce pro DRY (Don't Repeat Yourself).
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, raw, err)
	}
	return v, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, raw, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, raw, err)
	}
	return v, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s=%q: %w", key, raw, err)
	}
	return v, nil
}
