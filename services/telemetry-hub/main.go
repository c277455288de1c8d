// Telemetry hub: odebírá telemetrii z MQTT, validuje ji, vyhodnocuje alerty,
// ukládá do DB a živě ji rozesílá prohlížečům přes WebSocket.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/alert"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/api"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/config"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/health"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/hub"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/ingest"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/logging"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/metrics"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/presence"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/store"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/transport"
)

const serviceName = "telemetry-hub"

const (
	retentionInterval = time.Hour
	healthInterval    = 30 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func main() {
	// 1. Načtení Konfigurace
	// Chybějící broker nebo DB je fatální: bez nich nemá smysl běžet.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Neplatná konfigurace", "error", err)
		os.Exit(1)
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		slog.Error("Neplatná konfigurace", "error", err)
		os.Exit(1)
	}

	// 2. Logger, metriky, inbox
	logger := logging.New(level, serviceName, os.Stdout)
	met := metrics.New()
	inbox := ingest.NewInbox(cfg.IngestQueueSize, met)

	// 3. MQTT klient. Problém slepice-vejce: MqttLogWriter potřebuje klienta,
	// klient potřebuje logger. Klient proto loguje jen na stdout.
	mq := transport.New(cfg, inbox, logger, met)
	if cfg.LogToMQTT {
		logger = logging.New(level, serviceName, os.Stdout, logging.NewMqttLogWriter(mq.MQTT(), serviceName))
	}
	slog.SetDefault(logger)
	logger.Info("Spouštím službu Telemetry Hub", "config", cfg.Redacted())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Úložiště (Postgres nebo SQLite, volitelně Valkey cache)
	st, err := store.Open(ctx, store.Options{
		Driver:      cfg.StoreDriver,
		PostgresURL: cfg.PostgresURL,
		SQLitePath:  cfg.SQLitePath,
		ValkeyAddr:  cfg.ValkeyAddr,
	}, logger)
	if err != nil {
		logger.Error("Kritická chyba: Nelze se připojit k DB", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// 5. Pravidla alertů
	evaluator, err := alert.NewEvaluator(alert.DefaultRules(cfg.AlertTempThreshold))
	if err != nil {
		logger.Error("Neplatná výchozí pravidla alertů", "error", err)
		os.Exit(1)
	}
	if cfg.AlertRulesFile != "" {
		if err := evaluator.LoadFile(cfg.AlertRulesFile); err != nil {
			logger.Error("Nelze načíst pravidla alertů", "file", cfg.AlertRulesFile, "error", err)
			os.Exit(1)
		}
	}
	logger.Info("Pravidla alertů aktivní", "rules", len(evaluator.Rules()))

	// 6. Skupiny, router, přítomnost, WebSocket
	groups := hub.NewManager(logger, met)
	router := hub.NewRouter(groups)
	tracker := presence.NewTracker(cfg.PresenceTimeout)

	wsCfg := hub.DefaultServerConfig()
	wsCfg.AllowedOrigin = cfg.ClientURL
	ws := hub.NewServer(groups, tracker, wsCfg, logger)

	// 7. Ukládání na pozadí a zpracovací smyčka
	persister := ingest.NewPersister(st, cfg.IngestQueueSize, cfg.PersistWorkers, logger, met)
	persister.Start()

	pipeline := ingest.NewPipeline(ingest.Deps{
		Inbox:     inbox,
		Evaluator: evaluator,
		Persister: persister,
		Router:    router,
		Presence:  tracker,
		Logger:    logger,
		Metrics:   met,
	})
	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		_ = pipeline.Run(ctx)
	}()

	go tracker.Run(ctx, sweepInterval(cfg.PresenceTimeout), func(snap presence.Snapshot, expired []string) {
		logger.Info("Zařízení offline (ticho)", "devices", expired)
		pipeline.PresenceChanged(snap)
	})
	go store.RunRetention(ctx, st, cfg.Retention, retentionInterval, logger, met)

	collector := health.NewCollector("/", logger)
	go collector.Run(ctx, healthInterval)

	// 8. MQTT připojení. Odběr obnovuje OnConnect po každém reconnectu.
	if err := mq.Connect(); err != nil {
		logger.Error("Fatal MQTT Error", "error", err)
		os.Exit(1)
	}

	// 9. HTTP server (REST API + WebSocket + metriky)
	handler := api.NewAPIHandler(api.Deps{
		Store:      st,
		Rules:      evaluator,
		RulesFile:  cfg.AlertRulesFile,
		Health:     collector,
		Metrics:    met.Handler(),
		WebSocket:  ws,
		ClientURL:  cfg.ClientURL,
		JWTSecret:  cfg.JWTSecret,
		Production: cfg.Production(),
		Logger:     logger,
	})
	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server naslouchá", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server spadl", "error", err)
			stop()
		}
	}()

	// 10. Graceful Shutdown
	<-ctx.Done()
	logger.Info("Ukončuji službu...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	mq.Disconnect()
	if err := ws.Shutdown(shutdownCtx); err != nil {
		logger.Warn("WebSocket klienti se nestihli odpojit", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server se nestihl ukončit", "error", err)
	}

	// Pipeline dojede, pak persister dopíše frontu a zavře se DB (defer).
	<-pipelineDone
	persister.Close()
	logger.Info("Služba ukončena")
}

// sweepInterval: kontrolujeme třikrát za okno ticha, nejvýš jednou za sekundu.
func sweepInterval(timeout time.Duration) time.Duration {
	return max(timeout/3, time.Second)
}
