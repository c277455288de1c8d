// System monitor: periodicky měří hostitele (CPU, RAM, disk) a snímek
// publikuje do MQTT jako JSON.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/health"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/logging"
)

const serviceName = "system-monitor"

func main() {
	// 1. Načtení Konfigurace
	cfg, err := LoadConfig()
	if err != nil {
		slog.Error("Neplatná konfigurace", "error", err)
		os.Exit(1)
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		slog.Error("Neplatná konfigurace", "error", err)
		os.Exit(1)
	}

	// 2. MQTT klient DŘÍVE než logger, pokud logujeme i do MQTT.
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetConnectTimeout(4 * time.Second).
		SetAutoReconnect(true)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		slog.Error("Selhalo připojení k MQTT", "error", token.Error())
		os.Exit(1) // Bez MQTT nemá smysl běžet
	}
	defer client.Disconnect(250)

	logger := logging.New(level, serviceName, os.Stdout)
	if cfg.LogToMQTT {
		logger = logging.New(level, serviceName, os.Stdout, logging.NewMqttLogWriter(client, serviceName))
	}
	logger.Info("Startuji System Monitor", "interval", cfg.Interval, "topic", cfg.StatsTopic)

	collector := health.NewCollector(cfg.DiskPath, logger)

	// Snímek posíláme jako retained: nový odběratel hned vidí poslední stav.
	publish := func(ctx context.Context) {
		stats := collector.Collect(ctx)
		payload, err := json.Marshal(stats)
		if err != nil {
			logger.Error("Chyba serializace snímku", "error", err)
			return
		}
		token := client.Publish(cfg.StatsTopic, 0, true, payload)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			logger.Error("Chyba při publikaci do MQTT", "error", token.Error())
			return
		}
		logger.Debug("Snímek odeslán", "cpu", stats.CPULoad, "ramUsedMB", stats.RamUsedMB)
	}

	// 3. Graceful Shutdown přes context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// OKAMŽITÉ ODESLÁNÍ PŘI STARTU, nečekáme na první tik.
	publish(ctx)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	// 4. Hlavní smyčka
	for {
		select {
		case <-ctx.Done():
			logger.Info("Přijat signál ukončení, vypínám...")
			return
		case <-ticker.C:
			publish(ctx)
		}
	}
}
