package main

import (
	"fmt"
	"os"
	"time"
)

// Config drží nastavení System Monitoru.
type Config struct {
	MQTTBroker   string
	MQTTUsername string
	MQTTPassword string
	MQTTClientID string

	// Topic, kam posíláme snímky (např. "system/rpi-01/stats")
	StatsTopic string

	// Interval měření (např. "60s", "1m")
	Interval time.Duration

	// Oddíl, jehož zaplnění hlídáme
	DiskPath string

	LogLevel  string
	LogToMQTT bool
}

// LoadConfig načte konfiguraci. Špatný formát intervalu je chyba, ne tichý default.
func LoadConfig() (Config, error) {
	host, _ := os.Hostname()
	if host == "" {
		host = "unknown"
	}

	interval, err := time.ParseDuration(getEnv("MONITOR_INTERVAL", "60s"))
	if err != nil || interval <= 0 {
		return Config{}, fmt.Errorf("invalid MONITOR_INTERVAL: %q", getEnv("MONITOR_INTERVAL", ""))
	}

	return Config{
		MQTTBroker:   getEnv("MQTT_BROKER_URL", "tcp://mosquitto:1883"),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "system-monitor"),
		StatsTopic:   getEnv("STATS_TOPIC", "system/"+host+"/stats"),
		Interval:     interval,
		DiskPath:     getEnv("DISK_PATH", "/"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogToMQTT:    getEnv("LOG_TO_MQTT", "false") == "true",
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
