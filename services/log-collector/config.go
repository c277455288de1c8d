package main

import (
	"os"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/logship"
)

// Config drží veškeré nastavení pro službu Log Collector.
// Hodnoty jdou z Environment proměnných, flagy je mohou přepsat.
type Config struct {
	// MQTTBroker: Adresa brokera (např. tcp://mosquitto:1883)
	MQTTBroker   string
	MQTTUsername string
	MQTTPassword string
	MQTTClientID string

	// LogTopic: Topic, na kterém posloucháme logy (logs/#)
	LogTopic string

	// LogDir: Adresář pro soubory s logy. V Dockeru namapovaný volume.
	LogDir string

	LogLevel string
}

// LoadConfig načte konfiguraci z OS. Pokud proměnná chybí, použije default.
func LoadConfig() Config {
	return Config{
		MQTTBroker:   getEnv("MQTT_BROKER_URL", "tcp://mosquitto:1883"),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "log-collector"),
		LogTopic:     getEnv("LOG_TOPIC", logship.Topic),
		LogDir:       getEnv("LOG_DIR", "/var/log/iot-app"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}
}

// getEnv je pomocná funkce pro bezpečné čtení ENV.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
