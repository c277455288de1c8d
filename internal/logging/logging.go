// Package logging staví strukturovaný JSON logger (slog) pro všechny služby.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ParseLevel převede LOG_LEVEL na slog.Level. Neznámá hodnota je chyba konfigurace.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New vytvoří JSON logger, který píše do všech writerů najednou (např. Stdout + MQTT).
func New(level slog.Level, service string, writers ...io.Writer) *slog.Logger {
	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", service)
}

// Publisher je podmnožina mqtt.Client, kterou writer potřebuje.
// Díky tomu jde writer testovat bez brokera.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MqttLogWriter implementuje rozhraní io.Writer.
// Vše, co se do něj zapíše, se odešle do MQTT na topic logs/<služba>.
type MqttLogWriter struct {
	client Publisher
	topic  string
}

// NewMqttLogWriter vytvoří novou instanci writeru.
func NewMqttLogWriter(client Publisher, serviceName string) *MqttLogWriter {
	return &MqttLogWriter{
		client: client,
		topic:  LogTopic(serviceName),
	}
}

// LogTopic vrací topic, kam služba posílá logy. Log collector poslouchá logs/#.
func LogTopic(serviceName string) string {
	return fmt.Sprintf("logs/%s", serviceName)
}

// Write je metoda vyžadovaná rozhraním io.Writer.
// slog ji zavolá pokaždé, když chce něco zalogovat.
func (w *MqttLogWriter) Write(p []byte) (n int, err error) {
	// Payload musíme zkopírovat, protože 'p' slog po návratu recykluje.
	payload := make([]byte, len(p))
	copy(payload, p)

	// Token.Wait() NEVOLÁME, aby logování nezpomalovalo aplikaci (fire-and-forget).
	// Když broker zrovna neběží, log se ztratí jen z MQTT, na Stdout zůstane.
	w.client.Publish(w.topic, 0, false, payload)

	return len(p), nil
}
