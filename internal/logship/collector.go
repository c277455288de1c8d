// Package logship sbírá logy služeb z MQTT (logs/<služba>) a zapisuje je
// do souborů <dir>/<služba>.log.
package logship

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Topic je odběr collectoru: všechno pod logs/.
const Topic = "logs/#"

// ErrBadTopic vrací Append pro topic, ze kterého nejde vyčíst název služby.
var ErrBadTopic = errors.New("log topic must be logs/<service>")

// Collector zapisuje přijaté logy do souborů.
type Collector struct {
	dir    string
	logger *slog.Logger

	// Zápisy do jednoho souboru serializujeme, aby se řádky nepromíchaly.
	mu sync.Mutex
}

// NewCollector připraví adresář pro logy (včetně podadresářů).
func NewCollector(dir string, logger *slog.Logger) (*Collector, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("nelze vytvořit adresář pro logy: %w", err)
	}
	return &Collector{dir: dir, logger: logger}, nil
}

// ServiceOf vytáhne název služby z topicu: "logs/telemetry-hub" -> "telemetry-hub".
func ServiceOf(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || parts[0] != "logs" || parts[1] == "" {
		return "", ErrBadTopic
	}
	// Název jde do cesty k souboru, nesmí z adresáře utéct.
	if parts[1] == "." || parts[1] == ".." || strings.ContainsAny(parts[1], `\`) {
		return "", ErrBadTopic
	}
	return parts[1], nil
}

// Path vrací soubor služby.
func (c *Collector) Path(service string) string {
	return filepath.Join(c.dir, service+".log")
}

// Append připíše jeden log na konec souboru služby.
// Pattern Open-Write-Close pro každý zápis: snese rotaci logů zvenku.
func (c *Collector) Append(topic string, payload []byte) error {
	service, err := ServiceOf(topic)
	if err != nil {
		return fmt.Errorf("%w: %q", err, topic)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.OpenFile(c.Path(service), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	// MQTT payload nový řádek mít nemusí (slog ho má, jiné zdroje ne).
	line := payload
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(append(make([]byte, 0, len(payload)+1), payload...), '\n')
	}
	_, err = f.Write(line)
	return err
}

// Handler vrací MQTT callback. Chyba zápisu jednu zprávu zahodí, služba jede dál.
func (c *Collector) Handler() mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		if err := c.Append(msg.Topic(), msg.Payload()); err != nil {
			if errors.Is(err, ErrBadTopic) {
				c.logger.Warn("Ignoruji zprávu se špatným formátem topicu", "topic", msg.Topic())
				return
			}
			c.logger.Error("Chyba při zápisu do souboru", "topic", msg.Topic(), "error", err)
		}
	}
}
