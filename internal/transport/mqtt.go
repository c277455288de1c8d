// Package transport drží MQTT spojení na broker.
//
// Handler zpráv jen odloží zprávu do inboxu a vrátí se; veškerá práce
// (validace, alerty, ukládání, broadcast) běží ve zpracovací smyčce.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/config"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/ingest"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/metrics"
)

// QoS pro odběr: at-least-once, duplikáty snese idempotentní zobrazení.
const subscribeQoS byte = 1

const (
	connectTimeout       = 4 * time.Second
	maxReconnectInterval = 30 * time.Second
	disconnectQuiesce    = 250 // ms
)

// Client je MQTT odběratel telemetrie a statusů.
type Client struct {
	client mqtt.Client
	topics []string
	inbox  *ingest.Inbox

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New připraví klienta. Spojení se naváže až v Connect.
// m může být nil.
func New(cfg config.Config, inbox *ingest.Inbox, logger *slog.Logger, m *metrics.Metrics) *Client {
	c := &Client{
		inbox:   inbox,
		logger:  logger,
		metrics: m,
	}
	for _, t := range []string{cfg.TelemetryTopic, cfg.StatusTopic} {
		if t != "" {
			c.topics = append(c.topics, t)
		}
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBrokerURL).
		SetClientID(cfg.MQTTClientID).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Second).
		SetMaxReconnectInterval(maxReconnectInterval).
		// Handler běží přímo v routeru paho, zprávy jdou do inboxu v pořadí příchodu.
		SetOrderMatters(true).
		SetDefaultPublishHandler(c.handleMessage).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetReconnectingHandler(c.onReconnecting)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect naváže spojení. S ConnectRetry paho zkouší dál na pozadí,
// takže chyba tady znamená jen timeout prvního pokusu.
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		c.logger.Warn("MQTT broker zatím nedostupný, zkouším dál na pozadí")
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT connect: %w", err)
	}
	return nil
}

// Disconnect ukončí spojení.
func (c *Client) Disconnect() {
	c.client.Disconnect(disconnectQuiesce)
	c.setConnected(false)
}

// MQTT vrací paho klienta, např. pro MqttLogWriter.
func (c *Client) MQTT() mqtt.Client {
	return c.client
}

// Topics vrací odebírané topicy.
func (c *Client) Topics() []string {
	return c.topics
}

// onConnect se volá po každém (i obnoveném) spojení.
// Odběr obnovujeme vždy, čistá session o něj přichází.
func (c *Client) onConnect(client mqtt.Client) {
	c.setConnected(true)
	c.logger.Info("Připojeno k MQTT")

	filters := make(map[string]byte, len(c.topics))
	for _, t := range c.topics {
		filters[t] = subscribeQoS
	}
	token := client.SubscribeMultiple(filters, nil)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			c.logger.Error("Subscribe selhal", "topics", c.topics, "error", err)
			return
		}
		c.logger.Info("Poslouchám na topicu", "topics", c.topics)
	}()
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.setConnected(false)
	c.logger.Warn("Spojení s MQTT ztraceno", "error", err)
}

func (c *Client) onReconnecting(_ mqtt.Client, _ *mqtt.ClientOptions) {
	c.logger.Info("Znovu se připojuji k MQTT")
	if c.metrics != nil {
		c.metrics.MQTTReconnects.Inc()
	}
}

// handleMessage běží v routeru paho. Nesmí blokovat: jen kopie do inboxu.
func (c *Client) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	// Payload musíme zkopírovat, paho buffer může recyklovat.
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())

	dropped := c.inbox.Push(ingest.Message{
		Topic:      msg.Topic(),
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	})
	if dropped {
		c.logger.Warn("Inbox je plný, nejstarší zpráva zahozena", "topic", msg.Topic())
	}
}

func (c *Client) setConnected(up bool) {
	if c.metrics == nil {
		return
	}
	if up {
		c.metrics.MQTTConnected.Set(1)
	} else {
		c.metrics.MQTTConnected.Set(0)
	}
}

// ErrNotConnected vrací Publish, když broker není dostupný.
var ErrNotConnected = errors.New("mqtt client not connected")

// Publish odešle zprávu a počká na potvrzení. Používá ho simulátor.
func Publish(client mqtt.Client, topic string, qos byte, retained bool, payload []byte, timeout time.Duration) error {
	if !client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish %s: timeout after %s", topic, timeout)
	}
	return token.Error()
}
