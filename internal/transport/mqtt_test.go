package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/config"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/ingest"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/metrics"
)

// fakeMessage implementuje mqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func newClient(t *testing.T, capacity int) (*Client, *ingest.Inbox, *metrics.Metrics) {
	t.Helper()
	met := metrics.New()
	inbox := ingest.NewInbox(capacity, met)
	cfg := config.Config{
		MQTTBrokerURL:  "tcp://127.0.0.1:1",
		MQTTClientID:   "iot_backend_test",
		TelemetryTopic: "site/+/device/+/telemetry",
		StatusTopic:    "site/+/device/+/status",
	}
	return New(cfg, inbox, slog.New(slog.NewJSONHandler(io.Discard, nil)), met), inbox, met
}

func TestHandleMessage_CopiesIntoInbox(t *testing.T) {
	c, inbox, _ := newClient(t, 8)

	payload := []byte(`{"deviceId":"dev-001"}`)
	before := time.Now().UTC()
	c.handleMessage(nil, &fakeMessage{topic: "site/site-01/device/dev-001/telemetry", payload: payload})

	// Paho buffer po návratu přepíše.
	payload[0] = 'X'

	msg, ok := inbox.Pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, "site/site-01/device/dev-001/telemetry", msg.Topic)
	assert.Equal(t, `{"deviceId":"dev-001"}`, string(msg.Payload))
	assert.False(t, msg.ReceivedAt.Before(before))
	assert.Equal(t, time.UTC, msg.ReceivedAt.Location())
}

func TestHandleMessage_FullInboxDropsOldest(t *testing.T) {
	c, inbox, met := newClient(t, 2)

	for _, topic := range []string{"a", "b", "c"} {
		c.handleMessage(nil, &fakeMessage{topic: topic})
	}

	assert.Equal(t, 2, inbox.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(met.InboxDropped))
	msg, _ := inbox.Pop(context.Background())
	assert.Equal(t, "b", msg.Topic)
}

func TestConnectionStateMetrics(t *testing.T) {
	c, _, met := newClient(t, 1)

	c.setConnected(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(met.MQTTConnected))

	c.onConnectionLost(nil, errors.New("EOF"))
	assert.Equal(t, 0.0, testutil.ToFloat64(met.MQTTConnected))

	c.onReconnecting(nil, nil)
	c.onReconnecting(nil, nil)
	assert.Equal(t, 2.0, testutil.ToFloat64(met.MQTTReconnects))
}

func TestTopics(t *testing.T) {
	c, _, _ := newClient(t, 1)
	assert.Equal(t, []string{"site/+/device/+/telemetry", "site/+/device/+/status"}, c.Topics())
}

func TestPublish_NotConnected(t *testing.T) {
	c, _, _ := newClient(t, 1)
	err := Publish(c.MQTT(), "x", 1, false, []byte("y"), time.Second)
	assert.ErrorIs(t, err, ErrNotConnected)
}
