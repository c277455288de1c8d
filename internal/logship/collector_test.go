package logship

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func newCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(filepath.Join(t.TempDir(), "iot-app"), slog.New(slog.NewJSONHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func TestServiceOf(t *testing.T) {
	svc, err := ServiceOf("logs/telemetry-hub")
	require.NoError(t, err)
	assert.Equal(t, "telemetry-hub", svc)

	svc, err = ServiceOf("logs/device-simulator/info")
	require.NoError(t, err)
	assert.Equal(t, "device-simulator", svc)

	for _, bad := range []string{"logs", "logs/", "metrics/hub", "logs/..", `logs/a\b`} {
		_, err := ServiceOf(bad)
		assert.ErrorIs(t, err, ErrBadTopic, bad)
	}
}

func TestAppend_OneLinePerMessage(t *testing.T) {
	c := newCollector(t)

	require.NoError(t, c.Append("logs/telemetry-hub", []byte(`{"msg":"a"}`)))
	require.NoError(t, c.Append("logs/telemetry-hub", []byte(`{"msg":"b"}`+"\n")))
	require.NoError(t, c.Append("logs/device-simulator", []byte(`{"msg":"c"}`)))

	data, err := os.ReadFile(c.Path("telemetry-hub"))
	require.NoError(t, err)
	assert.Equal(t, "{\"msg\":\"a\"}\n{\"msg\":\"b\"}\n", string(data))

	data, err = os.ReadFile(c.Path("device-simulator"))
	require.NoError(t, err)
	assert.Equal(t, "{\"msg\":\"c\"}\n", string(data))
}

func TestHandler_IgnoresBadTopic(t *testing.T) {
	c := newCollector(t)
	h := c.Handler()

	h(nil, &fakeMessage{topic: "logs", payload: []byte("x")})
	h(nil, &fakeMessage{topic: "logs/telemetry-hub", payload: []byte("ok")})

	entries, err := os.ReadDir(c.dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "telemetry-hub.log", entries[0].Name())
}

func TestAppend_Concurrent(t *testing.T) {
	c := newCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Append("logs/telemetry-hub", []byte("line")))
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(c.Path("telemetry-hub"))
	require.NoError(t, err)
	assert.Len(t, data, 50*len("line\n"))
}
