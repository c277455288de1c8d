package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/alert"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/presence"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/telemetry"
)

func sampleReading(device string) telemetry.Reading {
	return telemetry.Reading{
		DeviceID:     device,
		SiteID:       "site-01",
		Timestamp:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Measurements: telemetry.Measurements{Temperature: 22, Humidity: 45},
	}
}

func TestRoute_GlobalAndDeviceGroupOnly(t *testing.T) {
	m := newManager()
	global, dev2, dev3, idle := newFake("g"), newFake("d2"), newFake("d3"), newFake("idle")
	for _, f := range []*fakeSender{global, dev2, dev3, idle} {
		m.Register(f)
	}
	m.Join("g", GlobalGroup)
	m.Join("d2", "dev-002")
	m.Join("d3", "dev-003")

	n := NewRouter(m).Route(sampleReading("dev-002"), nil, time.Now())
	assert.Equal(t, 2, n)

	assert.Len(t, global.events(t), 1)
	assert.Len(t, dev2.events(t), 1)
	assert.Empty(t, dev3.events(t))
	assert.Empty(t, idle.events(t))
}

func TestRoute_NoBackfillForLateJoiners(t *testing.T) {
	m := newManager()
	late := newFake("late")
	m.Register(late)

	NewRouter(m).Route(sampleReading("dev-001"), nil, time.Now())
	m.Join("late", GlobalGroup)
	assert.Empty(t, late.events(t))
}

func TestRoute_DeviceNamedAllDeliveredOnce(t *testing.T) {
	m := newManager()
	g := newFake("g")
	m.Register(g)
	m.Join("g", GlobalGroup)

	assert.Equal(t, 1, NewRouter(m).Route(sampleReading(GlobalGroup), nil, time.Now()))
	assert.Len(t, g.events(t), 1)
}

func TestRoute_EnvelopeShape(t *testing.T) {
	m := newManager()
	g := newFake("g")
	m.Register(g)
	m.Join("g", GlobalGroup)

	received := time.Date(2024, 1, 1, 0, 0, 2, 0, time.UTC)
	a := &alert.Alert{Kind: "warning", Message: "Device dev-001 high temperature: 40°C", Metric: "temperature", Value: 40}
	NewRouter(m).Route(sampleReading("dev-001"), a, received)

	require.Len(t, g.frames, 1)
	var got struct {
		Event string `json:"event"`
		Data  struct {
			DeviceID        string             `json:"deviceId"`
			SiteID          string             `json:"siteId"`
			Measurements    map[string]float64 `json:"measurements"`
			SensorTimestamp time.Time          `json:"sensorTimestamp"`
			Timestamp       time.Time          `json:"timestamp"`
			Alert           *alert.Alert       `json:"alert"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(g.frames[0], &got))

	assert.Equal(t, EventTelemetry, got.Event)
	assert.Equal(t, "dev-001", got.Data.DeviceID)
	assert.Equal(t, "site-01", got.Data.SiteID)
	assert.Equal(t, map[string]float64{"temperature": 22, "humidity": 45}, got.Data.Measurements)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), got.Data.SensorTimestamp)
	assert.Equal(t, received, got.Data.Timestamp)
	assert.Equal(t, a, got.Data.Alert)
}

func TestRoute_NilAlertIsNull(t *testing.T) {
	env := NewEnvelope(sampleReading("dev-001"), nil, time.Now())
	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"alert":null`)
}

func TestPresence_ReachesEveryViewer(t *testing.T) {
	m := newManager()
	a, b := newFake("a"), newFake("b")
	m.Register(a)
	m.Register(b)
	m.Join("a", "dev-001")

	lastSeen := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	n := NewRouter(m).Presence(presence.Snapshot{"dev-001": {Status: presence.Online, LastSeen: lastSeen}})
	assert.Equal(t, 2, n)

	var got struct {
		Event string                    `json:"event"`
		Data  map[string]presence.Entry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(b.frames[0], &got))
	assert.Equal(t, EventPresence, got.Event)
	assert.Equal(t, presence.Online, got.Data["dev-001"].Status)
	assert.Equal(t, lastSeen, got.Data["dev-001"].LastSeen)
}
