package simulator

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/telemetry"
)

func TestDefaultProfiles(t *testing.T) {
	profiles := DefaultProfiles()
	require.Len(t, profiles, 3)

	assert.Equal(t, "site/site-01/device/dev-001/telemetry", profiles[0].TelemetryTopic())
	assert.Equal(t, "site/site-02/device/dev-003/status", profiles[2].StatusTopic())
}

func TestFluctuate_StaysInBand(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	b := Band{Base: 22, Variance: 2}

	for i := 0; i < 1000; i++ {
		v := Fluctuate(rng, b)
		assert.GreaterOrEqual(t, v, 20.0)
		assert.LessOrEqual(t, v, 24.0)
		assert.InDelta(t, math.Round(v*100), v*100, 1e-6, "two decimals")
	}
}

// Vygenerovaný payload musí projít validací hubu.
func TestPayload_PassesValidation(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	for _, p := range DefaultProfiles() {
		body, err := Payload(p, now, rng)
		require.NoError(t, err)

		r, err := telemetry.ParseAndValidate(p.TelemetryTopic(), body)
		require.NoError(t, err, string(body))
		assert.Equal(t, p.DeviceID, r.DeviceID)
		assert.Equal(t, p.SiteID, r.SiteID)
		assert.Equal(t, now, r.Timestamp)
		assert.InDelta(t, p.Temp.Base, r.Measurements.Temperature, p.Temp.Variance)
		assert.InDelta(t, p.Humidity.Base, r.Measurements.Humidity, p.Humidity.Variance)
	}
}

type recorder struct {
	mu     sync.Mutex
	topics []string
	failOn string
}

func (r *recorder) publish(p Profile, topic string, _ []byte) error {
	if p.DeviceID == r.failOn {
		return errors.New("broker unavailable")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	return nil
}

func TestTick_OneFailureDoesNotStopOthers(t *testing.T) {
	rec := &recorder{failOn: "dev-002"}
	s := New(DefaultProfiles(), rec.publish, time.Second, 42, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	sent := s.Tick(time.Now())
	assert.Equal(t, 2, sent)
	assert.Equal(t, []string{
		"site/site-01/device/dev-001/telemetry",
		"site/site-02/device/dev-003/telemetry",
	}, rec.topics)
}

func TestNew_Defaults(t *testing.T) {
	s := New(nil, nil, 0, 0, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	assert.Equal(t, DefaultInterval, s.interval)
	assert.Equal(t, 0, s.Tick(time.Now()))
}
