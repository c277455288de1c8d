package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.Rejected.WithLabelValues("MalformedTopic").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.Rejected.WithLabelValues("MalformedTopic")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Rejected.WithLabelValues("MalformedTopic")))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	m := New()
	m.MQTTConnected.Set(1)
	m.Broadcasts.WithLabelValues("new-telemetry").Add(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "iot_mqtt_connected 1")
	assert.Contains(t, string(body), `iot_hub_deliveries_total{event="new-telemetry"} 2`)
	assert.Contains(t, string(body), "go_goroutines")
}
