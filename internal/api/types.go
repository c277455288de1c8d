package api

import (
	"encoding/json"
	"time"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/health"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/telemetry"
)

// HistoryPoint je jeden bod grafu: ploché měření + deviceId + timestamp (čas senzoru).
// {"deviceId":"dev-001","timestamp":"...","temperature":21.5,"humidity":40}
type HistoryPoint telemetry.Reading

// MarshalJSON zploští měření do jednoho objektu.
func (p HistoryPoint) MarshalJSON() ([]byte, error) {
	m := p.Measurements
	out := make(map[string]any, len(m.Extra)+5)
	for k, v := range m.Extra {
		out[k] = v
	}
	out["temperature"] = m.Temperature
	out["humidity"] = m.Humidity
	if m.Pressure != nil {
		out["pressure"] = *m.Pressure
	}
	out["deviceId"] = p.DeviceID
	out["timestamp"] = p.Timestamp.UTC()
	return json.Marshal(out)
}

// HealthResponse je odpověď GET /.
type HealthResponse struct {
	Status    string        `json:"status"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
	System    *health.Stats `json:"system,omitempty"`
}

// ErrorResponse je tělo každé chybové odpovědi.
type ErrorResponse struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}
