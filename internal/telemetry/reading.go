// Package telemetry definuje model měření (Reading) a jeho validaci
// z MQTT topicu a JSON payloadu.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

// Reading je jedno zvalidované měření ze senzoru.
// Po validaci se už nemění: do DB i do broadcastu jde stejná hodnota.
type Reading struct {
	// DeviceID: ID zařízení, vždy shodné se segmentem v topicu.
	DeviceID string `json:"deviceId"`

	// SiteID: Lokalita. Bereme ji POUZE z topicu, payload ji nedodává.
	SiteID string `json:"siteId"`

	// Timestamp: Čas měření podle senzoru (může se zpožďovat za časem příjmu).
	Timestamp time.Time `json:"timestamp"`

	Measurements Measurements `json:"measurements"`
}

// Measurements drží naměřené hodnoty.
// Teplota a vlhkost jsou povinné, tlak volitelný (pointer, nil = nenaměřeno).
// Další skalární pole (budoucí senzory) končí v Extra.
type Measurements struct {
	Temperature float64
	Humidity    float64
	Pressure    *float64
	Extra       map[string]any
}

// Field vrací číselnou hodnotu podle jména. Používá ji evaluátor alertů,
// aby pravidla mohla mířit na libovolné číselné pole.
func (m Measurements) Field(name string) (float64, bool) {
	switch name {
	case "temperature":
		return m.Temperature, true
	case "humidity":
		return m.Humidity, true
	case "pressure":
		if m.Pressure == nil {
			return 0, false
		}
		return *m.Pressure, true
	}
	if v, ok := m.Extra[name].(float64); ok {
		return v, true
	}
	return 0, false
}

// MarshalJSON serializuje měření jako plochý objekt (stejný tvar jako na vstupu).
func (m Measurements) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+3)
	for k, v := range m.Extra {
		out[k] = v
	}
	out["temperature"] = m.Temperature
	out["humidity"] = m.Humidity
	if m.Pressure != nil {
		out["pressure"] = *m.Pressure
	}
	return json.Marshal(out)
}

// UnmarshalJSON čte plochý objekt. Typy hlídá JSON schema ve validátoru,
// tady jen rozdělujeme známá a neznámá pole.
func (m *Measurements) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out Measurements
	for k, v := range raw {
		switch k {
		case "temperature", "humidity", "pressure":
			f, ok := v.(float64)
			if !ok {
				return fmt.Errorf("measurement %q is not a number", k)
			}
			switch k {
			case "temperature":
				out.Temperature = f
			case "humidity":
				out.Humidity = f
			default:
				out.Pressure = &f
			}
		default:
			if out.Extra == nil {
				out.Extra = make(map[string]any)
			}
			out.Extra[k] = v
		}
	}

	*m = out
	return nil
}
