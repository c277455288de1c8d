package hub

import (
	"time"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/alert"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/presence"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/telemetry"
)

// Envelope je obsah události new-telemetry.
// SensorTimestamp je čas měření podle senzoru, Timestamp čas příjmu serverem.
type Envelope struct {
	DeviceID        string                 `json:"deviceId"`
	SiteID          string                 `json:"siteId"`
	Measurements    telemetry.Measurements `json:"measurements"`
	SensorTimestamp time.Time              `json:"sensorTimestamp"`
	Timestamp       time.Time              `json:"timestamp"`
	Alert           *alert.Alert           `json:"alert"`
}

// NewEnvelope sestaví obálku z měření. Alert může být nil.
func NewEnvelope(r telemetry.Reading, a *alert.Alert, receivedAt time.Time) Envelope {
	return Envelope{
		DeviceID:        r.DeviceID,
		SiteID:          r.SiteID,
		Measurements:    r.Measurements,
		SensorTimestamp: r.Timestamp,
		Timestamp:       receivedAt.UTC(),
		Alert:           a,
	}
}

// Groups je to, co Router potřebuje od Manageru.
type Groups interface {
	Broadcast(group string, ev Event) int
	BroadcastAll(ev Event) int
}

// Router posílá obálky do skupin zájmu. Nečeká na perzistenci.
type Router struct {
	groups Groups
}

// NewRouter vytvoří router nad skupinami.
func NewRouter(groups Groups) *Router {
	return &Router{groups: groups}
}

// Route doručí měření do globální skupiny a do skupiny zařízení, do každé jednou.
// Vrací celkový počet doručených rámců.
func (r *Router) Route(reading telemetry.Reading, a *alert.Alert, receivedAt time.Time) int {
	ev := Event{Name: EventTelemetry, Data: NewEnvelope(reading, a, receivedAt)}

	n := r.groups.Broadcast(GlobalGroup, ev)
	// Zařízení jménem "all" by jinak dostalo obálku dvakrát.
	if reading.DeviceID != GlobalGroup {
		n += r.groups.Broadcast(reading.DeviceID, ev)
	}
	return n
}

// Presence pošle snapshot přítomnosti všem připojeným klientům.
func (r *Router) Presence(snap presence.Snapshot) int {
	return r.groups.BroadcastAll(Event{Name: EventPresence, Data: snap})
}
