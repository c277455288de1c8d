package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/alert"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/hub"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/metrics"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/presence"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/telemetry"
)

// Submitter přijímá měření k uložení a nesmí blokovat.
type Submitter interface {
	Submit(r telemetry.Reading) bool
}

// Deps jsou závislosti pipeline. Vše kromě Metrics je povinné.
type Deps struct {
	Inbox     *Inbox
	Evaluator *alert.Evaluator
	Persister Submitter
	Router    *hub.Router
	Presence  *presence.Tracker
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Pipeline je jediný konzument inboxu. Zprávy zpracovává po jedné v pořadí
// příchodu, z toho plyne pořadí broadcastů pro každé zařízení.
type Pipeline struct {
	Deps
}

// NewPipeline vytvoří pipeline.
func NewPipeline(d Deps) *Pipeline {
	return &Pipeline{Deps: d}
}

// Run zpracovává zprávy, dokud nezanikne ctx.
func (p *Pipeline) Run(ctx context.Context) error {
	p.Logger.Info("Zpracovací smyčka běží")
	for {
		msg, ok := p.Inbox.Pop(ctx)
		if !ok {
			return ctx.Err()
		}
		p.Handle(msg)
	}
}

// Handle zpracuje jednu zprávu. Chyby nikdy nevrací: odmítnutá zpráva se
// zaloguje a zahodí, další zprávy jedou dál.
func (p *Pipeline) Handle(msg Message) {
	// Status topic (last-will) má jinou obsluhu než telemetrie.
	if route, err := telemetry.ParseTopic(msg.Topic); err == nil && route.Kind == "status" {
		p.count("status")
		p.HandleStatus(route, msg)
		return
	}
	p.count("telemetry")

	start := time.Now()

	// A. Validace
	reading, err := telemetry.ParseAndValidate(msg.Topic, msg.Payload)
	if err != nil {
		reason := telemetry.ReasonOf(err)
		p.Logger.Warn("Zpráva odmítnuta", "topic", msg.Topic, "reason", reason, "error", err)
		if p.Metrics != nil {
			p.Metrics.Rejected.WithLabelValues(string(reason)).Inc()
		}
		return
	}

	// B. Alert
	a := p.Evaluator.Evaluate(reading)
	if a != nil {
		p.Logger.Info("Alert", "deviceId", reading.DeviceID, "kind", a.Kind, "message", a.Message)
		if p.Metrics != nil {
			p.Metrics.Alerts.WithLabelValues(a.Kind).Inc()
		}
	}

	// C. Uložení (nečekáme na výsledek)
	p.Persister.Submit(reading)

	// D. Broadcast
	n := p.Router.Route(reading, a, msg.ReceivedAt)
	p.Logger.Debug("Měření rozesláno", "deviceId", reading.DeviceID, "deliveries", n)

	// E. Přítomnost: zařízení je online od okamžiku příjmu.
	if snap, changed := p.Presence.Observe(reading.DeviceID, msg.ReceivedAt); changed {
		p.Logger.Info("Zařízení online", "deviceId", reading.DeviceID)
		p.PresenceChanged(snap)
	}

	if p.Metrics != nil {
		p.Metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
	}
}

// HandleStatus zpracuje oznámení na status topicu: "online"/"offline" jako text
// nebo {"status": "..."}. Offline typicky posílá broker za zařízení (last-will).
func (p *Pipeline) HandleStatus(route telemetry.Route, msg Message) {
	status := parseStatus(msg.Payload)

	var (
		snap    presence.Snapshot
		changed bool
	)
	switch status {
	case presence.Online:
		snap, changed = p.Presence.Observe(route.DeviceID, msg.ReceivedAt)
	case presence.Offline:
		snap, changed = p.Presence.MarkOffline(route.DeviceID, msg.ReceivedAt)
	default:
		p.Logger.Warn("Neznámý status zařízení", "topic", msg.Topic, "payload", string(msg.Payload))
		if p.Metrics != nil {
			p.Metrics.Rejected.WithLabelValues(string(telemetry.MalformedPayload)).Inc()
		}
		return
	}

	if changed {
		p.Logger.Info("Změna stavu zařízení", "deviceId", route.DeviceID, "status", status)
		p.PresenceChanged(snap)
	}
}

// PresenceChanged rozešle snapshot všem klientům a aktualizuje metriky.
// Volá ho i sweeper přítomnosti.
func (p *Pipeline) PresenceChanged(snap presence.Snapshot) {
	p.Router.Presence(snap)

	if p.Metrics != nil {
		for status, n := range p.Presence.Counts() {
			p.Metrics.DevicesByStatus.WithLabelValues(string(status)).Set(float64(n))
		}
	}
}

func (p *Pipeline) count(kind string) {
	if p.Metrics != nil {
		p.Metrics.MessagesReceived.WithLabelValues(kind).Inc()
	}
}

func parseStatus(payload []byte) presence.Status {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var body struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(trimmed, &body); err != nil {
			return ""
		}
		trimmed = []byte(body.Status)
	}

	switch presence.Status(strings.ToLower(string(trimmed))) {
	case presence.Online:
		return presence.Online
	case presence.Offline:
		return presence.Offline
	}
	return ""
}
