// Package simulator generuje realistickou telemetrii pro vývoj a demo:
// každé zařízení má svůj profil (základní hodnota ± rozptyl).
package simulator

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/telemetry"
)

// DefaultInterval je perioda publikování.
const DefaultInterval = 3 * time.Second

// QoS pro telemetrii: at-least-once.
const QoS byte = 1

// Band je základní hodnota a maximální odchylka na obě strany.
type Band struct {
	Base     float64 `yaml:"base"`
	Variance float64 `yaml:"variance"`
}

// Profile popisuje jedno simulované zařízení.
type Profile struct {
	DeviceID string `yaml:"deviceId"`
	SiteID   string `yaml:"siteId"`
	Name     string `yaml:"name"`
	Temp     Band   `yaml:"temperature"`
	Humidity Band   `yaml:"humidity"`
}

// TelemetryTopic vrací topic, kam zařízení publikuje měření.
func (p Profile) TelemetryTopic() string {
	return telemetry.Topic(p.SiteID, p.DeviceID, "telemetry")
}

// StatusTopic vrací topic pro online/offline (last-will).
func (p Profile) StatusTopic() string {
	return telemetry.Topic(p.SiteID, p.DeviceID, "status")
}

// DefaultProfiles jsou tři zařízení ze dvou lokalit.
func DefaultProfiles() []Profile {
	return []Profile{
		// Teplo a sucho: občas přes práh 35 °C, takže chodí alerty.
		{DeviceID: "dev-001", SiteID: "site-01", Name: "Server Room",
			Temp: Band{Base: 30, Variance: 5}, Humidity: Band{Base: 30, Variance: 5}},
		// Chladno a stabilně
		{DeviceID: "dev-002", SiteID: "site-01", Name: "Main Office",
			Temp: Band{Base: 22, Variance: 2}, Humidity: Band{Base: 45, Variance: 3}},
		// Zima a vlhko
		{DeviceID: "dev-003", SiteID: "site-02", Name: "Storage Area",
			Temp: Band{Base: 15, Variance: 3}, Humidity: Band{Base: 65, Variance: 5}},
	}
}

// Fluctuate vrací náhodnou hodnotu z intervalu base ± variance, na 2 desetinná místa.
func Fluctuate(rng *rand.Rand, b Band) float64 {
	v := b.Base + (rng.Float64()*2-1)*b.Variance
	return math.Round(v*100) / 100
}

// payload je zpráva zařízení na drátě.
type payload struct {
	DeviceID     string             `json:"deviceId"`
	Timestamp    string             `json:"timestamp"`
	Measurements map[string]float64 `json:"measurements"`
}

// Payload sestaví JSON jednoho měření.
func Payload(p Profile, now time.Time, rng *rand.Rand) ([]byte, error) {
	return json.Marshal(payload{
		DeviceID:  p.DeviceID,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Measurements: map[string]float64{
			"temperature": Fluctuate(rng, p.Temp),
			"humidity":    Fluctuate(rng, p.Humidity),
		},
	})
}

// PublishFunc odešle jednu zprávu za zařízení.
type PublishFunc func(p Profile, topic string, payload []byte) error

// Simulator periodicky publikuje měření všech profilů.
type Simulator struct {
	profiles []Profile
	publish  PublishFunc
	interval time.Duration
	logger   *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New vytvoří simulátor. seed 0 = náhodný.
func New(profiles []Profile, publish PublishFunc, interval time.Duration, seed uint64, logger *slog.Logger) *Simulator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Simulator{
		profiles: profiles,
		publish:  publish,
		interval: interval,
		logger:   logger,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Tick publikuje jedno měření za každé zařízení. Chyba jednoho zařízení
// neblokuje ostatní. Vrací počet úspěšně odeslaných zpráv.
func (s *Simulator) Tick(now time.Time) int {
	sent := 0
	for _, p := range s.profiles {
		s.mu.Lock()
		body, err := Payload(p, now, s.rng)
		s.mu.Unlock()
		if err != nil {
			s.logger.Error("Nelze sestavit payload", "deviceId", p.DeviceID, "error", err)
			continue
		}

		if err := s.publish(p, p.TelemetryTopic(), body); err != nil {
			s.logger.Error("Publikace selhala", "deviceId", p.DeviceID, "error", err)
			continue
		}
		sent++
	}
	s.logger.Debug("Odeslána nová data", "devices", sent)
	return sent
}

// Run publikuje hned a pak každý interval, dokud nezanikne ctx.
func (s *Simulator) Run(ctx context.Context) {
	s.Tick(time.Now())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}
