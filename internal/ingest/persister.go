package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/metrics"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/store"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/telemetry"
)

// Appender je jediné, co persister potřebuje od úložiště.
type Appender interface {
	Append(ctx context.Context, r telemetry.Reading) error
}

// Persister ukládá měření na pozadí (fire-and-forget).
// Zpracovací smyčka jen vloží měření do fronty a jde dál; na výsledek nečeká.
type Persister struct {
	store   Appender
	queue   chan telemetry.Reading
	workers int
	timeout time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPersister vytvoří persister s frontou queueSize a workers pracovníky. m může být nil.
func NewPersister(s Appender, queueSize, workers int, logger *slog.Logger, m *metrics.Metrics) *Persister {
	if queueSize < 1 {
		queueSize = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &Persister{
		store:   s,
		queue:   make(chan telemetry.Reading, queueSize),
		workers: workers,
		timeout: 5 * time.Second,
		logger:  logger,
		metrics: m,
	}
}

// Start spustí pracovníky.
func (p *Persister) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Submit předá měření k uložení. Nikdy neblokuje: plná fronta se bere jako
// selhání perzistence (zalogováno, spočítáno), broadcast tím není dotčen.
func (p *Persister) Submit(r telemetry.Reading) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}

	select {
	case p.queue <- r:
		return true
	default:
		p.logger.Error("Fronta ukládání je plná, měření nebude v historii", "deviceId", r.DeviceID)
		p.fail("queue")
		return false
	}
}

// Close přestane přijímat nová měření a počká, až pracovníci dopíšou frontu.
func (p *Persister) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Persister) worker() {
	defer p.wg.Done()

	for r := range p.queue {
		p.save(r)
	}
}

func (p *Persister) save(r telemetry.Reading) {
	// Context s timeoutem, aby DB operace nevisela věčně.
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	err := p.store.Append(ctx, r)
	switch {
	case err == nil:
		p.logger.Debug("Data uložena", "deviceId", r.DeviceID)
		if p.metrics != nil {
			p.metrics.Persisted.Inc()
		}
	case errors.Is(err, store.ErrCacheUpdate):
		// Historie je zapsaná, jen cache posledních hodnot zaostává.
		p.logger.Warn("Chyba update cache", "deviceId", r.DeviceID, "error", err)
		p.fail("cache")
		if p.metrics != nil {
			p.metrics.Persisted.Inc()
		}
	default:
		p.logger.Error("Chyba při ukládání dat", "deviceId", r.DeviceID, "error", err)
		p.fail("store")
	}
}

func (p *Persister) fail(stage string) {
	if p.metrics != nil {
		p.metrics.PersistFailures.WithLabelValues(stage).Inc()
	}
}
