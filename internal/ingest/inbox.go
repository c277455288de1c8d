// Package ingest je jádro příjmu: omezená fronta zpráv z MQTT, jediná
// zpracovací smyčka a asynchronní ukládání do úložiště.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/metrics"
)

// Message je surová zpráva z transportu, tak jak přišla.
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Inbox je omezená FIFO fronta mezi MQTT callbacky a zpracovací smyčkou.
// Když je plná, zahodí NEJSTARŠÍ zprávu: čerstvá data jsou pro živý
// dashboard cennější než stará.
type Inbox struct {
	mu      sync.Mutex
	buf     []Message
	head    int
	size    int
	dropped uint64

	notify  chan struct{}
	metrics *metrics.Metrics
}

// NewInbox vytvoří frontu s danou kapacitou (minimálně 1). m může být nil.
func NewInbox(capacity int, m *metrics.Metrics) *Inbox {
	if capacity < 1 {
		capacity = 1
	}
	return &Inbox{
		buf:     make([]Message, capacity),
		notify:  make(chan struct{}, 1),
		metrics: m,
	}
}

// Push přidá zprávu a nikdy neblokuje. Vrací true, pokud kvůli ní vypadla nejstarší.
func (in *Inbox) Push(msg Message) bool {
	in.mu.Lock()
	dropped := false
	if in.size == len(in.buf) {
		in.buf[in.head] = Message{}
		in.head = (in.head + 1) % len(in.buf)
		in.size--
		in.dropped++
		dropped = true
	}
	in.buf[(in.head+in.size)%len(in.buf)] = msg
	in.size++
	depth := in.size
	in.mu.Unlock()

	if in.metrics != nil {
		in.metrics.InboxDepth.Set(float64(depth))
		if dropped {
			in.metrics.InboxDropped.Inc()
		}
	}

	// Probudíme konzumenta, pokud už není probuzený.
	select {
	case in.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Pop vrátí nejstarší zprávu. Blokuje, dokud nějaká nepřijde nebo nezanikne ctx.
func (in *Inbox) Pop(ctx context.Context) (Message, bool) {
	for {
		if msg, ok := in.tryPop(); ok {
			return msg, true
		}
		select {
		case <-ctx.Done():
			return Message{}, false
		case <-in.notify:
		}
	}
}

func (in *Inbox) tryPop() (Message, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.size == 0 {
		return Message{}, false
	}
	msg := in.buf[in.head]
	in.buf[in.head] = Message{}
	in.head = (in.head + 1) % len(in.buf)
	in.size--

	if in.metrics != nil {
		in.metrics.InboxDepth.Set(float64(in.size))
	}
	return msg, true
}

// Len vrací počet čekajících zpráv.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.size
}

// Dropped vrací počet zahozených zpráv od startu.
func (in *Inbox) Dropped() uint64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.dropped
}
