// Package presence sleduje, která zařízení jsou online.
//
// Stav žije jen v paměti procesu. Zařízení, které nikdy nic neposlalo,
// ve snapshotu vůbec není (Unknown). První měření ho přepne na online,
// ticho delší než timeout (nebo MQTT last-will) na offline.
package presence

import (
	"context"
	"maps"
	"sync"
	"time"
)

// Status je stav zařízení ve snapshotu.
type Status string

const (
	Online  Status = "online"
	Offline Status = "offline"
)

// Entry je záznam jednoho zařízení. JSON tvar čte UI (device-status-update).
type Entry struct {
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

// Snapshot je kopie stavu všech známých zařízení (deviceId -> Entry).
type Snapshot map[string]Entry

// Tracker drží mapu zařízení. Všechny metody jsou bezpečné pro souběžné volání;
// Observe a Sweep jdou přes stejný zámek, takže se nikdy nepředběhnou.
type Tracker struct {
	mu      sync.Mutex
	devices map[string]Entry
	timeout time.Duration
}

// NewTracker vytvoří tracker. timeout <= 0 vypíná přechod na offline při tichu.
func NewTracker(timeout time.Duration) *Tracker {
	return &Tracker{
		devices: make(map[string]Entry),
		timeout: timeout,
	}
}

// Observe zaznamená měření zařízení v čase at (čas příjmu, ne čas senzoru).
// changed je true, pokud se zařízení právě stalo online.
func (t *Tracker) Observe(deviceID string, at time.Time) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, known := t.devices[deviceID]
	if known && at.Before(prev.LastSeen) {
		// Zpráva mimo pořadí: lastSeen nevracíme zpátky.
		at = prev.LastSeen
	}
	t.devices[deviceID] = Entry{Status: Online, LastSeen: at}

	changed := !known || prev.Status != Online
	return t.snapshotLocked(), changed
}

// MarkOffline zpracuje explicitní offline (last-will). Starší oznámení než
// poslední měření se ignoruje, stejně jako neznámé zařízení.
func (t *Tracker) MarkOffline(deviceID string, at time.Time) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, known := t.devices[deviceID]
	if !known || prev.Status == Offline || at.Before(prev.LastSeen) {
		return t.snapshotLocked(), false
	}
	t.devices[deviceID] = Entry{Status: Offline, LastSeen: prev.LastSeen}
	return t.snapshotLocked(), true
}

// Sweep přepne na offline všechna zařízení, která mlčí déle než timeout.
// Vrací snapshot a seznam zařízení, která právě zhasla.
func (t *Tracker) Sweep(now time.Time) (Snapshot, []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timeout <= 0 {
		return t.snapshotLocked(), nil
	}

	var expired []string
	for id, e := range t.devices {
		if e.Status == Online && now.Sub(e.LastSeen) > t.timeout {
			e.Status = Offline
			t.devices[id] = e
			expired = append(expired, id)
		}
	}
	return t.snapshotLocked(), expired
}

// Snapshot vrací kopii aktuálního stavu.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Counts vrací počet zařízení v každém stavu (pro metriky).
func (t *Tracker) Counts() map[Status]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := map[Status]int{Online: 0, Offline: 0}
	for _, e := range t.devices {
		out[e.Status]++
	}
	return out
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot(maps.Clone(t.devices))
}

// Run periodicky volá Sweep, dokud nezanikne ctx. notify se volá jen tehdy,
// když nějaké zařízení přešlo do offline.
func (t *Tracker) Run(ctx context.Context, interval time.Duration, notify func(Snapshot, []string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			snap, expired := t.Sweep(now)
			if len(expired) > 0 && notify != nil {
				notify(snap, expired)
			}
		}
	}
}
