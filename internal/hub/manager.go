// Package hub rozesílá živá data připojeným prohlížečům.
//
// Manager drží členství spojení ve skupinách zájmu ("all" nebo ID zařízení),
// Router z měření staví obálku a posílá ji do správných skupin a Server
// obsluhuje WebSocket spojení.
package hub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/metrics"
)

// GlobalGroup je skupina, která dostává měření ze všech zařízení.
const GlobalGroup = "all"

// Názvy událostí ve WebSocket protokolu.
const (
	EventTelemetry = "new-telemetry"
	EventPresence  = "device-status-update"
	CmdJoin        = "join-room"
	CmdLeave       = "leave-room"
)

// ErrQueueFull vrací Sender, když klient nestíhá číst a frame se zahodil.
var ErrQueueFull = errors.New("viewer send queue full")

// Event je jeden rámec server -> klient: {"event": ..., "data": ...}.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// Sender je jedno připojení prohlížeče. Send nesmí blokovat.
type Sender interface {
	ID() string
	Send(frame []byte) error
}

type member struct {
	conn   Sender
	groups map[string]struct{}
}

// Manager eviduje, které spojení je v jaké skupině.
// Všechny metody jsou bezpečné pro souběžné volání.
type Manager struct {
	mu      sync.RWMutex
	members map[string]*member
	groups  map[string]map[string]Sender

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewManager vytvoří prázdný manager. m může být nil.
func NewManager(logger *slog.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		members: make(map[string]*member),
		groups:  make(map[string]map[string]Sender),
		logger:  logger,
		metrics: m,
	}
}

// Register přidá spojení. Spojení je od začátku ve své identitní skupině
// (název = ID spojení), ze které ho Join nikdy neodebere.
func (m *Manager) Register(conn Sender) {
	m.RegisterWith(conn, nil)
}

// RegisterWith přidá spojení a ještě pod zámkem mu pošle první rámec z first
// (snapshot přítomnosti). Souběžný broadcast tak buď sebral příjemce dřív
// a first už vidí nový stav, nebo spojení zahrne.
func (m *Manager) RegisterWith(conn Sender, first func() Event) {
	id := conn.ID()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.members[id]; exists {
		return
	}
	if first != nil {
		m.deliver([]Sender{conn}, first())
	}
	m.members[id] = &member{conn: conn, groups: map[string]struct{}{id: {}}}
	m.addLocked(id, id, conn)
	m.viewersChanged()
}

// Join přesune spojení do skupiny group. Nejdřív ho odebere ze všech
// ostatních skupin kromě identitní, takže je vždy v nejvýš jedné.
// Neznámé (už odpojené) spojení je no-op; vrací false.
func (m *Manager) Join(connID, group string) bool {
	if group == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.members[connID]
	if !ok {
		m.logger.Debug("Join na odpojené spojení ignoruji", "conn", connID, "group", group)
		return false
	}
	// Identitní skupiny cizích spojení nejsou místnosti.
	if _, taken := m.members[group]; taken && group != connID {
		m.logger.Debug("Join do identitní skupiny jiného spojení odmítnut", "conn", connID, "group", group)
		return false
	}

	for g := range mem.groups {
		if g == connID || g == group {
			continue
		}
		m.removeLocked(g, connID)
		delete(mem.groups, g)
	}

	mem.groups[group] = struct{}{}
	m.addLocked(group, connID, mem.conn)
	return true
}

// Leave odebere spojení ze skupiny. Je idempotentní; identitní skupinu opustit nejde.
func (m *Manager) Leave(connID, group string) {
	if group == connID {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.members[connID]
	if !ok {
		return
	}
	if _, in := mem.groups[group]; !in {
		return
	}
	delete(mem.groups, group)
	m.removeLocked(group, connID)
}

// Disconnect odebere spojení ze všech skupin. Vrací false, pokud ho neznáme.
func (m *Manager) Disconnect(connID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.members[connID]
	if !ok {
		return false
	}
	for g := range mem.groups {
		m.removeLocked(g, connID)
	}
	delete(m.members, connID)
	m.viewersChanged()
	return true
}

// Broadcast pošle událost všem spojením, která jsou ve skupině právě teď.
// Vrací počet doručených rámců; prázdná skupina není chyba.
func (m *Manager) Broadcast(group string, ev Event) int {
	m.mu.RLock()
	targets := make([]Sender, 0, len(m.groups[group]))
	for _, s := range m.groups[group] {
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	return m.deliver(targets, ev)
}

// BroadcastAll pošle událost všem připojeným spojením bez ohledu na skupinu.
func (m *Manager) BroadcastAll(ev Event) int {
	m.mu.RLock()
	targets := make([]Sender, 0, len(m.members))
	for _, mem := range m.members {
		targets = append(targets, mem.conn)
	}
	m.mu.RUnlock()

	return m.deliver(targets, ev)
}

// GroupsOf vrací seřazené skupiny spojení (včetně identitní).
func (m *Manager) GroupsOf(connID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mem, ok := m.members[connID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(mem.groups))
	for g := range mem.groups {
		out = append(out, g)
	}
	slices.Sort(out)
	return out
}

// Members vrací seřazená ID spojení ve skupině.
func (m *Manager) Members(group string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.groups[group]))
	for id := range m.groups[group] {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Count vrací počet registrovaných spojení.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.members)
}

func (m *Manager) deliver(targets []Sender, ev Event) int {
	if len(targets) == 0 {
		return 0
	}

	// Serializujeme jednou pro všechny příjemce.
	frame, err := json.Marshal(ev)
	if err != nil {
		m.logger.Error("Nelze serializovat událost", "event", ev.Name, "error", err)
		return 0
	}

	delivered := 0
	for _, s := range targets {
		if err := s.Send(frame); err != nil {
			m.logger.Warn("Rámec pro klienta zahozen", "conn", s.ID(), "event", ev.Name, "error", err)
			if m.metrics != nil {
				m.metrics.BroadcastDropped.Inc()
			}
			continue
		}
		delivered++
	}

	if m.metrics != nil && delivered > 0 {
		m.metrics.Broadcasts.WithLabelValues(ev.Name).Add(float64(delivered))
	}
	return delivered
}

func (m *Manager) addLocked(group, connID string, conn Sender) {
	set, ok := m.groups[group]
	if !ok {
		set = make(map[string]Sender)
		m.groups[group] = set
	}
	set[connID] = conn
}

// Prázdnou skupinu mažeme, skupiny nemají vlastní život.
func (m *Manager) removeLocked(group, connID string) {
	set, ok := m.groups[group]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(m.groups, group)
	}
}

func (m *Manager) viewersChanged() {
	if m.metrics != nil {
		m.metrics.ViewersConnected.Set(float64(len(m.members)))
	}
}
