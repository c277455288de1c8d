package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/presence"
)

// ServerConfig řídí chování WebSocket serveru. Nulové hodnoty doplní DefaultServerConfig.
type ServerConfig struct {
	// AllowedOrigin: Origin prohlížeče, kterému povolíme připojení ("*" = komukoliv).
	AllowedOrigin string

	// SendQueue: Kolik rámců smí čekat na pomalého klienta, než začneme zahazovat.
	SendQueue int

	// CommandRate / CommandBurst: Limit příkazů join/leave na jedno spojení.
	CommandRate  rate.Limit
	CommandBurst int

	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
}

// DefaultServerConfig vrací výchozí hodnoty.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		AllowedOrigin: "*",
		SendQueue:     64,
		CommandRate:   5,
		CommandBurst:  10,
		PingInterval:  30 * time.Second,
		PongWait:      60 * time.Second,
		WriteWait:     10 * time.Second,
	}
}

func (c ServerConfig) withDefaults() ServerConfig {
	d := DefaultServerConfig()
	if c.AllowedOrigin == "" {
		c.AllowedOrigin = d.AllowedOrigin
	}
	if c.SendQueue <= 0 {
		c.SendQueue = d.SendQueue
	}
	if c.CommandRate <= 0 {
		c.CommandRate = d.CommandRate
	}
	if c.CommandBurst <= 0 {
		c.CommandBurst = d.CommandBurst
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongWait <= c.PingInterval {
		c.PongWait = 2 * c.PingInterval
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	return c
}

// Příkazy od klienta jsou malé JSONy, víc nepustíme.
const maxCommandSize = 1024

var errClientClosed = errors.New("viewer connection closed")

// PresenceSource dodává snapshot pro nově připojené klienty.
type PresenceSource interface {
	Snapshot() presence.Snapshot
}

// command je rámec klient -> server: {"event": "join-room", "data": "dev-001"}.
type command struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// client je jedno WebSocket spojení. Implementuje Sender.
type client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) ID() string { return c.id }

// Send zařadí rámec do fronty. Nikdy neblokuje: plná fronta = zahozený rámec.
func (c *client) Send(frame []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Server přijímá WebSocket spojení na /ws a napojuje je na Manager.
type Server struct {
	groups   *Manager
	presence PresenceSource
	cfg      ServerConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	clients  map[string]*client
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer vytvoří WebSocket server. presence může být nil.
func NewServer(groups *Manager, presence PresenceSource, cfg ServerConfig, logger *slog.Logger) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		groups:   groups,
		presence: presence,
		cfg:      cfg,
		logger:   logger,
		clients:  make(map[string]*client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin pustí klienty bez Origin hlavičky (ne-prohlížeče) a povolený origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	if s.cfg.AllowedOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSuffix(origin, "/"), strings.TrimSuffix(s.cfg.AllowedOrigin, "/"))
}

// ServeHTTP povýší HTTP spojení na WebSocket a obsluhuje ho, dokud klient nezavře.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade už odpověděl klientovi chybou.
		s.logger.Warn("WebSocket upgrade selhal", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, s.cfg.SendQueue),
		limiter: rate.NewLimiter(s.cfg.CommandRate, s.cfg.CommandBurst),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	// Snapshot přítomnosti jde jako první rámec, atomicky s registrací.
	var snapshot func() Event
	if s.presence != nil {
		snapshot = func() Event {
			return Event{Name: EventPresence, Data: s.presence.Snapshot()}
		}
	}
	s.groups.RegisterWith(c, snapshot)

	s.logger.Info("Klient připojen", "conn", c.id, "remote", r.RemoteAddr)

	go s.writePump(c)
	s.readPump(c)
}

// readPump čte příkazy klienta. Běží v goroutině HTTP handleru.
func (s *Server) readPump(c *client) {
	defer s.drop(c)

	c.conn.SetReadLimit(maxCommandSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("Spojení neočekávaně ukončeno", "conn", c.id, "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			s.logger.Debug("Příkaz zahozen (rate limit)", "conn", c.id)
			continue
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.logger.Debug("Neplatný příkaz od klienta", "conn", c.id, "error", err)
			continue
		}
		s.handleCommand(c, cmd)
	}
}

func (s *Server) handleCommand(c *client, cmd command) {
	var group string
	if err := json.Unmarshal(cmd.Data, &group); err != nil || group == "" {
		s.logger.Debug("Příkaz bez názvu skupiny", "conn", c.id, "event", cmd.Event)
		return
	}

	switch cmd.Event {
	case CmdJoin:
		if s.groups.Join(c.id, group) {
			s.logger.Debug("Klient přešel do skupiny", "conn", c.id, "group", group)
		}
	case CmdLeave:
		s.groups.Leave(c.id, group)
	default:
		s.logger.Debug("Neznámý příkaz", "conn", c.id, "event", cmd.Event)
	}
}

// writePump je jediný zapisovatel do spojení: rámce z fronty a keep-alive pingy.
func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(s.cfg.WriteWait))
			return

		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Debug("Zápis do spojení selhal", "conn", c.id, "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drop odpojí klienta ze všech skupin a ukončí jeho writer.
func (s *Server) drop(c *client) {
	c.close()
	s.groups.Disconnect(c.id)

	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()

	s.logger.Info("Klient odpojen", "conn", c.id)
}

// Shutdown zavře všechna spojení a počká na jejich handlery (nebo na ctx).
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	for _, c := range s.clients {
		c.close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
