// Package api je HTTP vrstva telemetry hubu: čtení historie a agregací,
// poslední hodnoty, health, metriky a mount WebSocketu.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/alert"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/health"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/store"
)

// Povolené hodnoty parametru range.
var ranges = map[string]time.Duration{
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"24h": 24 * time.Hour,
}

const defaultRange = "1h"

// RuleReloader je část evaluátoru, kterou volá admin endpoint.
type RuleReloader interface {
	LoadFile(path string) error
	Rules() []alert.Rule
}

// Deps jsou závislosti HTTP vrstvy. Store a Logger jsou povinné,
// prázdné handlery (Metrics, WebSocket) se nezaregistrují.
type Deps struct {
	Store     store.Store
	Rules     RuleReloader
	RulesFile string
	Health    *health.Collector
	Metrics   http.Handler
	WebSocket http.Handler

	ClientURL  string
	JWTSecret  string
	Production bool
	Logger     *slog.Logger
}

// APIHandler sdružuje metody pro obsluhu HTTP požadavků.
type APIHandler struct {
	Deps
	now func() time.Time
}

// NewAPIHandler vytváří novou instanci handleru.
func NewAPIHandler(d Deps) *APIHandler {
	return &APIHandler{Deps: d, now: time.Now}
}

// Handler vrací kompletní router obalený middlewary (recover, log, CORS).
func (h *APIHandler) Handler() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return h.recoverMiddleware(h.logMiddleware(CorsMiddleware(h.ClientURL, mux)))
}

// RegisterRoutes mapuje URL cesty na konkrétní Go funkce (Go 1.22 patterny).
func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("GET /api/telemetry/history", h.handleHistory)
	mux.HandleFunc("GET /api/telemetry/aggregates", h.handleAggregates)
	mux.HandleFunc("GET /api/telemetry/latest", h.handleLatest)

	// Bez JWT_SECRET admin API neexistuje (spadne do 404).
	if h.JWTSecret != "" && h.Rules != nil {
		mux.Handle("POST /api/admin/alert-rules/reload",
			h.Protect(Admin(http.HandlerFunc(h.handleReloadRules))))
	}

	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	if h.WebSocket != nil {
		mux.Handle("GET /ws", h.WebSocket)
	}

	// Vše ostatní: 404 jako JSON.
	mux.HandleFunc("/", h.handleNotFound)
}

// handleRoot: GET /
func (h *APIHandler) handleRoot(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Message:   "IoT Backend Service is running",
		Timestamp: h.now().UTC(),
	}
	if h.Health != nil {
		stats := h.Health.Latest()
		if !stats.CollectedAt.IsZero() {
			resp.System = &stats
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// handleHistory: GET /api/telemetry/history?device=dev-001&range=6h
func (h *APIHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	device, since, ok := h.parseQuery(w, r)
	if !ok {
		return
	}

	readings, err := h.Store.QueryRange(r.Context(), device, since, store.MaxHistory)
	if err != nil {
		h.Logger.Error("Chyba při získávání historie", "device", device, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Chyba při načítání dat", err)
		return
	}

	// Prázdný výsledek je [], nikdy null.
	points := make([]HistoryPoint, 0, len(readings))
	for _, rd := range readings {
		points = append(points, HistoryPoint(rd))
	}
	h.writeJSON(w, http.StatusOK, points)
}

// handleAggregates: GET /api/telemetry/aggregates?device=all&range=24h
func (h *APIHandler) handleAggregates(w http.ResponseWriter, r *http.Request) {
	device, since, ok := h.parseQuery(w, r)
	if !ok {
		return
	}

	agg, err := h.Store.AggregateRange(r.Context(), device, since)
	if err != nil {
		h.Logger.Error("Chyba při výpočtu agregací", "device", device, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Chyba při načítání dat", err)
		return
	}
	h.writeJSON(w, http.StatusOK, agg)
}

// handleLatest: GET /api/telemetry/latest?device=dev-001
// Poslední hodnota je jen v cache (Valkey). Bez cache vracíme 404.
func (h *APIHandler) handleLatest(w http.ResponseWriter, r *http.Request) {
	device := r.URL.Query().Get("device")
	if device == "" || device == store.AllDevices {
		h.writeError(w, http.StatusBadRequest, "Parametr device je povinný", nil)
		return
	}

	latest, ok := h.Store.(store.LatestReader)
	if !ok {
		h.writeError(w, http.StatusNotFound, "Cache posledních hodnot je vypnutá", nil)
		return
	}

	reading, err := latest.Latest(r.Context(), device)
	if errors.Is(err, store.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "Zařízení nemá žádná data", nil)
		return
	}
	if err != nil {
		h.Logger.Error("Chyba při čtení poslední hodnoty", "device", device, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Chyba při načítání dat", err)
		return
	}
	h.writeJSON(w, http.StatusOK, HistoryPoint(reading))
}

// handleReloadRules: POST /api/admin/alert-rules/reload
func (h *APIHandler) handleReloadRules(w http.ResponseWriter, r *http.Request) {
	err := h.Rules.LoadFile(h.RulesFile)
	if errors.Is(err, alert.ErrNoRulesFile) {
		h.writeError(w, http.StatusConflict, "ALERT_RULES_FILE není nastavený", nil)
		return
	}
	if err != nil {
		h.Logger.Error("Načtení pravidel selhalo, platí původní tabulka", "file", h.RulesFile, "error", err)
		h.writeError(w, http.StatusUnprocessableEntity, "Soubor s pravidly je neplatný", err)
		return
	}

	rules := h.Rules.Rules()
	h.Logger.Info("Pravidla alertů znovu načtena", "file", h.RulesFile, "rules", len(rules))
	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "Alert rules reloaded",
		"rules":   rules,
	})
}

func (h *APIHandler) handleNotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, http.StatusNotFound, "Not Found - "+r.URL.RequestURI(), nil)
}

// parseQuery čte device (default "all") a range (default 1h).
// Neznámý range je chyba klienta (400).
func (h *APIHandler) parseQuery(w http.ResponseWriter, r *http.Request) (string, time.Time, bool) {
	q := r.URL.Query()

	device := q.Get("device")
	if device == "" {
		device = store.AllDevices
	}

	rangeParam := q.Get("range")
	if rangeParam == "" {
		rangeParam = defaultRange
	}
	dur, ok := ranges[rangeParam]
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Neplatný range (povoleno: 1h, 6h, 24h)", nil)
		return "", time.Time{}, false
	}

	return device, h.now().UTC().Add(-dur), true
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Error("Chyba při zápisu JSON odpovědi", "error", err)
	}
}

// writeError posílá {message, stack?}. Detail chyby jen mimo produkci.
func (h *APIHandler) writeError(w http.ResponseWriter, status int, message string, err error) {
	body := ErrorResponse{Message: message}
	if status >= http.StatusInternalServerError && h.Production {
		body.Message = http.StatusText(status)
	}
	if err != nil && !h.Production {
		body.Stack = err.Error()
	}
	h.writeJSON(w, status, body)
}
