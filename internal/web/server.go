package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/nexxore/safeyield/internal/logger"
	"github.com/nexxore/safeyield/internal/metrics"
	"github.com/nexxore/safeyield/internal/state"
	"github.com/nexxore/safeyield/internal/types"
	"github.com/nexxore/safeyield/internal/vault"
)

var webLogger = logger.GetForComponent("web_server")

// Store is the read side of the persistence layer.
type Store interface {
	Ping(ctx context.Context) error
	GetRecentCycles(ctx context.Context, limit int) ([]types.CycleSnapshot, error)
	GetCycleByNumber(ctx context.Context, n int) (types.CycleSnapshot, error)
	GetCycleStats(ctx context.Context, asset string) (state.CycleStats, error)
	GetLatestRiskAssessment(ctx context.Context, asset string) (types.RiskAssessment, error)
	GetRiskHistory(ctx context.Context, asset string, days int) ([]types.RiskAssessment, error)
}

var _ Store = (*state.Store)(nil)

// CycleSource exposes the keeper's most recent cycle.
type CycleSource interface {
	LastCycle() (types.CycleSnapshot, bool)
}

// Config wires the server. Store and Cycles are optional; without a store the API serves what the
// running keeper has in memory.
type Config struct {
	Port   string
	Vault  vault.Manager
	Store  Store
	Cycles CycleSource

	// StaleAfter marks the service degraded when the last cycle is older. Zero disables the check.
	StaleAfter time.Duration
}

// WebServer serves the vault's read-only API and Prometheus metrics.
type WebServer struct {
	router     *mux.Router
	server     *http.Server
	port       string
	vault      vault.Manager
	store      Store
	cycles     CycleSource
	staleAfter time.Duration
	startedAt  time.Time
}

// NewWebServer creates a new web server instance
func NewWebServer(cfg Config) *WebServer {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	ws := &WebServer{
		router:     mux.NewRouter(),
		port:       cfg.Port,
		vault:      cfg.Vault,
		store:      cfg.Store,
		cycles:     cfg.Cycles,
		staleAfter: cfg.StaleAfter,
		startedAt:  time.Now(),
	}
	ws.setupRoutes()
	return ws
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	ws.router.Handle("/metrics", metrics.Handler()).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/vault/summary", ws.handleGetVaultSummary).Methods("GET")
	api.HandleFunc("/risk/latest", ws.handleGetLatestRisk).Methods("GET")
	api.HandleFunc("/risk/history", ws.handleGetRiskHistory).Methods("GET")
	api.HandleFunc("/cycles", ws.handleGetCycles).Methods("GET")
	api.HandleFunc("/cycles/{number:[0-9]+}", ws.handleGetCycle).Methods("GET")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Handler returns the routed handler, for embedding and tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start starts the web server and blocks until it stops. It returns nil after Shutdown.
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	ws.server = &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops a started server.
func (ws *WebServer) Shutdown(ctx context.Context) error {
	if ws.server == nil {
		return nil
	}
	return ws.server.Shutdown(ctx)
}

// handleHealth reports process, database and keeper health. Degraded answers use 503.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var problems []string

	dbStatus := "not_configured"
	if ws.store != nil {
		dbStatus = "ok"
		if err := ws.store.Ping(r.Context()); err != nil {
			dbStatus = "unreachable"
			problems = append(problems, "database unreachable")
		}
	}

	cycleInfo := map[string]interface{}{"last_cycle_number": 0, "last_cycle_time": nil}
	if last, ok := ws.lastCycle(r.Context()); ok {
		cycleInfo = map[string]interface{}{
			"last_cycle_number": last.CycleNumber,
			"last_cycle_time":   last.Timestamp,
			"last_cycle_errors": len(last.Errors),
		}
		if ws.staleAfter > 0 && time.Since(last.Timestamp) > ws.staleAfter {
			problems = append(problems, "keeper cycle overdue")
		}
	}

	vaultInfo := map[string]interface{}{
		"asset":     ws.vault.Asset(),
		"paused":    ws.vault.Paused(),
		"risk_mode": ws.vault.RiskMode().String(),
	}
	if ws.vault.RiskMode() == vault.RiskModeEmergencyUnwound {
		problems = append(problems, "vault emergency unwound")
	}

	status, code := "OK", http.StatusOK
	if len(problems) > 0 {
		status, code = "DEGRADED", http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, code, map[string]interface{}{
		"status":    status,
		"problems":  problems,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
			"uptime_seconds":   int64(time.Since(ws.startedAt).Seconds()),
		},
		"component": map[string]interface{}{
			"name":    "safeyield-vault-keeper",
			"version": "1.0.0",
		},
		"database": dbStatus,
		"vault":    vaultInfo,
		"keeper":   cycleInfo,
	})
}

// handleGetVaultSummary returns the live ledger plus persisted cycle statistics
func (ws *WebServer) handleGetVaultSummary(w http.ResponseWriter, r *http.Request) {
	snap, err := ws.vault.Snapshot(r.Context())
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to snapshot vault")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to read vault ledger")
		return
	}

	response := map[string]interface{}{
		"ledger":         snap,
		"last_rebalance": nullTime(ws.vault.LastRebalance()),
		"timestamp":      time.Now().UTC(),
	}
	if ws.store != nil {
		stats, err := ws.store.GetCycleStats(r.Context(), snap.Asset)
		if err != nil {
			webLogger.Warn().Err(err).Msg("Failed to get cycle stats")
		} else {
			response["cycles"] = stats
		}
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetLatestRisk returns the most recent risk assessment
func (ws *WebServer) handleGetLatestRisk(w http.ResponseWriter, r *http.Request) {
	if ws.store != nil {
		a, err := ws.store.GetLatestRiskAssessment(r.Context(), ws.vault.Asset())
		switch {
		case errors.Is(err, state.ErrNotFound):
			ws.writeErrorResponse(w, http.StatusNotFound, "No risk assessment found")
		case err != nil:
			webLogger.Error().Err(err).Msg("Failed to get latest risk assessment")
			ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve risk assessment")
		default:
			ws.writeJSONResponse(w, http.StatusOK, a)
		}
		return
	}

	if last, ok := ws.lastCycle(r.Context()); ok && last.Assessment != nil {
		ws.writeJSONResponse(w, http.StatusOK, last.Assessment)
		return
	}
	ws.writeErrorResponse(w, http.StatusNotFound, "No risk assessment found")
}

// handleGetRiskHistory returns the assessments of the last ?days= days (default 7)
func (ws *WebServer) handleGetRiskHistory(w http.ResponseWriter, r *http.Request) {
	if ws.store == nil {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Risk history requires a database")
		return
	}
	days, ok := ws.intParam(w, r, "days", 7, 365)
	if !ok {
		return
	}

	history, err := ws.store.GetRiskHistory(r.Context(), ws.vault.Asset(), days)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get risk history")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve risk history")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"assessments": history,
		"count":       len(history),
		"days":        days,
	})
}

// handleGetCycles returns the latest cycles, newest first
func (ws *WebServer) handleGetCycles(w http.ResponseWriter, r *http.Request) {
	limit, ok := ws.intParam(w, r, "limit", 20, 100)
	if !ok {
		return
	}

	var cycles []types.CycleSnapshot
	if ws.store != nil {
		var err error
		if cycles, err = ws.store.GetRecentCycles(r.Context(), limit); err != nil {
			webLogger.Error().Err(err).Msg("Failed to get recent cycles")
			ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve cycles")
			return
		}
	} else if last, ok := ws.lastCycle(r.Context()); ok {
		cycles = []types.CycleSnapshot{last}
	}
	if cycles == nil {
		cycles = []types.CycleSnapshot{}
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"cycles": cycles,
		"count":  len(cycles),
		"limit":  limit,
	})
}

// handleGetCycle returns one cycle by number
func (ws *WebServer) handleGetCycle(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(mux.Vars(r)["number"])
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid cycle number")
		return
	}
	if ws.store == nil {
		if last, ok := ws.lastCycle(r.Context()); ok && last.CycleNumber == n {
			ws.writeJSONResponse(w, http.StatusOK, last)
			return
		}
		ws.writeErrorResponse(w, http.StatusNotFound, "Cycle not found")
		return
	}

	cycle, err := ws.store.GetCycleByNumber(r.Context(), n)
	switch {
	case errors.Is(err, state.ErrNotFound):
		ws.writeErrorResponse(w, http.StatusNotFound, "Cycle not found")
	case err != nil:
		webLogger.Error().Err(err).Int("cycle", n).Msg("Failed to get cycle")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve cycle")
	default:
		ws.writeJSONResponse(w, http.StatusOK, cycle)
	}
}

// lastCycle prefers the keeper's in-memory snapshot and falls back to the store.
func (ws *WebServer) lastCycle(ctx context.Context) (types.CycleSnapshot, bool) {
	if ws.cycles != nil {
		if last, ok := ws.cycles.LastCycle(); ok {
			return last, true
		}
	}
	if ws.store != nil {
		if cycles, err := ws.store.GetRecentCycles(ctx, 1); err == nil && len(cycles) > 0 {
			return cycles[0], true
		}
	}
	return types.CycleSnapshot{}, false
}

// intParam parses a positive query parameter, capped at max. It writes a 400 when malformed.
func (ws *WebServer) intParam(w http.ResponseWriter, r *http.Request, name string, def, max int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid "+name+" parameter")
		return 0, false
	}
	if v > max {
		v = max
	}
	return v, true
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	ws.writeJSONResponse(w, statusCode, map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
