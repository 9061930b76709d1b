package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parallax-fi/lvm/internal/logger"
	"github.com/parallax-fi/lvm/internal/types"
	"github.com/parallax-fi/lvm/internal/vault"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer handles HTTP requests for vault status and metrics.
type WebServer struct {
	router    *mux.Router
	addr      string
	vault     *vault.Vault
	startTime time.Time
}

// NewWebServer creates a new web server instance.
func NewWebServer(addr string, v *vault.Vault) *WebServer {
	if addr == "" {
		addr = ":8080"
	}

	server := &WebServer{
		router:    mux.NewRouter(),
		addr:      addr,
		vault:     v,
		startTime: time.Now(),
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// Prometheus scrape endpoint
	ws.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/vault/status", ws.handleGetStatus).Methods("GET")
	api.HandleFunc("/vault/health", ws.handleGetVaultHealth).Methods("GET")
	api.HandleFunc("/vault/params", ws.handleGetParams).Methods("GET")
	api.HandleFunc("/vault/capacity", ws.handleGetCapacity).Methods("GET")
	api.HandleFunc("/vault/shares/{account}", ws.handleGetShares).Methods("GET")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("addr", ws.addr).Msg("Starting web server")

	server := &http.Server{
		Addr:         ws.addr,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := ws.vault.Status()
	healthy := status != types.StatusClosed

	overallStatus := "OK"
	statusCode := http.StatusOK
	if !healthy {
		overallStatus = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"gc_cycles":        memStats.NumGC,
			"uptime_seconds":   int64(time.Since(ws.startTime).Seconds()),
		},
		"vault_status": map[string]interface{}{
			"status":       status.String(),
			"in_flight":    status.InFlight(),
			"total_shares": ws.vault.TotalShares().String(),
		},
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetStatus returns the vault's lifecycle status
func (ws *WebServer) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":       ws.vault.Status().String(),
		"in_flight":    ws.vault.Status().InFlight(),
		"total_shares": ws.vault.TotalShares().String(),
		"timestamp":    time.Now().UTC(),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetVaultHealth returns the derived accounting metrics
func (ws *WebServer) handleGetVaultHealth(w http.ResponseWriter, r *http.Request) {
	snap, err := ws.vault.Reader().Snapshot(r.Context(), time.Now())
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to snapshot vault health")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to compute vault health")
		return
	}

	response := map[string]interface{}{
		"equity":      snap.Equity.String(),
		"debt_ratio":  snap.DebtRatio.String(),
		"delta":       snap.Delta.String(),
		"lp_amt":      snap.LpAmt.String(),
		"share_value": snap.SvTokenValue.String(),
		"timestamp":   time.Now().UTC(),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetParams returns the active risk parameters
func (ws *WebServer) handleGetParams(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"parameters": ws.vault.Params(),
		"timestamp":  time.Now().UTC(),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetCapacity returns the remaining deposit capacity
func (ws *WebServer) handleGetCapacity(w http.ResponseWriter, r *http.Request) {
	capacity, err := ws.vault.Reader().AdditionalCapacity(r.Context())
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to compute capacity")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to compute capacity")
		return
	}

	response := map[string]interface{}{
		"additional_capacity": capacity.String(),
		"timestamp":           time.Now().UTC(),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetShares returns one account's share balance
func (ws *WebServer) handleGetShares(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	account := vars["account"]
	if account == "" {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Missing account")
		return
	}

	response := map[string]interface{}{
		"account":      account,
		"shares":       ws.vault.ShareBalance(account).String(),
		"total_shares": ws.vault.TotalShares().String(),
		"timestamp":    time.Now().UTC(),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
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
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
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

		webLogger.Info().
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
