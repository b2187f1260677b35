package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vigildash/vigil/internal/config"
	"github.com/vigildash/vigil/internal/escalation"
	"github.com/vigildash/vigil/internal/utils"
	"github.com/vigildash/vigil/internal/websocket"
)

// Router assembles the HTTP surface: escalation endpoints, stats, health,
// and the WebSocket upgrade path.
type Router struct {
	cfg         *config.Config
	manager     *escalation.Manager
	wsHub       *websocket.Hub
	escalations *EscalationHandlers
	version     string
	startedAt   time.Time
}

// NewRouter creates the router with all handlers wired.
func NewRouter(cfg *config.Config, manager *escalation.Manager, wsHub *websocket.Hub, version string) *Router {
	return &Router{
		cfg:         cfg,
		manager:     manager,
		wsHub:       wsHub,
		escalations: NewEscalationHandlers(manager),
		version:     version,
		startedAt:   time.Now(),
	}
}

// Handler returns the root HTTP handler.
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", r.handleHealth)
	mux.HandleFunc("/api/escalations", r.escalations.HandleCollection)
	mux.HandleFunc("/api/escalations/", r.escalations.HandleEscalations)
	if r.wsHub != nil {
		mux.HandleFunc("/ws", r.wsHub.HandleWebSocket)
	}

	return r.withMiddleware(mux)
}

// handleHealth returns a liveness payload for probes and the dashboard shell.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	utils.WriteJSONResponse(w, map[string]interface{}{
		"status":  "ok",
		"version": r.version,
		"uptime":  time.Since(r.startedAt).Round(time.Second).String(),
	})
}

// withMiddleware wraps the mux with request logging and CORS headers.
func (r *Router) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()

		if origin := req.Header.Get("Origin"); origin != "" && r.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)

		log.Debug().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

func (r *Router) originAllowed(origin string) bool {
	if r.cfg == nil || r.cfg.AllowedOrigins == "" {
		return false
	}
	for _, allowed := range strings.Split(r.cfg.AllowedOrigins, ",") {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
