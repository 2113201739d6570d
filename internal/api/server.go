package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pixelatedempathy/aegis/internal/bridge"
	"github.com/pixelatedempathy/aegis/internal/core"
)

// Server is the aegis REST API server.
type Server struct {
	orch   *core.Orchestrator
	cfg    *core.Config
	server *http.Server
	logger zerolog.Logger
}

// NewServer creates a new API server. bridgeMW and registry are optional;
// when set, all /api routes pass through the bridged rate limiter and
// /metrics exposes the registry.
func NewServer(logger zerolog.Logger, cfg *core.Config, orch *core.Orchestrator, bridgeMW *bridge.Bridge, registry *prometheus.Registry) *Server {
	s := &Server{
		orch:   orch,
		cfg:    cfg,
		logger: logger.With().Str("component", "api_server").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/responses", s.handleResponses)
	mux.HandleFunc("/api/v1/responses/", s.handleResponseByID)
	mux.HandleFunc("/api/v1/escalate", s.handleEscalate)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/health", s.handleHealth)
	if registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	// Middleware chain: CORS -> logging -> bridge -> auth -> handler
	var handler http.Handler = authMiddleware(mux, cfg, s.logger)
	if bridgeMW != nil {
		handler = bridgeMW.Middleware(handler)
	}
	handler = corsMiddleware(loggingMiddleware(handler, s.logger), cfg.Server.CORSOrigins)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins serving the API.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("API server starting")
	if s.cfg.AuthEnabled() {
		s.logger.Info().Int("keys", len(s.cfg.APIKeys())).Msg("API authentication enabled")
	} else {
		s.logger.Warn().Msg("API authentication disabled, set api_keys in config or AEGIS_API_KEY env var")
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// handleResponses handles GET (list) and POST (orchestrate) on
// /api/v1/responses.
func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limitStr := r.URL.Query().Get("limit")
		limit := 100
		if limitStr != "" {
			if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
				limit = l
			}
		}
		responses, err := s.orch.List(r.Context(), limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list responses"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"responses": responses,
			"total":     len(responses),
		})

	case http.MethodPost:
		var data core.ThreatData
		limited := io.LimitReader(r.Body, 1<<20)
		if err := json.NewDecoder(limited).Decode(&data); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid threat JSON: " + err.Error()})
			return
		}
		resp, err := s.orch.OrchestrateResponse(r.Context(), data)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, core.ErrValidation) {
				status = http.StatusBadRequest
			}
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, resp)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleResponseByID handles /api/v1/responses/{id} and its
// /execute and /rollback sub-resources.
func (s *Server) handleResponseByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/responses/")
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		s.handleResponses(w, r)
		return
	}

	id := path
	action := ""
	if idx := strings.IndexByte(path, '/'); idx != -1 {
		id, action = path[:idx], path[idx+1:]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		resp, err := s.orch.Find(r.Context(), id)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "response not found"})
			return
		}
		writeJSON(w, http.StatusOK, resp)

	case action == "execute" && r.Method == http.MethodPost:
		resp, err := s.orch.ExecuteResponse(r.Context(), id)
		s.writeTransitionResult(w, resp, err)

	case action == "rollback" && r.Method == http.MethodPost:
		resp, err := s.orch.RollbackResponse(r.Context(), id)
		s.writeTransitionResult(w, resp, err)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) writeTransitionResult(w http.ResponseWriter, resp *core.ThreatResponse, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, core.ErrResponseNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "response not found"})
	case errors.Is(err, core.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// handleEscalate handles POST /api/v1/escalate with {"threat_id": "..."}.
func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		ThreatID string `json:"threat_id"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if body.ThreatID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "threat_id is required"})
		return
	}
	resp, err := s.orch.EscalateThreat(r.Context(), body.ThreatID)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Stats())
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// authMiddleware enforces API key authentication on all endpoints except
// /health and /metrics. Keys come from config (server.api_keys) or env
// (AEGIS_API_KEY). With no keys configured all requests are allowed.
func authMiddleware(next http.Handler, cfg *core.Config, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		if !cfg.AuthEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("Authorization")
		if strings.HasPrefix(key, "Bearer ") {
			key = key[7:]
		}
		if key == "" {
			key = r.Header.Get("X-API-Key")
		}
		if key == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "missing authentication, provide Authorization: Bearer <key> or X-API-Key header",
			})
			return
		}

		if !cfg.CheckAPIKey(key) {
			logger.Warn().Str("path", r.URL.Path).Str("ip", r.RemoteAddr).Msg("invalid API key")
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid API key"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := "*"
		if len(allowedOrigins) > 0 {
			allowed = ""
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = origin
					break
				}
			}
			if allowed == "" {
				next.ServeHTTP(w, r)
				return
			}
		}
		w.Header().Set("Access-Control-Allow-Origin", allowed)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		if len(allowedOrigins) > 0 && allowedOrigins[0] != "*" {
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
