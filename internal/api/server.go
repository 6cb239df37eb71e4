// Package api exposes the operator HTTP surface: governance decisions,
// trust queries, threshold management, and the live event stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jordanhubbard/sentinel/internal/auth"
	"github.com/jordanhubbard/sentinel/internal/engine"
	"github.com/jordanhubbard/sentinel/internal/metrics"
	"github.com/jordanhubbard/sentinel/pkg/config"
)

// Server is the operator HTTP API server.
type Server struct {
	engine     *engine.Engine
	auth       *auth.Manager
	metrics    *metrics.Metrics
	cfg        *config.Config
	httpServer *http.Server
}

// NewServer creates the API server.
func NewServer(eng *engine.Engine, authMgr *auth.Manager, m *metrics.Metrics, cfg *config.Config) *Server {
	return &Server{engine: eng, auth: authMgr, metrics: m, cfg: cfg}
}

// SetupRoutes configures HTTP routes and the middleware chain.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", s.handleLogin)

	// Governance decisions
	mux.HandleFunc("/api/v1/loops/", s.handleLoop)

	// Trust
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/agents/", s.handleAgent)
	mux.HandleFunc("/api/v1/trust/evaluate", s.handleEvaluate)

	// Thresholds
	mux.HandleFunc("/api/v1/thresholds", s.handleThresholdProjects)
	mux.HandleFunc("/api/v1/thresholds/", s.handleThresholds)

	// Beliefs and drift
	mux.HandleFunc("/api/v1/beliefs", s.handleBeliefs)
	mux.HandleFunc("/api/v1/beliefs/", s.handleBelief)
	mux.HandleFunc("/api/v1/violations", s.handleViolations)

	// Reroutes
	mux.HandleFunc("/api/v1/reroutes", s.handleReroutes)

	// Events
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/events/stream", s.handleEventStream)

	var handler http.Handler = mux
	handler = s.authMiddleware(handler)
	handler = s.corsMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	return otelhttp.NewHandler(handler, "sentinel-api")
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		Handler:      s.SetupRoutes(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	log.Printf("[API] Listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Middleware

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		duration := time.Since(start)
		log.Printf("[API] %s %s %d %s", r.Method, r.URL.Path, rec.status, duration)
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rec.status), duration.Seconds())
		}
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health, login, metrics, and the event stream stay open.
		if r.URL.Path == "/api/v1/health" ||
			r.URL.Path == "/api/v1/auth/login" ||
			r.URL.Path == "/api/v1/events/stream" ||
			r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		if !s.cfg.Auth.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			s.respondError(w, http.StatusUnauthorized, "Missing bearer token")
			return
		}
		claims, err := s.auth.ValidateToken(token)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		permission := "governance:read"
		if r.Method != http.MethodGet {
			permission = "governance:write"
			if strings.HasPrefix(r.URL.Path, "/api/v1/thresholds") {
				permission = "thresholds:write"
			}
		}
		if !s.auth.HasPermission(claims, permission) {
			s.respondError(w, http.StatusForbidden, "Insufficient permissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Helpers

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// extractPath splits the path remainder after prefix into segments.
func extractPath(path, prefix string) []string {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}
