// Package api provides the HTTP surface of the rewards service: event
// ingestion, quota checks, balance and leaderboard queries, admin grants,
// and a live reward feed over SSE.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/eduquiz/rewards/internal/ledger"
	"github.com/eduquiz/rewards/internal/ratelimit"
)

// Server is the rewards HTTP API server.
type Server struct {
	ledger         *ledger.Service
	limiter        *ratelimit.Limiter
	feed           *FeedHub
	metricsEnabled bool
	throttle       *rate.Limiter
}

// NewServer creates a server over the ledger and limiter.
func NewServer(svc *ledger.Service, limiter *ratelimit.Limiter) *Server {
	return &Server{
		ledger:  svc,
		limiter: limiter,
		// Blanket ingress throttle; per-user quotas live in the limiter.
		throttle: rate.NewLimiter(rate.Limit(200), 400),
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetFeed sets the live reward feed hub.
func (s *Server) SetFeed(h *FeedHub) { s.feed = h }

// Feed returns the live feed hub, nil when not set.
func (s *Server) Feed() *FeedHub { return s.feed }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)
	r.Use(s.throttleMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/events", s.handleIngestEvent)
		r.Post("/ratelimit/check", s.handleRateLimitCheck)
		r.Get("/users/{id}/balance", s.handleBalance)
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Post("/admin/grants", s.handleAdminGrant)
	})

	if s.feed != nil {
		r.Get("/api/rewards/live", s.feed.HandleSSE)
	}

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// throttleMiddleware sheds load when ingress exceeds the blanket rate.
func (s *Server) throttleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.throttle.Allow() {
			writeError(w, http.StatusTooManyRequests, "server busy, retry shortly")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers for browser clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
