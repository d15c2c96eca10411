// Package control is the JSON control/metrics HTTP surface:
// execution-arm toggles, live-tunable updates, a state snapshot, the
// event feed, missed-trade rows, and Prometheus metrics. The dashboard UI
// itself is an out-of-scope external product; this package is the contract
// it calls into.
//
// Mutating routes sit behind a timing-safe bearer-token middleware;
// request logs redact any token passed in the URL query.
package control

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/eventbus"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/journal"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/models"
	"github.com/eddiefleurent/nifty-breakout-engine/internal/runner"
)

// RunnerAPI is the subset of *runner.Runner the control surface drives,
// extracted as an interface so tests can substitute a fake.
type RunnerAPI interface {
	SetExecutionArmed(bool)
	ExecutionArmed() bool
	UpdateTunables(validate func() error, t models.RunnerTunables) error
	Tunables() models.RunnerTunables
	Snapshot() runner.Snapshot
}

// Config configures the control server.
type Config struct {
	Port      int
	AuthToken string
}

// Server is the chi-routed control/metrics surface.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	runner    RunnerAPI
	bus       *eventbus.Bus
	missed    *journal.Journal
	logger    *logrus.Logger
	port      int
	authToken string
	validate  func(models.RunnerTunables) error
}

// New returns a Server wired to runner, bus, and the missed-trades journal.
// validate is called against a proposed RunnerTunables update before it is
// applied (normally config.ValidateTunables bound to the live config's
// static fields); a nil validate accepts every update.
func New(cfg Config, r RunnerAPI, bus *eventbus.Bus, missed *journal.Journal, logger *logrus.Logger, validate func(models.RunnerTunables) error) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	if validate == nil {
		validate = func(models.RunnerTunables) error { return nil }
	}
	s := &Server{
		router:    chi.NewRouter(),
		runner:    r,
		bus:       bus,
		missed:    missed,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
		validate:  validate,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLoggerMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(15 * time.Second))

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/control", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(s.authMiddleware)
		}
		r.Post("/arm", s.handleArm)
		r.Post("/disarm", s.handleDisarm)
		r.Post("/tunables", s.handleSetTunables)
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/events", s.handleEvents)
		r.Get("/missed", s.handleMissed)
	})
}

func (s *Server) requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loggedURL := redactTokenFromURL(r.URL)
		entry := s.logger.WithFields(logrus.Fields{
			"method": r.Method,
			"url":    loggedURL.String(),
		})
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		entry.WithFields(logrus.Fields{
			"status":   wrapped.Status(),
			"duration": time.Since(start),
		}).Info("control request")
	})
}

func redactTokenFromURL(u *url.URL) *url.URL {
	out := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path, RawQuery: u.RawQuery}
	if u.RawQuery != "" {
		values := u.Query()
		if values.Has("token") {
			values.Set("token", "[REDACTED]")
		}
		out.RawQuery = values.Encode()
	}
	return out
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if !s.isValidToken(token) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isValidToken(token string) bool {
	if len(token) != len(s.authToken) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) == 1
}

// Start runs the HTTP server until it is shut down. Blocking; meant to
// run on its own goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Infof("control: listening on port %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleArm(w http.ResponseWriter, _ *http.Request) {
	s.runner.SetExecutionArmed(true)
	writeJSON(w, http.StatusOK, s.runner.Snapshot())
}

func (s *Server) handleDisarm(w http.ResponseWriter, _ *http.Request) {
	s.runner.SetExecutionArmed(false)
	writeJSON(w, http.StatusOK, s.runner.Snapshot())
}

func (s *Server) handleSetTunables(w http.ResponseWriter, r *http.Request) {
	var t models.RunnerTunables
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		http.Error(w, fmt.Sprintf("invalid body: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.runner.UpdateTunables(func() error { return s.validate(t) }, t); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, s.runner.Snapshot())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Snapshot())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeJSON(w, http.StatusOK, []eventbus.Event{})
		return
	}
	eventType := eventbus.EventType(r.URL.Query().Get("type"))
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, s.bus.History(eventType, limit))
}

func (s *Server) handleMissed(w http.ResponseWriter, _ *http.Request) {
	if s.missed == nil {
		writeJSON(w, http.StatusOK, []journal.Entry{})
		return
	}
	entries, err := s.missed.AllEntries()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var missed []journal.Entry
	for _, e := range entries {
		if e.Status == models.TradeStatusFailed || strings.EqualFold(e.PostOutcome, "missed") {
			missed = append(missed, e)
		}
	}
	writeJSON(w, http.StatusOK, missed)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
