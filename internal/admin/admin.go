// Package admin serves the node's health, status and metrics endpoints.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/legion/legion/internal/app"
	"github.com/legion/legion/pkg/logging"
)

// Health states
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

const maxGoroutines = 10000

// HealthStatus represents node health
type HealthStatus struct {
	Overall    string            `json:"overall"`
	Components map[string]string `json:"components"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Check reports the state of one component
type Check func(ctx context.Context) (string, error)

// HealthChecker runs named checks
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]Check
	now    func() time.Time
}

// NewHealthChecker creates a checker with the runtime and goroutine checks
func NewHealthChecker() *HealthChecker {
	hc := &HealthChecker{
		checks: make(map[string]Check),
		now:    time.Now,
	}
	hc.RegisterCheck("runtime", checkRuntime)
	hc.RegisterCheck("goroutines", checkGoroutines)
	return hc
}

// RegisterCheck registers a health check, replacing one of the same name
func (hc *HealthChecker) RegisterCheck(name string, check Check) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// Check runs all health checks
func (hc *HealthChecker) Check(ctx context.Context) HealthStatus {
	hc.mu.RLock()
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	checks := make(map[string]Check, len(hc.checks))
	for k, v := range hc.checks {
		checks[k] = v
	}
	hc.mu.RUnlock()
	sort.Strings(names)

	status := HealthStatus{
		Overall:    StatusHealthy,
		Components: make(map[string]string, len(names)),
		Timestamp:  hc.now(),
	}
	for _, name := range names {
		result, err := checks[name](ctx)
		if err != nil {
			status.Components[name] = "unhealthy: " + err.Error()
			status.Overall = StatusUnhealthy
			continue
		}
		status.Components[name] = result
	}
	return status
}

func checkRuntime(context.Context) (string, error) {
	return fmt.Sprintf("Go %s on %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH), nil
}

func checkGoroutines(context.Context) (string, error) {
	count := runtime.NumGoroutine()
	if count > maxGoroutines {
		return fmt.Sprintf("%d (high)", count), fmt.Errorf("too many goroutines")
	}
	return fmt.Sprintf("%d", count), nil
}

// HTTPHandler answers 200 when healthy and 503 otherwise
func (hc *HealthChecker) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := hc.Check(r.Context())
		code := http.StatusOK
		if status.Overall != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	})
}

type pinger interface {
	Ping(ctx context.Context) error
}

// SystemChecks registers store and registry checks for sys
func SystemChecks(hc *HealthChecker, sys *app.System) {
	hc.RegisterCheck("store", func(ctx context.Context) (string, error) {
		if p, ok := sys.Store.(pinger); ok {
			if err := p.Ping(ctx); err != nil {
				return "", err
			}
			return "redis reachable", nil
		}
		return sys.Config.Store.Driver, nil
	})
	hc.RegisterCheck("legion", func(ctx context.Context) (string, error) {
		st, err := sys.Swarms.Status(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s: %d/%d agents online", st.SystemHealth, st.OnlineAgents, st.TotalAgents), nil
	})
}

// Server provides the administrative HTTP endpoints of a node
type Server struct {
	sys     *app.System
	health  *HealthChecker
	logger  logging.Logger
	servers []*http.Server
}

// NewServer creates an admin server over sys
func NewServer(sys *app.System) *Server {
	hc := NewHealthChecker()
	SystemChecks(hc, sys)
	return &Server{sys: sys, health: hc, logger: sys.Logger}
}

// Health returns the server's checker so callers can add checks
func (s *Server) Health() *HealthChecker {
	return s.health
}

// Handler serves /health, /status and /runs, plus /metrics when metrics
// share the health port
func (s *Server) Handler(withMetrics bool) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", s.health.HTTPHandler())
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/runs", s.handleRuns)
	if withMetrics {
		mux.Handle("/metrics", s.sys.Metrics.Handler())
	}
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.sys.Swarms.Status(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.sys.Pipeline.Runs(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// Start listens on the configured health and metrics ports. When both are
// equal one listener serves everything. It returns once listeners are bound.
func (s *Server) Start() error {
	cfg := s.sys.Config
	metricsOn := cfg.Metrics.Enabled
	shared := metricsOn && cfg.Metrics.Port == cfg.System.HealthCheckPort

	if err := s.listen(cfg.System.HealthCheckPort, s.Handler(shared)); err != nil {
		return err
	}
	if metricsOn && !shared {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.sys.Metrics.Handler())
		if err := s.listen(cfg.Metrics.Port, mux); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) listen(port int, handler http.Handler) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.servers = append(s.servers, srv)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin server stopped", logging.Err(err), logging.Int("port", port))
		}
	}()
	s.logger.Info("admin server listening", logging.Int("port", port))
	return nil
}

// Shutdown gracefully stops every listener
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	for _, srv := range s.servers {
		errs = append(errs, srv.Shutdown(ctx))
	}
	s.servers = nil
	return errors.Join(errs...)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
