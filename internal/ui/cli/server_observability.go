package cli

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"omniworker/internal/core/app"
	"omniworker/internal/core/config"
	"omniworker/internal/shared/util"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ObservabilityServer struct {
	addr          string
	healthService *app.HealthService
	limiters      *util.LimiterRegistry
	server        *http.Server
}

// NewObservabilityServer serves /metrics and /health. When limit is enabled
// each client address gets its own request budget.
func NewObservabilityServer(addr string, healthService *app.HealthService, limit config.RateLimit) *ObservabilityServer {
	s := &ObservabilityServer{
		addr:          addr,
		healthService: healthService,
	}
	if limit.Enabled && limit.RequestsPerMinute > 0 {
		s.limiters = util.NewLimiterRegistry(float64(limit.RequestsPerMinute)/60.0, limit.Burst, 10*time.Minute)
	}
	return s
}

func (s *ObservabilityServer) Handler() http.Handler {
	mux := http.NewServeMux()

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := s.healthService.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if status.Status != "up" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})

	if s.limiters == nil {
		return mux
	}
	return s.rateLimited(mux)
}

func (s *ObservabilityServer) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := s.limiters.Get(clientKey(r))
		if !limiter.Allow(1) {
			retry := int(limiter.RetryAfter().Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *ObservabilityServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("observability server starting", "addr", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("observability server failed", "error", err)
		}
	}()

	return nil
}

func (s *ObservabilityServer) Stop(ctx context.Context) error {
	if s.limiters != nil {
		s.limiters.Close()
	}
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
