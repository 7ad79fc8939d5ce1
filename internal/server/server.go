// ABOUTME: HTTP and gRPC servers for health checks and dispatcher statistics.
// ABOUTME: Runs until the context is cancelled, then shuts both down gracefully.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/coven-bot/internal/plugins"
)

// ServiceName is the gRPC health service name reported for the bot.
const ServiceName = "coven.bot"

const shutdownTimeout = 5 * time.Second

// StatsSource reports dispatcher statistics.
type StatsSource interface {
	GetStats() plugins.Stats
}

// Config holds the server's collaborators and listen addresses.
// An empty address disables that server.
type Config struct {
	HTTPAddr string
	GRPCAddr string
	Stats    StatsSource
	// Ready reports how many sessions are connected.
	Ready  func() int
	Logger *slog.Logger
}

// Server serves the operational endpoints.
type Server struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
}

// New creates a Server. Nothing listens until Run.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Ready == nil {
		cfg.Ready = func() int { return 1 }
	}

	s := &Server{
		cfg:    cfg,
		logger: logger.With("component", "server"),
		health: health.NewServer(),
	}

	s.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)
	mux.HandleFunc("GET /stats", s.handleStats)
	return mux
}

// SetReady updates the gRPC health status.
func (s *Server) SetReady(ready bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", status)
}

// Run starts the configured servers and blocks until ctx is cancelled or a
// server fails. Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	if s.cfg.GRPCAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listening on gRPC address: %w", err)
		}
		go func() {
			s.logger.Info("gRPC health server listening", "addr", ln.Addr().String())
			if err := s.grpcServer.Serve(ln); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	if s.cfg.HTTPAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			s.grpcServer.Stop()
			return fmt.Errorf("listening on HTTP address: %w", err)
		}
		go func() {
			s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
			if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("HTTP server: %w", err)
			}
		}()
	}

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := s.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Shutdown stops both servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	err := s.httpServer.Shutdown(ctx)

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
	if err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	sessions := s.cfg.Ready()
	if sessions == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no sessions connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d sessions)", sessions)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Stats == nil {
		http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.cfg.Stats.GetStats()); err != nil {
		s.logger.Error("encoding stats", "error", err)
	}
}
