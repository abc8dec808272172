// ABOUTME: HTTP and optional gRPC health servers for coven-router
// ABOUTME: Manages listeners, serving goroutines, and graceful shutdown

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/2389/coven-router/internal/router"
)

// HealthService is the gRPC service name whose status follows the router.
// The empty service name reports the same status.
const HealthService = "coven.router.Router"

// ServerParams configures a Server.
type ServerParams struct {
	HTTPAddr string
	// GRPCAddr is optional; empty disables the gRPC health endpoint.
	GRPCAddr string
	Handler  http.Handler
	Logger   *slog.Logger
}

// Server runs the HTTP intake and the optional gRPC health endpoint.
type Server struct {
	httpAddr string
	grpcAddr string
	logger   *slog.Logger

	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server

	mu     sync.Mutex
	httpLn net.Listener
	grpcLn net.Listener
}

// NewServer creates a Server. Nothing listens until Start.
func NewServer(p ServerParams) *Server {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	s := &Server{
		httpAddr: p.HTTPAddr,
		grpcAddr: p.GRPCAddr,
		logger:   p.Logger.With("component", "transport"),
		httpServer: &http.Server{
			Addr:              p.HTTPAddr,
			Handler:           p.Handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	if p.GRPCAddr != "" {
		s.grpcServer = grpc.NewServer(
			grpc.KeepaliveParams(keepalive.ServerParameters{
				Time:    15 * time.Second,
				Timeout: 5 * time.Second,
			}),
			grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
				MinTime:             5 * time.Second,
				PermitWithoutStream: true,
			}),
		)
		s.health = health.NewServer()
		healthpb.RegisterHealthServer(s.grpcServer, s.health)
		reflection.Register(s.grpcServer)
		s.SetRouterState(router.StateCreated)
	}
	return s
}

// SetRouterState maps a router state onto the gRPC health status. It does
// not block, so it can be used as the router's OnStateChange hook.
func (s *Server) SetRouterState(state router.State) {
	if s.health == nil {
		return
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if state == router.StateRunning {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(HealthService, status)
}

// Start opens the listeners and serves in background goroutines. Serving
// failures are delivered on the returned channel.
func (s *Server) Start() (<-chan error, error) {
	httpLn, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	var grpcLn net.Listener
	if s.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", s.grpcAddr)
		if err != nil {
			_ = httpLn.Close()
			return nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	s.mu.Lock()
	s.httpLn, s.grpcLn = httpLn, grpcLn
	s.mu.Unlock()

	return s.startServers(httpLn, grpcLn), nil
}

// startServers starts the HTTP and gRPC servers in goroutines, returning the error channel.
func (s *Server) startServers(httpLn, grpcLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		s.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := s.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	if grpcLn != nil {
		go func() {
			s.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := s.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	return errCh
}

// HTTPAddr returns the bound HTTP address, or "" before Start.
func (s *Server) HTTPAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpLn == nil {
		return ""
	}
	return s.httpLn.Addr().String()
}

// GRPCAddr returns the bound gRPC address, or "" when disabled or before Start.
func (s *Server) GRPCAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grpcLn == nil {
		return ""
	}
	return s.grpcLn.Addr().String()
}

// Shutdown stops both servers. gRPC is stopped gracefully, or forcibly
// when ctx ends first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down transport")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	if s.grpcServer != nil {
		s.health.Shutdown()
		s.shutdownGRPCServer(ctx)
	}

	return errors.Join(errs...)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (s *Server) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}
