// ABOUTME: Server orchestrator that runs the HTTP API and the optional gRPC health service
// ABOUTME: Manages sessions, blob store, listeners (TCP or tailnet) and graceful shutdown

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/chatdeck/internal/auth"
	"github.com/2389/chatdeck/internal/config"
	"github.com/2389/chatdeck/internal/dedupe"
	"github.com/2389/chatdeck/internal/imagegen"
	"github.com/2389/chatdeck/internal/llm"
	"github.com/2389/chatdeck/internal/metrics"
	"github.com/2389/chatdeck/internal/session"
	"github.com/2389/chatdeck/internal/store"
)

// Deps are the collaborators a Server is built from. Backend and Chat are
// required; Images may be nil, in which case image routes report a config
// error. Metrics may be nil.
type Deps struct {
	Backend store.Backend
	Chat    llm.Generator
	Images  imagegen.Generator
	Metrics *metrics.Metrics
}

// Server serves the chat API. It owns the session manager, the blob backend
// and every listener it opens.
type Server struct {
	config     *config.Config
	backend    store.Backend
	sessions   *session.Manager
	chat       llm.Generator
	images     imagegen.Generator
	imageSvc   *imagegen.Service
	metrics    *metrics.Metrics
	dedupe     *dedupe.Keys
	verifier   *auth.JWTVerifier // nil in local-user mode
	grpcServer *grpc.Server      // nil unless a gRPC address or tailnet is configured
	health     *health.Server
	httpServer *http.Server
	tsnet      *tsnet.Server
	logger     *slog.Logger
}

// New creates a Server. It does not open any listener until Run.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Backend == nil {
		return nil, errors.New("server: backend is required")
	}
	if deps.Chat == nil {
		return nil, errors.New("server: chat generator is required")
	}

	ttl, maxKeys := cfg.Server.IdempotencyTTL, cfg.Server.IdempotencyMax
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxKeys <= 0 {
		maxKeys = 10000
	}

	s := &Server{
		config:  cfg,
		backend: deps.Backend,
		chat:    deps.Chat,
		images:  deps.Images,
		metrics: deps.Metrics,
		dedupe:  dedupe.New(ttl, maxKeys),
		logger:  logger.With("component", "server"),
	}
	if s.images != nil {
		s.imageSvc = imagegen.NewService(s.images, ImageDefaults(cfg.Image), logger)
	}

	mgrCfg := session.ManagerConfig{
		Backend:          deps.Backend,
		Generator:        deps.Chat,
		KeyPrefix:        cfg.Storage.Key,
		MaxConversations: cfg.Storage.MaxConversations,
		Logger:           logger,
	}
	if deps.Metrics != nil {
		mgrCfg.Recorder = deps.Metrics
	}
	s.sessions = session.NewManager(mgrCfg)

	if cfg.Auth.JWTSecret != "" {
		v, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Audience)
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		s.verifier = v
	}

	if cfg.Server.GRPCAddr != "" || cfg.Tailscale.Enabled {
		s.grpcServer, s.health = createGRPCServer()
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Sessions exposes the session manager
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// createGRPCServer creates a gRPC server carrying only the standard health service
func createGRPCServer() (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("chatdeck", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	return server, hs
}

// setupTCPListeners creates standard TCP listeners. grpcLn is nil when no
// gRPC address is configured.
func (s *Server) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	s.logger.Info("starting server",
		"http_addr", s.config.Server.HTTPAddr,
		"grpc_addr", s.config.Server.GRPCAddr,
	)

	httpLn, err = net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if s.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", s.config.Server.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	return grpcLn, httpLn, nil
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (s *Server) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" || s.config.Server.GRPCAddr != "" {
			s.logger.Warn("server.http_addr and server.grpc_addr are ignored when tailscale is enabled")
		}
		return s.setupTailscaleListeners(ctx)
	}
	return s.setupTCPListeners()
}

// startServers starts the servers in goroutines, returning the error channel.
func (s *Server) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			s.logger.Info("gRPC health service listening", "addr", grpcLn.Addr().String())
			if err := s.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		s.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := s.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// Run starts the servers and blocks until ctx is canceled or a server fails.
// Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	grpcLn, httpLn, err := s.setupListeners(ctx)
	if err != nil {
		return err
	}

	errCh := s.startServers(grpcLn, httpLn)

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
		select {
		case additionalErr := <-errCh:
			s.logger.Error("additional server error", "error", additionalErr)
		default:
		}
	}

	// ctx may already be canceled, so shut down on a fresh one
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()
	shutdownErr := s.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.config.Server.ShutdownTimeout > 0 {
		return s.config.Server.ShutdownTimeout
	}
	return 5 * time.Second
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
// An empty key is allowed when the state dir already holds a logged-in node.
func resolveTailscaleAuthKey(configured string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv("TS_AUTHKEY")
}

// setupTailscaleListeners creates a tsnet node and returns listeners on it.
func (s *Server) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := s.config.Tailscale

	if err := os.MkdirAll(tsCfg.StateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	s.tsnet = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       tsCfg.StateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   resolveTailscaleAuthKey(tsCfg.AuthKey),
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", tsCfg.StateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnet.Up(ctx)
	if err != nil {
		_ = s.tsnet.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)

	if s.grpcServer != nil {
		grpcLn, err = s.tsnet.Listen("tcp", ":50051")
		if err != nil {
			_ = s.tsnet.Close()
			return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
		}
	}

	httpLn, err = s.createTailscaleHTTPListener(tsCfg)
	if err != nil {
		if grpcLn != nil {
			_ = grpcLn.Close()
		}
		_ = s.tsnet.Close()
		return nil, nil, err
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener picks funnel, HTTPS or plain HTTP on the tailnet.
func (s *Server) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		s.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := s.tsnet.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		s.logger.Info("enabling HTTPS with Tailscale certs on :443")
		ln, err := s.tsnet.Listen("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
		}
		lc, err := s.tsnet.LocalClient()
		if err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("getting tailscale local client: %w", err)
		}
		return tls.NewListener(ln, &tls.Config{
			GetCertificate: lc.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}), nil
	default:
		ln, err := s.tsnet.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on ctx cancel.
func (s *Server) shutdownGRPCServer(ctx context.Context) {
	if s.grpcServer == nil {
		return
	}
	s.health.Shutdown()

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

// Shutdown gracefully stops all servers and releases resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	s.shutdownGRPCServer(ctx)

	if s.tsnet != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnet.Close())
	}

	s.sessions.Close()
	s.dedupe.Close()
	errs = appendCloseError(errs, "store close", s.backend.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the blob store is reachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.backend.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d sessions)", s.sessions.ActiveSessions())
}
