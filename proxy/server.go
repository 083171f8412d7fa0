package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	ginmw "github.com/jassus213/go-finance-proxy/middleware/gin"
	"github.com/jassus213/go-finance-proxy/ratelimiter"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// Addr is the address to listen on (e.g., ":8080").
	Addr string
	// KeyFunc identifies callers for rate limiting.
	KeyFunc ratelimiter.KeyFunc
	// GlobalLimiter, when set, caps each caller's requests across all hosts
	// before any other processing.
	GlobalLimiter ratelimiter.Limiter
	// ReadHeaderTimeout bounds how long a client may take to send headers.
	ReadHeaderTimeout time.Duration
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
	Logger          ratelimiter.Logger
}

// Server serves the proxy over HTTP.
type Server struct {
	cfg    ServerConfig
	engine *gin.Engine
	http   *http.Server
}

// NewServer builds the gin engine and routes for svc.
func NewServer(cfg ServerConfig, svc *Service) *Server {
	if cfg.Logger == nil {
		cfg.Logger = ratelimiter.NopLogger()
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ratelimiter.RemoteIP
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), ginmw.RequestID(), ginmw.AccessLog(cfg.Logger))
	if cfg.GlobalLimiter != nil {
		engine.Use(ginmw.RateLimiter(cfg.GlobalLimiter, "global",
			ratelimiter.WithKeyFunc(cfg.KeyFunc),
			ratelimiter.WithLogger(cfg.Logger),
			ratelimiter.WithErrorHandler(GlobalLimitExceeded),
		))
	}

	NewHandler(svc, cfg.KeyFunc, cfg.Logger).Register(engine)

	return &Server{
		cfg:    cfg,
		engine: engine,
		http: &http.Server{
			Addr:              cfg.Addr,
			Handler:           engine,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on the configured address and serves until ctx is canceled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.cfg.Logger.Infof("finance proxy listening on %s", ln.Addr())
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.cfg.Logger.Infof("shutting down")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
