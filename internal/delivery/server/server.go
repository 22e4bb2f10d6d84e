// Package server is the HTTP surface of the agenda bot: health, metrics,
// and the websocket chat endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"agendabot/internal/infra/observability"
	"agendabot/internal/shared/logging"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const defaultShutdownTimeout = 10 * time.Second

// Config configures the HTTP server.
type Config struct {
	Addr            string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
	Version         string
}

// HealthSource reports live hub state for /healthz.
type HealthSource interface {
	Subscribers() int
}

// Server owns the gin engine and the listening http.Server.
type Server struct {
	cfg    Config
	engine *gin.Engine
	logger logging.Logger
}

// New builds the router. ws may be nil when the web channel is disabled.
func New(cfg Config, health HealthSource, metrics *observability.MetricsCollector, ws http.Handler, logger logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	logger = logging.OrNop(logger)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware(cfg.AllowedOrigins))
	engine.Use(requestMiddleware(logger, metrics))

	engine.GET("/healthz", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if health != nil {
			body["subscribers"] = health.Subscribers()
		}
		if cfg.Version != "" {
			body["version"] = cfg.Version
		}
		c.JSON(http.StatusOK, body)
	})
	if metrics.Enabled() {
		engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	if ws != nil {
		engine.GET("/ws", gin.WrapH(ws))
	}

	return &Server{cfg: cfg, engine: engine, logger: logger}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on cfg.Addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)

	serveErr := <-errCh
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}
	if shutdownErr != nil {
		return fmt.Errorf("shutdown: %w", shutdownErr)
	}
	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	s.logger.Info("Server stopped")
	return nil
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWebSockets = true
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	return cors.New(corsConfig)
}

func requestMiddleware(logger logging.Logger, metrics *observability.MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		duration := time.Since(start)
		metrics.RecordHTTPServerRequest(c.Request.Context(), c.Request.Method, route, status, duration)
		if route != "/healthz" && route != "/metrics" {
			logger.Debug("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, duration)
		}
	}
}
