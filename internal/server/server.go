// Package server is the runtime's HTTP surface: health, metrics, the
// WebSocket transport and a small JSON API over the engine.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/viewsync/internal/engine"
	"github.com/roach88/viewsync/internal/observability"
)

// Version is reported by /health.
const Version = "0.1.0"

// Server routes HTTP requests to one engine and its channel transport.
type Server struct {
	engine    *engine.Engine
	transport http.Handler
	logger    *slog.Logger
	started   time.Time

	router *gin.Engine
}

// New builds the router. transport serves /ws.
func New(eng *engine.Engine, transport http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware())

	s := &Server{
		engine:    eng,
		transport: transport,
		logger:    logger,
		started:   time.Now(),
		router:    r,
	}
	s.registerRoutes()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/ws", gin.WrapH(s.transport))

	s.router.GET("/state", s.state)
	s.router.GET("/view", s.view)
	s.router.POST("/view/mount", s.mount)
	s.router.POST("/view/unmount", s.unmount)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.started).String(),
		"version": Version,
	})
}

func (s *Server) state(c *gin.Context) {
	snap, err := s.engine.State(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) view(c *gin.Context) {
	ctx := c.Request.Context()
	status, err := s.engine.Status(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	body := gin.H{"status": status}
	if scene, ok, err := s.engine.Scene(ctx); err != nil {
		s.fail(c, err)
		return
	} else if ok {
		body["scene"] = scene
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) mount(c *gin.Context) {
	res, err := s.engine.Mount(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) unmount(c *gin.Context) {
	if err := s.engine.Unmount(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// fail maps engine errors to HTTP statuses.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrViewMounted), errors.Is(err, engine.ErrNoView):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
