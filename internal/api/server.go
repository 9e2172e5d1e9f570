// Package api exposes the local control bridge: a loopback-only Gin server the
// desktop UI uses to drive logins and follow authentication events.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aquila-desktop/aquila-auth/internal/access"
	"github.com/aquila-desktop/aquila-auth/internal/api/handlers/management"
	"github.com/aquila-desktop/aquila-auth/internal/api/middleware"
	"github.com/aquila-desktop/aquila-auth/internal/config"
	"github.com/aquila-desktop/aquila-auth/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Server is the control bridge HTTP server.
type Server struct {
	engine   *gin.Engine
	server   *http.Server
	listener net.Listener
	addr     string
}

// NewServer builds the bridge routes. gatherer may be nil to omit /metrics.
func NewServer(cfg *config.Config, coord management.Coordinator, gatherer prometheus.Gatherer) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery(), middleware.NoStore(), middleware.LoopbackOnly())

	engine.GET("/healthz", func(c *gin.Context) {
		logging.SkipGinRequestLogging(c)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		engine.GET("/metrics", access.Middleware(cfg.API.SecretKey), gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	h := management.NewHandler(coord)
	v0 := engine.Group("/v0/auth", access.Middleware(cfg.API.SecretKey))
	{
		v0.POST("/login", h.PostLogin)
		v0.POST("/cancel", h.PostCancel)
		v0.POST("/callback", h.PostCallback)
		v0.POST("/logout", h.PostLogout)
		v0.POST("/refresh", h.PostRefresh)
		v0.GET("/status", h.GetStatus)
		v0.GET("/events", h.GetEvents)
	}

	addr := net.JoinHostPort(cfg.API.Host, fmt.Sprint(cfg.API.Port))
	return &Server{
		engine: engine,
		addr:   addr,
		server: &http.Server{
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the route tree, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Listen binds the configured address. It must be called before Serve.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("control bridge: listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.addr = ln.Addr().String()
	return nil
}

// Addr returns the bound address once Listen succeeded.
func (s *Server) Addr() string { return s.addr }

// Serve blocks until Stop is called.
func (s *Server) Serve() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	log.Infof("control bridge listening on http://%s", s.addr)
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control bridge: %w", err)
	}
	return nil
}

// Stop shuts the server down, waiting for in-flight requests until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("stopping control bridge")
	if err := s.server.Shutdown(ctx); err != nil {
		return s.server.Close()
	}
	return nil
}
