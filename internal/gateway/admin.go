package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vyrodovalexey/avrouting/internal/config"
	"github.com/vyrodovalexey/avrouting/internal/observability"
)

// ginModeOnce ensures gin.SetMode is only called once.
var ginModeOnce sync.Once

// AdminServer exposes the routing core's operational surface: discovery and
// balancer views, instance management, health, and Prometheus metrics.
type AdminServer struct {
	core       *Core
	engine     *gin.Engine
	httpServer *http.Server
	logger     observability.Logger
	mu         sync.Mutex
	running    bool
}

// NewAdminServer creates the admin server and registers its routes.
func NewAdminServer(core *Core, cfg *config.Config, logger observability.Logger) *AdminServer {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &AdminServer{
		core:   core,
		engine: engine,
		logger: logger,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.AdminPort),
			Handler:      engine,
			ReadTimeout:  cfg.AdminReadTimeout.Duration(),
			WriteTimeout: cfg.AdminWriteTimeout.Duration(),
		},
	}

	s.registerRoutes()
	return s
}

// Engine returns the underlying gin engine, used by tests.
func (s *AdminServer) Engine() *gin.Engine {
	return s.engine
}

func (s *AdminServer) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.engine.GET("/services", s.handleListServices)
	s.engine.GET("/services/:name/health", s.handleServiceHealth)
	s.engine.GET("/stats", s.handleStats)

	s.engine.POST("/services/:name/instances", s.handleAddInstance)
	s.engine.DELETE("/services/:name/instances", s.handleRemoveInstance)
	s.engine.PUT("/services/:name/instances/weight", s.handleUpdateWeight)
}

func (s *AdminServer) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *AdminServer) handleListServices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"services": s.core.Registry().Discover(),
	})
}

func (s *AdminServer) handleServiceHealth(c *gin.Context) {
	name := c.Param("name")
	rec := s.core.Registry().CheckHealth(c.Request.Context(), name)
	c.JSON(http.StatusOK, gin.H{
		"service": name,
		"health":  rec,
	})
}

func (s *AdminServer) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"services": s.core.Balancer().Stats(),
	})
}

// instanceRequest is the body of instance management calls.
type instanceRequest struct {
	Address string `json:"address" binding:"required"`
	Weight  int    `json:"weight"`
}

func (s *AdminServer) handleAddInstance(c *gin.Context) {
	var req instanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.core.Balancer().AddInstance(c.Param("name"), req.Address, req.Weight)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *AdminServer) handleRemoveInstance(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address query parameter is required"})
		return
	}

	s.core.Balancer().RemoveInstance(c.Param("name"), address)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *AdminServer) handleUpdateWeight(c *gin.Context) {
	var req instanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.core.Balancer().UpdateWeight(c.Param("name"), req.Address, req.Weight)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start starts serving in a background goroutine.
func (s *AdminServer) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting admin server",
		observability.String("addr", s.httpServer.Addr),
	)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("admin server error", observability.Error(err))
		}
	}()

	return nil
}

// Shutdown gracefully stops the server.
func (s *AdminServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	s.logger.Info("shutting down admin server")
	return s.httpServer.Shutdown(shutdownCtx)
}
