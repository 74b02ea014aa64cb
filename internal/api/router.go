package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/transcript-refinery/internal/cluster"
	"github.com/jonesrussell/transcript-refinery/internal/config"
	"github.com/jonesrussell/transcript-refinery/internal/logger"
	"github.com/jonesrussell/transcript-refinery/internal/metrics"
)

// Default timeout and health constants.
const (
	defaultReadTimeout  = 30 * time.Second
	defaultWriteTimeout = 60 * time.Second
	defaultIdleTimeout  = 120 * time.Second
	healthCheckTimeout  = 2 * time.Second
	serviceVersion      = "1.0.0"
)

// Router holds the API dependencies
type Router struct {
	manager     *cluster.Manager
	redisClient *redis.Client
	cfg         *config.Config
	metrics     *metrics.Metrics
	logger      logger.Logger
}

// NewRouter creates a new API router
func NewRouter(manager *cluster.Manager, redisClient *redis.Client, cfg *config.Config, m *metrics.Metrics, log logger.Logger) *Router {
	return &Router{
		manager:     manager,
		redisClient: redisClient,
		cfg:         cfg,
		metrics:     m,
		logger:      log,
	}
}

// NewServer builds the gin engine and wraps it in an http.Server.
func (r *Router) NewServer() *http.Server {
	if !r.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware(r.cfg.Server.CORSOrigins))
	engine.Use(requestLogger(r.logger))

	r.setupRoutes(engine)

	readTimeout := r.cfg.Server.ReadTimeout
	if readTimeout == 0 {
		readTimeout = defaultReadTimeout
	}
	writeTimeout := r.cfg.Server.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = defaultWriteTimeout
	}

	return &http.Server{
		Addr:         r.cfg.Server.Address,
		Handler:      engine,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}
}

func (r *Router) setupRoutes(engine *gin.Engine) {
	handlers := NewHandlers(r.manager, r.metrics, r.logger, serviceVersion)

	engine.GET("/health", handlers.Health)
	engine.GET("/health/redis", r.redisHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/api/v1")
	{
		v1.POST("/clusters", handlers.CreateCluster)
		v1.GET("/clusters", handlers.ListClusters)
		v1.GET("/clusters/:id", handlers.GetCluster)
		v1.GET("/clusters/:id/status", handlers.GetClusterStatus)
		v1.POST("/clusters/:id/ingest", handlers.StartIngestion)
		v1.POST("/clusters/:id/synthesize", handlers.StartSynthesis)
		v1.GET("/clusters/:id/report", handlers.GetReport)

		v1.POST("/videos", handlers.CreateVideoTask)
		v1.GET("/tasks/:id", handlers.GetTask)
	}
}

// redisHealth reports whether the backing store is reachable.
func (r *Router) redisHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	if err := r.redisClient.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
