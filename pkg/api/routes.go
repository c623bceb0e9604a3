package api

import (
	"github.com/gin-gonic/gin"

	"github.com/rzzdr/qdfp-pricer/pkg/metrics"
)

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(ErrorMiddleware())
	s.router.Use(LoggingMiddleware())
	if s.recorder != nil {
		s.router.Use(MetricsMiddleware(s.recorder))
	}
	s.router.Use(CORSMiddleware(s.config.CORS))

	s.router.GET("/health", s.handlers.HealthCheckHandler)

	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(metrics.Handler(s.gatherer)))
	}

	v1 := s.router.Group("/api/v1")
	group := v1.Group("/american")
	if s.config.RateLimit > 0 {
		group.Use(RateLimitMiddleware(s.config.RateLimit, s.config.RateBurst))
	}
	group.Use(TimeoutMiddleware(s.config.RequestTimeout))
	{
		group.POST("/price", s.handlers.PriceHandler)
		group.POST("/greeks", s.handlers.GreeksHandler)
		group.POST("/implied-vol", s.handlers.ImpliedVolHandler)
		group.POST("/boundary", s.handlers.BoundaryHandler)
		group.POST("/batch", s.handlers.BatchHandler)
		group.GET("/scheme", s.handlers.SchemeHandler)
	}

	if s.hub != nil {
		s.router.GET("/ws/results", gin.WrapF(s.hub.HandleWebSocket))
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{"error": "Not found"})
	})
}
