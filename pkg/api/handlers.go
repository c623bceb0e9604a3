package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rzzdr/qdfp-pricer/internal/numeric"
	"github.com/rzzdr/qdfp-pricer/internal/pricing"
	"github.com/rzzdr/qdfp-pricer/pkg/models"
	"github.com/rzzdr/qdfp-pricer/pkg/utils/errors"
	"github.com/rzzdr/qdfp-pricer/pkg/utils/logger"
)

// Broadcaster pushes priced results to live subscribers
type Broadcaster interface {
	BroadcastResult(res models.PricingResult)
}

// Handlers contains all the API handlers
type Handlers struct {
	service     *pricing.Service
	broadcaster Broadcaster
	started     time.Time
	log         *logger.Logger
}

// NewHandlers creates the API handlers. broadcaster may be nil.
func NewHandlers(service *pricing.Service, broadcaster Broadcaster) *Handlers {
	return &Handlers{
		service:     service,
		broadcaster: broadcaster,
		started:     time.Now(),
		log:         logger.GetLogger("api.handlers"),
	}
}

// HealthCheckHandler handles health check requests
func (h *Handlers) HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
		"uptime": time.Since(h.started).String(),
	})
}

// PriceHandler prices one American option
func (h *Handlers) PriceHandler(c *gin.Context) {
	var request models.PricingRequest
	if !bindJSON(c, &request) {
		return
	}
	h.price(c, request)
}

// GreeksHandler prices one option together with its Greeks
func (h *Handlers) GreeksHandler(c *gin.Context) {
	var request models.PricingRequest
	if !bindJSON(c, &request) {
		return
	}
	request.Greeks = true
	h.price(c, request)
}

func (h *Handlers) price(c *gin.Context, request models.PricingRequest) {
	result, err := h.service.Price(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if h.broadcaster != nil {
		h.broadcaster.BroadcastResult(result)
	}
	c.JSON(http.StatusOK, result)
}

// ImpliedVolHandler finds the volatility that reproduces a market price
func (h *Handlers) ImpliedVolHandler(c *gin.Context) {
	var request models.ImpliedVolRequest
	if !bindJSON(c, &request) {
		return
	}

	result, err := h.service.ImpliedVolatility(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// BoundaryHandler returns the early exercise boundary
func (h *Handlers) BoundaryHandler(c *gin.Context) {
	var request models.BoundaryRequest
	if !bindJSON(c, &request) {
		return
	}

	result, err := h.service.Boundary(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// BatchHandler prices a batch of options
func (h *Handlers) BatchHandler(c *gin.Context) {
	var request models.BatchRequest
	if !bindJSON(c, &request) {
		return
	}

	result, err := h.service.Batch(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SchemeHandler describes the configured discretization
func (h *Handlers) SchemeHandler(c *gin.Context) {
	s := h.service.Engine().Scheme()
	c.JSON(http.StatusOK, gin.H{
		"name":                s.Name,
		"nodes":               s.Nodes,
		"jacobi_newton_steps": s.JacobiNewtonSteps,
		"richardson_steps":    s.RichardsonSteps,
		"fixed_point":         describe(s.FixedPointIntegrator),
		"premium":             describe(s.PremiumIntegrator),
	})
}

// respondError maps invalid input to 400, timeouts to 504 and the rest to 500
func (h *Handlers) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsType(err, errors.ErrorTypeInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	default:
		h.log.Errorw("Pricing request failed", "path", c.FullPath(), "error", err)
	}

	c.JSON(status, gin.H{
		"error": err.Error(),
		"type":  errors.TypeOf(err).String(),
	})
}

func bindJSON(c *gin.Context, target interface{}) bool {
	if err := c.ShouldBindJSON(target); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
			"type":  errors.ErrorTypeInvalidInput.String(),
		})
		return false
	}
	return true
}

func describe(i numeric.Integrator) string {
	if d, ok := i.(numeric.Describer); ok {
		return d.Describe()
	}
	return "custom"
}
