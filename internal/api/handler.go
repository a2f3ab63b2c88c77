// Package api exposes the engine over HTTP: event ingestion, profile
// reads, and the administrative operations on definitions.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lumora/pulse/internal/engine"
	"github.com/lumora/pulse/internal/model"
	"github.com/lumora/pulse/internal/store"
)

type Handler struct {
	engine *engine.Engine
	logger *zap.Logger
	router *gin.Engine
}

func NewHandler(eng *engine.Engine, logger *zap.Logger) *Handler {
	h := &Handler{
		engine: eng,
		logger: logger,
		router: gin.New(),
	}
	h.router.Use(gin.Recovery())
	h.registerRoutes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/health", h.healthCheck)

	h.router.POST("/subscribers/:id/events", h.trackEvent)
	h.router.GET("/subscribers/:id", h.getProfile)

	h.router.GET("/rules", h.listRules)
	h.router.POST("/rules", h.addRule)
	h.router.PATCH("/rules/:id", h.updateRule)
	h.router.DELETE("/rules/:id", h.removeRule)

	h.router.GET("/segments", h.listSegments)
	h.router.PUT("/segments/:name", h.putSegment)
	h.router.DELETE("/segments/:name", h.removeSegment)

	h.router.GET("/automations", h.listAutomations)
	h.router.POST("/automations/:id/pause", h.pauseAutomation)
	h.router.POST("/automations/:id/resume", h.resumeAutomation)
	h.router.GET("/automations/:id/instances/:subscriberId", h.getInstance)
	h.router.DELETE("/automations/:id/instances/:subscriberId", h.cancelInstance)
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// trackEvent handles POST /subscribers/:id/events
func (h *Handler) trackEvent(c *gin.Context) {
	var req TrackEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	properties, err := model.ObjectFromAny(req.Properties)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	p, err := h.engine.TrackBehavior(c.Request.Context(), c.Param("id"), req.Kind, properties)
	if err != nil {
		h.logger.Error("track behavior failed", zap.String("subscriber_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, TrackEventResponse{
		SubscriberID: p.ID,
		Segments:     p.Segments,
		EventCount:   len(p.Events),
	})
}

// getProfile handles GET /subscribers/:id
func (h *Handler) getProfile(c *gin.Context) {
	p, err := h.engine.GetProfile(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "unknown subscriber"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, profileResponse(p))
}

// listRules handles GET /rules
func (h *Handler) listRules(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Rules())
}

// addRule handles POST /rules
func (h *Handler) addRule(c *gin.Context) {
	var rule model.PersonalizationRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	if err := h.engine.AddRule(c.Request.Context(), rule); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// updateRule handles PATCH /rules/:id
func (h *Handler) updateRule(c *gin.Context) {
	var req UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	if err := h.engine.UpdateRule(c.Request.Context(), c.Param("id"), req.Enabled, req.Priority); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// removeRule handles DELETE /rules/:id
func (h *Handler) removeRule(c *gin.Context) {
	if err := h.engine.RemoveRule(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// listSegments handles GET /segments
func (h *Handler) listSegments(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.SegmentDefinitions())
}

// putSegment handles PUT /segments/:name
func (h *Handler) putSegment(c *gin.Context) {
	var def model.SegmentDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	def.Name = c.Param("name")
	if err := h.engine.AddSegmentDefinition(c.Request.Context(), def); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, def)
}

// removeSegment handles DELETE /segments/:name
func (h *Handler) removeSegment(c *gin.Context) {
	if err := h.engine.RemoveSegmentDefinition(c.Request.Context(), c.Param("name")); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// listAutomations handles GET /automations
func (h *Handler) listAutomations(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Automations())
}

// pauseAutomation handles POST /automations/:id/pause
func (h *Handler) pauseAutomation(c *gin.Context) {
	if err := h.engine.PauseAutomation(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// resumeAutomation handles POST /automations/:id/resume
func (h *Handler) resumeAutomation(c *gin.Context) {
	if err := h.engine.ResumeAutomation(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// getInstance handles GET /automations/:id/instances/:subscriberId
func (h *Handler) getInstance(c *gin.Context) {
	inst, err := h.engine.Instance(c.Request.Context(), c.Param("id"), c.Param("subscriberId"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "no instance for pair"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, inst)
}

// cancelInstance handles DELETE /automations/:id/instances/:subscriberId
func (h *Handler) cancelInstance(c *gin.Context) {
	var req CancelInstanceRequest
	// Body is optional; default the reason
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "cancelled by operator"
	}
	if err := h.engine.CancelInstance(c.Request.Context(), c.Param("id"), c.Param("subscriberId"), req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
