package handler

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/framelab-backend/internal/service"
	"github.com/jengzang/framelab-backend/pkg/response"
)

// AnimationHandler handles HTTP requests for the animation library
type AnimationHandler struct {
	service *service.AnimationService
}

// NewAnimationHandler creates a new animation handler
func NewAnimationHandler(service *service.AnimationService) *AnimationHandler {
	return &AnimationHandler{service: service}
}

// ListAnimations lists the library sorted by name
// GET /api/v1/animations
func (h *AnimationHandler) ListAnimations(c *gin.Context) {
	list, err := h.service.List(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, list)
}

// GetAnimation returns a stored document with its id and file name merged in
// GET /api/v1/animations/:id
func (h *AnimationHandler) GetAnimation(c *gin.Context) {
	a, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	doc := map[string]any{}
	if err := json.Unmarshal(a.Document, &doc); err != nil {
		response.InternalError(c, "Stored animation is not valid JSON")
		return
	}
	doc["id"] = a.ID
	doc["filename"] = a.ID + ".json"
	doc["source"] = a.Source
	response.Success(c, doc)
}

// SaveAnimationRequest names the current timeline
type SaveAnimationRequest struct {
	Name string `json:"name" binding:"required"`
}

// SaveAnimation stores the current timeline in the library
// POST /api/v1/animations
func (h *AnimationHandler) SaveAnimation(c *gin.Context) {
	var req SaveAnimationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	a, err := h.service.SaveCurrent(c.Request.Context(), req.Name)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, a)
}

// LoadAnimation replaces the timeline with a library animation
// POST /api/v1/animations/:id/load
func (h *AnimationHandler) LoadAnimation(c *gin.Context) {
	state, err := h.service.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, state)
}

// DeleteAnimation removes an animation
// DELETE /api/v1/animations/:id
func (h *AnimationHandler) DeleteAnimation(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": c.Param("id")})
}
