package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/framelab-backend/internal/backend"
	"github.com/jengzang/framelab-backend/internal/generation"
	"github.com/jengzang/framelab-backend/internal/models"
	"github.com/jengzang/framelab-backend/internal/service"
	"github.com/jengzang/framelab-backend/pkg/response"
)

// GenerationHandler handles HTTP requests for generation runs
type GenerationHandler struct {
	service *service.GenerationService
}

// NewGenerationHandler creates a new generation handler
func NewGenerationHandler(service *service.GenerationService) *GenerationHandler {
	return &GenerationHandler{service: service}
}

// GenerateRequest starts a run. FrameIndex defaults to the cursor and is
// ignored for sequences.
type GenerateRequest struct {
	Prompt     string `json:"prompt"`
	FrameIndex *int   `json:"frameIndex"`
}

func bindGenerate(c *gin.Context) (GenerateRequest, bool) {
	var req GenerateRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return req, false
	}
	return req, true
}

// Start begins a run of the kind in the path: frame renders one frame,
// sequence renders every frame in order
// POST /api/v1/generation/:kind
func (h *GenerationHandler) Start(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	req, ok := bindGenerate(c)
	if !ok {
		return
	}

	var (
		state generation.State
		err   error
	)
	if kind == generation.KindFrame {
		state, err = h.service.GenerateFrame(c.Request.Context(), req.Prompt, req.FrameIndex)
	} else {
		state, err = h.service.GenerateSequence(c.Request.Context(), req.Prompt)
	}
	if err != nil {
		handleError(c, err)
		return
	}
	response.Accepted(c, state)
}

func kindParam(c *gin.Context) (generation.Kind, bool) {
	kind := generation.Kind(c.Param("kind"))
	if !kind.Valid() {
		response.NotFound(c, "Unknown generation kind")
		return "", false
	}
	return kind, true
}

// GetStatus returns the progress of a kind
// GET /api/v1/generation/:kind
func (h *GenerationHandler) GetStatus(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	response.Success(c, h.service.Status(kind))
}

// Cancel stops the active run of a kind
// POST /api/v1/generation/:kind/cancel
func (h *GenerationHandler) Cancel(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	canceled := h.service.Cancel(kind)
	response.Success(c, gin.H{"canceled": canceled, "state": h.service.Status(kind)})
}

// Reset returns a finished kind to idle
// POST /api/v1/generation/:kind/reset
func (h *GenerationHandler) Reset(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	if !h.service.Reset(kind) && h.service.Status(kind).Phase != generation.PhaseIdle {
		response.Conflict(c, "Generation is still running")
		return
	}
	response.Success(c, h.service.Status(kind))
}

// JobWebhook receives job updates pushed by the backend
// POST /api/v1/webhooks/jobs
func (h *GenerationHandler) JobWebhook(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	res, err := backend.DecodeUpdate(data)
	if errors.Is(err, backend.ErrMissingJobID) {
		response.BadRequest(c, err.Error())
		return
	}
	if err != nil {
		response.BadRequest(c, "Invalid job update")
		return
	}
	response.Success(c, gin.H{"delivered": h.service.Notify(res)})
}

// ListJobs lists the job history
// GET /api/v1/jobs
func (h *GenerationHandler) ListJobs(c *gin.Context) {
	var filter models.JobFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}
	jobs, err := h.service.History(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, jobs)
}

// GetJob returns one job
// GET /api/v1/jobs/:id
func (h *GenerationHandler) GetJob(c *gin.Context) {
	job, err := h.service.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, job)
}
