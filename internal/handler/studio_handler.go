package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/golang/geo/r2"
	"github.com/jengzang/framelab-backend/internal/service"
	"github.com/jengzang/framelab-backend/internal/skeleton"
	"github.com/jengzang/framelab-backend/internal/timeline"
	"github.com/jengzang/framelab-backend/pkg/response"
)

// maxImportSize bounds uploaded animation documents
const maxImportSize = 32 << 20

// StudioHandler handles HTTP requests that read or edit the timeline
type StudioHandler struct {
	studio *service.Studio
}

// NewStudioHandler creates a new studio handler
func NewStudioHandler(studio *service.Studio) *StudioHandler {
	return &StudioHandler{studio: studio}
}

func (h *StudioHandler) reply(c *gin.Context, state timeline.State, err error) {
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, state)
}

// GetState returns the whole timeline
// GET /api/v1/state
func (h *StudioHandler) GetState(c *gin.Context) {
	state, err := h.studio.Snapshot(c.Request.Context())
	h.reply(c, state, err)
}

// LoadFramesRequest replaces the frame sequence. Frames may be hierarchical
// skeletons or flat keypoint maps.
type LoadFramesRequest struct {
	Frames []json.RawMessage `json:"frames" binding:"required"`
}

// LoadFrames replaces all frames
// PUT /api/v1/frames
func (h *StudioHandler) LoadFrames(c *gin.Context) {
	var req LoadFramesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	frames := make([]skeleton.Skeleton, len(req.Frames))
	for i, raw := range req.Frames {
		f, err := timeline.DecodeFrame(raw)
		if err != nil {
			response.BadRequest(c, fmt.Sprintf("Invalid frame %d: %v", i, err))
			return
		}
		frames[i] = f
	}
	state, err := h.studio.LoadFrames(c.Request.Context(), frames)
	h.reply(c, state, err)
}

// AddFrame inserts a copy of the cursor frame after it
// POST /api/v1/cursor/add
func (h *StudioHandler) AddFrame(c *gin.Context) {
	state, err := h.studio.AddFrame(c.Request.Context())
	h.reply(c, state, err)
}

// DuplicateFrame inserts a copy of the cursor frame with its images
// POST /api/v1/cursor/duplicate
func (h *StudioHandler) DuplicateFrame(c *gin.Context) {
	state, err := h.studio.DuplicateFrame(c.Request.Context())
	h.reply(c, state, err)
}

// DeleteFrame removes the cursor frame
// DELETE /api/v1/cursor/frame
func (h *StudioHandler) DeleteFrame(c *gin.Context) {
	state, err := h.studio.DeleteFrame(c.Request.Context())
	h.reply(c, state, err)
}

// CopyPose copies the cursor frame to the clipboard
// POST /api/v1/cursor/copy
func (h *StudioHandler) CopyPose(c *gin.Context) {
	state, err := h.studio.CopyPose(c.Request.Context())
	h.reply(c, state, err)
}

// PastePose replaces the cursor frame with the clipboard
// POST /api/v1/cursor/paste
func (h *StudioHandler) PastePose(c *gin.Context) {
	state, err := h.studio.PastePose(c.Request.Context())
	h.reply(c, state, err)
}

// CursorRequest selects a frame
type CursorRequest struct {
	Index *int `json:"index" binding:"required"`
}

// SetCursor selects a frame
// PUT /api/v1/cursor
func (h *StudioHandler) SetCursor(c *gin.Context) {
	var req CursorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	state, err := h.studio.SetCursor(c.Request.Context(), *req.Index)
	h.reply(c, state, err)
}

// GetFrame returns one frame
// GET /api/v1/frames/:index
func (h *StudioHandler) GetFrame(c *gin.Context) {
	i, ok := indexParam(c)
	if !ok {
		return
	}
	f, err := h.studio.Frame(c.Request.Context(), i)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{
		"index":     i,
		"skeleton":  f,
		"keypoints": skeleton.ToKeypoints(f),
	})
}

// SetFrame replaces one frame
// PUT /api/v1/frames/:index
func (h *StudioHandler) SetFrame(c *gin.Context) {
	i, ok := indexParam(c)
	if !ok {
		return
	}
	raw, err := c.GetRawData()
	if err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	f, err := timeline.DecodeFrame(raw)
	if err != nil {
		response.BadRequest(c, fmt.Sprintf("Invalid frame: %v", err))
		return
	}
	state, err := h.studio.SetFrame(c.Request.Context(), i, f)
	h.reply(c, state, err)
}

// ImageRequest points a frame at an image; an empty url clears it
type ImageRequest struct {
	URL string `json:"url"`
}

// SetFrameImage sets the generated image of a frame
// PUT /api/v1/frames/:index/image
func (h *StudioHandler) SetFrameImage(c *gin.Context) {
	h.setImage(c, h.studio.SetFrameImage)
}

// SetPoseImage sets the pose preview of a frame
// PUT /api/v1/frames/:index/pose-image
func (h *StudioHandler) SetPoseImage(c *gin.Context) {
	h.setImage(c, h.studio.SetPoseImage)
}

func (h *StudioHandler) setImage(c *gin.Context, set func(ctx context.Context, i int, ref string) (timeline.State, error)) {
	i, ok := indexParam(c)
	if !ok {
		return
	}
	var req ImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	state, err := set(c.Request.Context(), i, req.URL)
	h.reply(c, state, err)
}

// TranslateRequest moves a whole frame
type TranslateRequest struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// TranslateFrame moves every joint of a frame
// POST /api/v1/frames/:index/translate
func (h *StudioHandler) TranslateFrame(c *gin.Context) {
	i, ok := indexParam(c)
	if !ok {
		return
	}
	var req TranslateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	state, err := h.studio.TranslateFrame(c.Request.Context(), i, req.DX, req.DY)
	h.reply(c, state, err)
}

// RotateRequest either points a joint at (x, y) or sets its relative
// rotation in radians
type RotateRequest struct {
	Joint   skeleton.JointID `json:"joint" binding:"required"`
	X       *float64         `json:"x"`
	Y       *float64         `json:"y"`
	Radians *float64         `json:"radians"`
}

// RotateJoint rotates one joint of a frame
// POST /api/v1/frames/:index/rotate
func (h *StudioHandler) RotateJoint(c *gin.Context) {
	i, ok := indexParam(c)
	if !ok {
		return
	}
	var req RotateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}

	ctx := c.Request.Context()
	switch {
	case req.Radians != nil:
		state, err := h.studio.SetJointRotation(ctx, i, req.Joint, *req.Radians)
		h.reply(c, state, err)
	case req.X != nil && req.Y != nil:
		state, err := h.studio.RotateJoint(ctx, i, req.Joint, r2.Point{X: *req.X, Y: *req.Y})
		h.reply(c, state, err)
	default:
		response.BadRequest(c, "Either radians or x and y are required")
	}
}

// BeginDragRequest starts a rigid keypoint drag
type BeginDragRequest struct {
	Keypoint skeleton.Keypoint `json:"keypoint" binding:"required"`
}

// BeginDrag captures a keypoint and its descendants
// POST /api/v1/frames/:index/drag
func (h *StudioHandler) BeginDrag(c *gin.Context) {
	i, ok := indexParam(c)
	if !ok {
		return
	}
	var req BeginDragRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	state, err := h.studio.BeginDrag(c.Request.Context(), i, req.Keypoint)
	h.reply(c, state, err)
}

// PointRequest is a stage position
type PointRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DragTo moves the dragged keypoint
// PUT /api/v1/drag
func (h *StudioHandler) DragTo(c *gin.Context) {
	var req PointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	state, err := h.studio.DragTo(c.Request.Context(), r2.Point{X: req.X, Y: req.Y})
	h.reply(c, state, err)
}

// EndDrag drops the drag baseline
// DELETE /api/v1/drag
func (h *StudioHandler) EndDrag(c *gin.Context) {
	state, err := h.studio.EndDrag(c.Request.Context())
	h.reply(c, state, err)
}

// TogglePlayback starts or stops playback
// POST /api/v1/playback/toggle
func (h *StudioHandler) TogglePlayback(c *gin.Context) {
	state, err := h.studio.TogglePlaying(c.Request.Context())
	h.reply(c, state, err)
}

// PlaybackRequest sets the playback flag
type PlaybackRequest struct {
	Playing bool `json:"playing"`
}

// SetPlayback starts or stops playback
// PUT /api/v1/playback
func (h *StudioHandler) SetPlayback(c *gin.Context) {
	var req PlaybackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	state, err := h.studio.SetPlaying(c.Request.Context(), req.Playing)
	h.reply(c, state, err)
}

// SettingsRequest changes any subset of the settings
type SettingsRequest struct {
	FPS        *int               `json:"fps"`
	OutputSize *timeline.Size     `json:"outputSize"`
	ViewMode   *timeline.ViewMode `json:"viewMode"`
}

// UpdateSettings validates every given setting before applying any
// PUT /api/v1/settings
func (h *StudioHandler) UpdateSettings(c *gin.Context) {
	var req SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	switch {
	case req.FPS != nil && (*req.FPS < timeline.MinFPS || *req.FPS > timeline.MaxFPS):
		handleError(c, timeline.ErrInvalidFPS)
		return
	case req.OutputSize != nil && !req.OutputSize.Supported():
		handleError(c, timeline.ErrUnsupportedSize)
		return
	case req.ViewMode != nil && !req.ViewMode.Valid():
		handleError(c, timeline.ErrInvalidViewMode)
		return
	}

	ctx := c.Request.Context()
	state, err := h.studio.Snapshot(ctx)
	if err == nil && req.FPS != nil {
		state, err = h.studio.SetFPS(ctx, *req.FPS)
	}
	if err == nil && req.OutputSize != nil {
		state, err = h.studio.SetOutputSize(ctx, *req.OutputSize)
	}
	if err == nil && req.ViewMode != nil {
		state, err = h.studio.SetViewMode(ctx, *req.ViewMode)
	}
	h.reply(c, state, err)
}

// ReferenceRequest uploads the character reference as a data URL
type ReferenceRequest struct {
	DataURL string `json:"dataUrl"`
}

// SetReference stores the reference image; an empty value clears it
// PUT /api/v1/reference
func (h *StudioHandler) SetReference(c *gin.Context) {
	var req ReferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	state, err := h.studio.SetReferenceImage(c.Request.Context(), req.DataURL)
	h.reply(c, state, err)
}

// SetStage records the viewport size
// PUT /api/v1/stage
func (h *StudioHandler) SetStage(c *gin.Context) {
	var req timeline.Stage
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	state, err := h.studio.SetStage(c.Request.Context(), req)
	h.reply(c, state, err)
}

// Recenter centers the frames on the stage again
// POST /api/v1/stage/recenter
func (h *StudioHandler) Recenter(c *gin.Context) {
	state, err := h.studio.Recenter(c.Request.Context())
	h.reply(c, state, err)
}

// RefreshPreviews rasterizes every frame
// POST /api/v1/previews
func (h *StudioHandler) RefreshPreviews(c *gin.Context) {
	state, err := h.studio.RefreshPreviews(c.Request.Context())
	h.reply(c, state, err)
}

// Export downloads the animation document
// GET /api/v1/export?name=walk
func (h *StudioHandler) Export(c *gin.Context) {
	name := c.DefaultQuery("name", "animation")
	anim, err := h.studio.Export(c.Request.Context(), name)
	if err != nil {
		handleError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", service.Slugify(name)+".json"))
	c.JSON(http.StatusOK, anim)
}

// Import loads an animation document from the request body
// POST /api/v1/import
func (h *StudioHandler) Import(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportSize))
	if err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	state, err := h.studio.Import(c.Request.Context(), data)
	h.reply(c, state, err)
}
