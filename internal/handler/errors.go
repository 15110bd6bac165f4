package handler

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/framelab-backend/internal/generation"
	"github.com/jengzang/framelab-backend/internal/refimage"
	"github.com/jengzang/framelab-backend/internal/repository"
	"github.com/jengzang/framelab-backend/internal/service"
	"github.com/jengzang/framelab-backend/internal/skeleton"
	"github.com/jengzang/framelab-backend/internal/timeline"
	"github.com/jengzang/framelab-backend/pkg/response"
)

var badRequest = []error{
	timeline.ErrEmptyTimeline,
	timeline.ErrInvalidFPS,
	timeline.ErrUnsupportedSize,
	timeline.ErrInvalidViewMode,
	timeline.ErrInvalidFrame,
	timeline.ErrUnknownJoint,
	skeleton.ErrEmptyPose,
	generation.ErrNoFrames,
	generation.ErrNoReferenceImage,
	generation.ErrFrameOutOfRange,
	generation.ErrInvalidOutputSize,
	refimage.ErrNotDataURL,
	refimage.ErrEmptyImage,
	refimage.ErrInvalidSize,
	service.ErrInvalidFilter,
	service.ErrInvalidName,
}

var notFound = []error{
	timeline.ErrFrameOutOfRange,
	repository.ErrAnimationNotFound,
	repository.ErrJobNotFound,
}

// handleError maps domain errors to HTTP status codes
func handleError(c *gin.Context, err error) {
	_ = c.Error(err)
	for _, target := range notFound {
		if errors.Is(err, target) {
			response.NotFound(c, err.Error())
			return
		}
	}
	for _, target := range badRequest {
		if errors.Is(err, target) {
			response.BadRequest(c, err.Error())
			return
		}
	}
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		response.BadRequest(c, err.Error())
		return
	}
	switch {
	case errors.Is(err, skeleton.ErrNoDrag):
		response.Conflict(c, err.Error())
	case errors.Is(err, service.ErrStudioClosed):
		response.ServiceUnavailable(c, err.Error())
	default:
		response.InternalError(c, err.Error())
	}
}

func indexParam(c *gin.Context) (int, bool) {
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		response.BadRequest(c, "Invalid frame index")
		return 0, false
	}
	return i, true
}
