package generation

import (
	"context"

	"github.com/jengzang/framelab-backend/internal/skeleton"
)

// Request describes one frame to render
type Request struct {
	Keypoints      skeleton.KeypointPose
	ControlImage   []byte // rasterized pose, PNG
	ReferenceImage string // data URL, may be empty
	Prompt         string
	Width          int
	Height         int
}

// Result is the backend's view of a job
type Result struct {
	ID       string `json:"id"`
	Status   Status `json:"status"`
	ImageURL string `json:"resultImageUrl,omitempty"`
	Error    string `json:"errorMessage,omitempty"`
}

// Backend is an asynchronous rendering service. Submit may return a terminal
// result directly; otherwise the job is polled until it terminates.
type Backend interface {
	Submit(ctx context.Context, req Request) (Result, error)
	Poll(ctx context.Context, id string) (Result, error)
	Cancel(ctx context.Context, id string) error
}

// Rasterizer draws a flat pose into a PNG of the given size
type Rasterizer func(pose skeleton.KeypointPose, width, height int) ([]byte, error)

// Sink receives results for the timeline. It is called at most once per
// frame and only while the run that produced the result is still current.
// Implementations must not call back into the Orchestrator.
type Sink interface {
	ApplyResult(kind Kind, frameIndex int, imageURL, poseImage string)
}

// Recorder stores job history
type Recorder interface {
	SaveJob(ctx context.Context, job *Job) error
}
