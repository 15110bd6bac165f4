package backend

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jengzang/framelab-backend/internal/generation"
	"github.com/jengzang/framelab-backend/internal/refimage"
)

// Local is an in-process backend for trying the pipeline without a remote
// service: every job succeeds immediately and its image is the control image.
type Local struct {
	seq atomic.Int64
}

// NewLocal creates the local test backend
func NewLocal() *Local {
	return &Local{}
}

// Submit returns a finished job whose result is the rasterized pose
func (l *Local) Submit(ctx context.Context, req generation.Request) (generation.Result, error) {
	if len(req.ControlImage) == 0 {
		return generation.Result{}, fmt.Errorf("control image is empty")
	}
	return generation.Result{
		ID:       fmt.Sprintf("local-%d", l.seq.Add(1)),
		Status:   generation.StatusSucceeded,
		ImageURL: refimage.EncodeDataURL("image/png", req.ControlImage),
	}, nil
}

// Poll is never needed since Submit always finishes the job
func (l *Local) Poll(ctx context.Context, id string) (generation.Result, error) {
	return generation.Result{}, fmt.Errorf("local job %s is not pollable", id)
}

// Cancel is a no-op
func (l *Local) Cancel(ctx context.Context, id string) error {
	return nil
}
