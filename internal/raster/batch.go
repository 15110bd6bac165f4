package raster

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/jengzang/framelab-backend/internal/skeleton"
)

// RenderAll rasterizes every pose in parallel and returns the PNGs in input
// order. workers <= 0 uses one worker per CPU.
func RenderAll(ctx context.Context, poses []skeleton.KeypointPose, width, height, workers int) ([][]byte, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	out := make([][]byte, len(poses))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, pose := range poses {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := PoseToImage(pose, width, height)
			if err != nil {
				return fmt.Errorf("frame %d: %w", i, err)
			}
			out[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
