// Package raster draws flat poses into OpenPose-style control images.
package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"github.com/golang/geo/r2"
	"golang.org/x/image/vector"

	"github.com/jengzang/framelab-backend/internal/skeleton"
)

const (
	padding      = 20
	limbWidth    = 9
	limbOpacity  = 0.6
	jointRadius  = 7
	jointOpacity = 0.8

	// kappa places cubic control points for a quarter circle
	kappa = 0.5522847498
)

// ErrInvalidSize is returned for a canvas without area
var ErrInvalidSize = errors.New("canvas size must be positive")

// PoseToImage draws pose on a black canvas of width x height and encodes it as PNG
func PoseToImage(pose skeleton.KeypointPose, width, height int) ([]byte, error) {
	img, err := Draw(pose, width, height)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode pose image: %w", err)
	}
	return buf.Bytes(), nil
}

// Draw renders pose scaled to fit the canvas. Limbs are drawn first, joints on top.
func Draw(pose skeleton.KeypointPose, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidSize
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	points := finitePoints(pose)
	if len(points) == 0 {
		return img, nil
	}
	fit := newFit(points, width, height)

	z := vector.NewRasterizer(width, height)
	for _, l := range Limbs {
		from, ok1 := points[l.From]
		to, ok2 := points[l.To]
		if !ok1 || !ok2 {
			continue
		}
		z.Reset(width, height)
		if !addSegment(z, fit.apply(from), fit.apply(to), limbWidth/2.0) {
			continue
		}
		z.Draw(img, img.Bounds(), image.NewUniform(withAlpha(l.Color, limbOpacity)), image.Point{})
	}

	for _, k := range skeleton.Keypoints {
		p, ok := points[k]
		if !ok {
			continue
		}
		z.Reset(width, height)
		addCircle(z, fit.apply(p), jointRadius)
		z.Draw(img, img.Bounds(), image.NewUniform(withAlpha(JointColor(k), jointOpacity)), image.Point{})
	}
	return img, nil
}

func finitePoints(pose skeleton.KeypointPose) map[skeleton.Keypoint]r2.Point {
	out := make(map[skeleton.Keypoint]r2.Point, len(pose))
	for k, p := range pose {
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsInf(p[0], 0) || math.IsInf(p[1], 0) {
			continue
		}
		out[k] = p.Point()
	}
	return out
}

// fit maps pose coordinates onto the canvas
type fit struct {
	scale  float64
	offset r2.Point
}

// newFit scales the pose bounding box into the padded canvas and centers it.
// A degenerate box (single point or a straight line) keeps a finite scale.
func newFit(points map[skeleton.Keypoint]r2.Point, width, height int) fit {
	all := make([]r2.Point, 0, len(points))
	for _, p := range points {
		all = append(all, p)
	}
	box := r2.RectFromPoints(all...)
	size := box.Size()

	availW := math.Max(float64(width-padding), 1)
	availH := math.Max(float64(height-padding), 1)

	scale := 1.0
	switch {
	case size.X > 0 && size.Y > 0:
		scale = math.Min(availW/size.X, availH/size.Y)
	case size.X > 0:
		scale = availW / size.X
	case size.Y > 0:
		scale = availH / size.Y
	}

	offset := r2.Point{
		X: (float64(width)-size.X*scale)/2 - box.X.Lo*scale,
		Y: (float64(height)-size.Y*scale)/2 - box.Y.Lo*scale,
	}
	return fit{scale: scale, offset: offset}
}

func (f fit) apply(p r2.Point) r2.Point {
	return p.Mul(f.scale).Add(f.offset)
}

// addSegment adds a rectangle of half-width hw around a-b.
// It reports false for a zero-length segment.
func addSegment(z *vector.Rasterizer, a, b r2.Point, hw float64) bool {
	d := b.Sub(a)
	n := d.Norm()
	if n == 0 {
		return false
	}
	off := d.Ortho().Mul(hw / n)
	p1, p2, p3, p4 := a.Add(off), b.Add(off), b.Sub(off), a.Sub(off)
	z.MoveTo(float32(p1.X), float32(p1.Y))
	z.LineTo(float32(p2.X), float32(p2.Y))
	z.LineTo(float32(p3.X), float32(p3.Y))
	z.LineTo(float32(p4.X), float32(p4.Y))
	z.ClosePath()
	return true
}

func addCircle(z *vector.Rasterizer, c r2.Point, r float64) {
	k := r * kappa
	x, y := float32(c.X), float32(c.Y)
	rr, kk := float32(r), float32(k)
	z.MoveTo(x+rr, y)
	z.CubeTo(x+rr, y+kk, x+kk, y+rr, x, y+rr)
	z.CubeTo(x-kk, y+rr, x-rr, y+kk, x-rr, y)
	z.CubeTo(x-rr, y-kk, x-kk, y-rr, x, y-rr)
	z.CubeTo(x+kk, y-rr, x+rr, y-kk, x+rr, y)
	z.ClosePath()
}

// withAlpha returns c at the given opacity, premultiplied
func withAlpha(c color.RGBA, opacity float64) color.RGBA {
	a := opacity * 255
	return color.RGBA{
		R: uint8(float64(c.R)*opacity + 0.5),
		G: uint8(float64(c.G)*opacity + 0.5),
		B: uint8(float64(c.B)*opacity + 0.5),
		A: uint8(a + 0.5),
	}
}
