package raster

import (
	"image/color"

	"github.com/jengzang/framelab-backend/internal/skeleton"
)

// Limb is a colored connection between two keypoints
type Limb struct {
	From  skeleton.Keypoint
	To    skeleton.Keypoint
	Color color.RGBA
}

func rgb(r, g, b uint8) color.RGBA {
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

// Limbs is the OpenPose limb palette, drawn in this order
var Limbs = []Limb{
	{skeleton.Nose, skeleton.Neck, rgb(0, 0, 255)},
	{skeleton.Nose, skeleton.REye, rgb(255, 0, 255)},
	{skeleton.Nose, skeleton.LEye, rgb(255, 0, 255)},
	{skeleton.REye, skeleton.REar, rgb(255, 0, 170)},
	{skeleton.LEye, skeleton.LEar, rgb(255, 0, 170)},
	{skeleton.Neck, skeleton.RShoulder, rgb(255, 0, 0)},
	{skeleton.Neck, skeleton.LShoulder, rgb(85, 255, 0)},
	{skeleton.Neck, skeleton.RHip, rgb(0, 255, 0)},
	{skeleton.Neck, skeleton.LHip, rgb(0, 255, 255)},
	{skeleton.RShoulder, skeleton.RElbow, rgb(255, 85, 0)},
	{skeleton.RElbow, skeleton.RWrist, rgb(255, 170, 0)},
	{skeleton.LShoulder, skeleton.LElbow, rgb(170, 255, 0)},
	{skeleton.LElbow, skeleton.LWrist, rgb(255, 255, 0)},
	{skeleton.RHip, skeleton.RKnee, rgb(0, 255, 85)},
	{skeleton.RKnee, skeleton.RAnkle, rgb(0, 255, 170)},
	{skeleton.LHip, skeleton.LKnee, rgb(0, 170, 255)},
	{skeleton.LKnee, skeleton.LAnkle, rgb(0, 85, 255)},
}

var jointColors = func() map[skeleton.Keypoint]color.RGBA {
	// a joint takes the color of the first limb ending in it, else of the
	// last limb starting at it
	m := make(map[skeleton.Keypoint]color.RGBA)
	for i := len(Limbs) - 1; i >= 0; i-- {
		l := Limbs[i]
		m[l.To] = l.Color
		if _, ok := m[l.From]; !ok {
			m[l.From] = l.Color
		}
	}
	for k, c := range m {
		m[k] = brighten(c, 1.5)
	}
	return m
}()

// JointColor returns the fill color of a keypoint
func JointColor(k skeleton.Keypoint) color.RGBA {
	if c, ok := jointColors[k]; ok {
		return c
	}
	return color.RGBA{0xff, 0xff, 0xff, 0xff}
}

func brighten(c color.RGBA, factor float64) color.RGBA {
	scale := func(v uint8) uint8 {
		f := float64(v)*factor + 0.5
		if f > 255 {
			return 255
		}
		return uint8(f)
	}
	return color.RGBA{R: scale(c.R), G: scale(c.G), B: scale(c.B), A: c.A}
}
