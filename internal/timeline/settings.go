package timeline

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a pixel size encoded as "WxH"
type Size struct {
	Width  int
	Height int
}

// Supported output sizes
var (
	Size256  = Size{256, 256}
	Size512  = Size{512, 512}
	Size768  = Size{768, 768}
	Size1024 = Size{1024, 1024}
)

// SupportedSizes lists the output sizes the rendering backend accepts
var SupportedSizes = []Size{Size256, Size512, Size768, Size1024}

// DefaultOutputSize is used until the user picks another size
var DefaultOutputSize = Size512

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Supported reports whether s is one of SupportedSizes
func (s Size) Supported() bool {
	for _, v := range SupportedSizes {
		if v == s {
			return true
		}
	}
	return false
}

// ParseSize parses a "WxH" string
func ParseSize(v string) (Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(v)), "x")
	if !ok {
		return Size{}, fmt.Errorf("invalid size %q", v)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return Size{}, fmt.Errorf("invalid size %q: %w", v, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return Size{}, fmt.Errorf("invalid size %q: %w", v, err)
	}
	return Size{Width: width, Height: height}, nil
}

// MarshalText implements encoding.TextMarshaler
func (s Size) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Size) UnmarshalText(text []byte) error {
	parsed, err := ParseSize(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ViewMode selects how the editor layers pose and generated image
type ViewMode string

// View modes
const (
	ViewPoseOnly  ViewMode = "pose-only"
	ViewImageOnly ViewMode = "image-only"
	ViewStack     ViewMode = "stack"
)

// Valid reports whether m is a known view mode
func (m ViewMode) Valid() bool {
	switch m {
	case ViewPoseOnly, ViewImageOnly, ViewStack:
		return true
	}
	return false
}

// Stage is the size of the editing viewport in stage units
type Stage struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Ready reports whether the stage has a usable area
func (s Stage) Ready() bool {
	return s.Width > 0 && s.Height > 0
}

// Playback limits
const (
	DefaultFPS = 24
	MinFPS     = 1
	MaxFPS     = 60
)

// DefaultFrameCount is the number of T-pose frames of a fresh timeline
const DefaultFrameCount = 10
