package models

import "encoding/json"

// Animation sources
const (
	AnimationSourcePreset = "preset" // seeded from the presets directory
	AnimationSourceUser   = "user"   // saved from the timeline
)

// Animation is a stored animation document in the library
type Animation struct {
	ID         string `json:"id" db:"id"` // slug, also the preset file basename
	Name       string `json:"name" db:"name"`
	FPS        int    `json:"fps" db:"fps"`
	FrameCount int    `json:"frameCount" db:"frame_count"`
	Source     string `json:"source" db:"source"`
	CreatedAt  int64  `json:"createdAt" db:"created_at"` // Unix millis
	UpdatedAt  int64  `json:"updatedAt" db:"updated_at"` // Unix millis

	// Document is the raw animation JSON; only loaded by Get
	Document json.RawMessage `json:"-" db:"document"`
}
