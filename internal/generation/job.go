package generation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle status of one backend job
type Status string

// Job statuses
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	default:
		return 2
	}
}

// Kind separates single-frame generation from whole-sequence generation
type Kind string

// Generation kinds
const (
	KindFrame    Kind = "frame"
	KindSequence Kind = "sequence"
)

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	return k == KindFrame || k == KindSequence
}

// ErrInvalidTransition is returned when a job would move backwards or leave a terminal status
var ErrInvalidTransition = errors.New("invalid job status transition")

// Job is one request to the rendering backend
type Job struct {
	ID         string    `json:"id"`
	BackendID  string    `json:"backend_id,omitempty"`
	Kind       Kind      `json:"kind"`
	FrameIndex int       `json:"frame_index"`
	Status     Status    `json:"status"`
	ResultURL  string    `json:"result_url,omitempty"`
	Error      string    `json:"error_message,omitempty"`
	Completed  int       `json:"completed"`
	Total      int       `json:"total"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewJob creates a pending job with a fresh correlation id
func NewJob(kind Kind, frameIndex, total int) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		FrameIndex: frameIndex,
		Status:     StatusPending,
		Total:      total,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Advance moves the job to status to. Staying in a non-terminal status is
// allowed; moving backwards or out of a terminal status is not.
func (j *Job) Advance(to Status) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if j.Status.Terminal() || to.rank() < j.Status.rank() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	j.UpdatedAt = time.Now().UTC()
	return nil
}
