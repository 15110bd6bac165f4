package generation

import (
	"errors"
	"testing"
)

func TestJobAdvance(t *testing.T) {
	tests := []struct {
		name string
		path []Status
		ok   bool
	}{
		{"pending to running to succeeded", []Status{StatusRunning, StatusSucceeded}, true},
		{"running stays running", []Status{StatusRunning, StatusRunning}, true},
		{"pending straight to failed", []Status{StatusFailed}, true},
		{"no resurrection after failure", []Status{StatusFailed, StatusRunning}, false},
		{"no change after cancel", []Status{StatusCanceled, StatusSucceeded}, false},
		{"running back to pending", []Status{StatusRunning, StatusPending}, false},
		{"unknown status", []Status{"exploded"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewJob(KindFrame, 0, 1)
			var err error
			for _, s := range tt.path {
				if err = job.Advance(s); err != nil {
					break
				}
			}
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestNewJobIDsAreUnique(t *testing.T) {
	a, b := NewJob(KindSequence, 0, 3), NewJob(KindSequence, 1, 3)
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("ids %q and %q", a.ID, b.ID)
	}
	if a.Status != StatusPending {
		t.Errorf("new job status = %s", a.Status)
	}
}
