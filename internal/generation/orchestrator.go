package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jengzang/framelab-backend/internal/skeleton"
)

// Phase is the orchestrator state of one generation kind
type Phase string

// Orchestrator phases. Cancellation returns a kind to PhaseIdle.
const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhasePolling    Phase = "polling"
	PhaseSucceeded  Phase = "succeeded"
	PhaseFailed     Phase = "failed"
)

var (
	ErrNoFrames          = errors.New("no frames to generate")
	ErrNoReferenceImage  = errors.New("a reference image is required")
	ErrFrameOutOfRange   = errors.New("frame index out of range")
	ErrInvalidOutputSize = errors.New("output size must be positive")
	ErrPollTimeout       = errors.New("job did not finish in time")
	ErrTooManyPollErrors = errors.New("too many consecutive poll errors")
	ErrNoResultImage     = errors.New("backend reported success without an image")
	ErrNoJobID           = errors.New("backend returned no job id")
)

// Config bounds polling and backend calls
type Config struct {
	PollInterval     time.Duration
	MaxPollDuration  time.Duration
	MaxPollErrors    int
	RequestTimeout   time.Duration
	RequireReference bool
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		PollInterval:    time.Second,
		MaxPollDuration: 10 * time.Minute,
		MaxPollErrors:   5,
		RequestTimeout:  30 * time.Second,
	}
}

// Input is the timeline data a generation works on, captured at start
type Input struct {
	Frames         []skeleton.Skeleton
	FrameIndex     int // used by single-frame generation
	ReferenceImage string
	Prompt         string
	Width          int
	Height         int
}

// State is the observable progress of one generation kind
type State struct {
	Kind         Kind    `json:"kind"`
	Phase        Phase   `json:"phase"`
	Token        uint64  `json:"token"`
	FrameIndex   int     `json:"frame_index"`
	Completed    int     `json:"completed"`
	Total        int     `json:"total"`
	Progress     float64 `json:"progress"`
	FailedFrames []int   `json:"failed_frames,omitempty"`
	Message      string  `json:"message,omitempty"`
	JobID        string  `json:"job_id,omitempty"`
	BackendJobID string  `json:"backend_job_id,omitempty"`
}

func (s State) clone() State {
	s.FailedFrames = append([]int(nil), s.FailedFrames...)
	return s
}

// run is one generation of a kind. Only the current run of a kind may
// change that kind's state or write results.
type run struct {
	kind         Kind
	token        uint64
	ctx          context.Context
	cancel       context.CancelFunc
	userCanceled bool
	done         bool
}

// outcome of a single frame
type outcome struct {
	status    Status
	imageURL  string
	poseImage string
	message   string
}

// Orchestrator drives generation jobs through a Backend and writes results
// to a Sink. At most one run per kind is active; starting a new run
// supersedes the previous one.
type Orchestrator struct {
	backend   Backend
	rasterize Rasterizer
	sink      Sink
	recorder  Recorder
	cfg       Config
	logger    *slog.Logger

	mu        sync.Mutex
	nextToken uint64
	runs      map[Kind]*run
	states    map[Kind]State
	waiters   map[string]chan Result
	wg        sync.WaitGroup
}

// NewOrchestrator creates an orchestrator. Zero config values take defaults.
func NewOrchestrator(backend Backend, rasterize Rasterizer, sink Sink, cfg Config, logger *slog.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxPollDuration <= 0 {
		cfg.MaxPollDuration = def.MaxPollDuration
	}
	if cfg.MaxPollErrors <= 0 {
		cfg.MaxPollErrors = def.MaxPollErrors
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		backend:   backend,
		rasterize: rasterize,
		sink:      sink,
		cfg:       cfg,
		logger:    logger.With("component", "generation"),
		runs:      make(map[Kind]*run),
		states: map[Kind]State{
			KindFrame:    {Kind: KindFrame, Phase: PhaseIdle},
			KindSequence: {Kind: KindSequence, Phase: PhaseIdle},
		},
		waiters: make(map[string]chan Result),
	}
}

// SetRecorder enables job history
func (o *Orchestrator) SetRecorder(r Recorder) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recorder = r
}

// GenerateFrame starts generation of in.Frames[in.FrameIndex]
func (o *Orchestrator) GenerateFrame(in Input) (State, error) {
	if err := o.validate(in); err != nil {
		return State{}, err
	}
	if in.FrameIndex < 0 || in.FrameIndex >= len(in.Frames) {
		return State{}, fmt.Errorf("%w: %d", ErrFrameOutOfRange, in.FrameIndex)
	}
	return o.start(KindFrame, in, []int{in.FrameIndex}), nil
}

// GenerateSequence starts generation of every frame in index order
func (o *Orchestrator) GenerateSequence(in Input) (State, error) {
	if err := o.validate(in); err != nil {
		return State{}, err
	}
	indexes := make([]int, len(in.Frames))
	for i := range indexes {
		indexes[i] = i
	}
	return o.start(KindSequence, in, indexes), nil
}

func (o *Orchestrator) validate(in Input) error {
	if len(in.Frames) == 0 {
		return ErrNoFrames
	}
	if o.cfg.RequireReference && in.ReferenceImage == "" {
		return ErrNoReferenceImage
	}
	if in.Width <= 0 || in.Height <= 0 {
		return ErrInvalidOutputSize
	}
	return nil
}

func (o *Orchestrator) start(kind Kind, in Input, indexes []int) State {
	frames := make([]skeleton.Skeleton, len(in.Frames))
	for i, f := range in.Frames {
		frames[i] = f.Clone()
	}
	in.Frames = frames

	o.mu.Lock()
	defer o.mu.Unlock()

	// the superseded run stops polling; its backend job keeps running
	if prev := o.runs[kind]; prev != nil && !prev.done {
		prev.cancel()
	}

	o.nextToken++
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{kind: kind, token: o.nextToken, ctx: ctx, cancel: cancel}
	o.runs[kind] = r
	o.states[kind] = State{
		Kind:       kind,
		Phase:      PhaseSubmitting,
		Token:      r.token,
		FrameIndex: indexes[0],
		Total:      len(indexes),
	}

	o.logger.Info("generation started", "kind", kind, "token", r.token, "frames", len(indexes))
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(r, in, indexes)
	}()
	return o.states[kind].clone()
}

// Cancel stops the current run of kind at its next poll tick or frame
// boundary and asks the backend to cancel the in-flight job. It reports
// whether a run was active.
func (o *Orchestrator) Cancel(kind Kind) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := o.runs[kind]
	if r == nil || r.done {
		return false
	}
	r.userCanceled = true
	r.cancel()
	return true
}

// State returns the current state of kind
func (o *Orchestrator) State(kind Kind) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.states[kind].clone()
}

// Reset returns a finished kind to idle once its result was consumed
func (o *Orchestrator) Reset(kind Kind) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.states[kind]
	if s.Phase != PhaseSucceeded && s.Phase != PhaseFailed {
		return false
	}
	o.states[kind] = State{Kind: kind, Phase: PhaseIdle, Token: s.Token}
	return true
}

// Notify delivers a pushed job update to the poll loop waiting on it.
// It reports whether a loop was waiting for that backend job.
func (o *Orchestrator) Notify(res Result) bool {
	o.mu.Lock()
	ch, ok := o.waiters[res.ID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	// keep only the newest update
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- res:
	default:
	}
	return true
}

// Close stops every run without remote cancellation and waits for them
func (o *Orchestrator) Close() {
	o.mu.Lock()
	for _, r := range o.runs {
		r.cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *Orchestrator) execute(r *run, in Input, indexes []int) {
	defer r.cancel()

	var failed []int
	var lastMessage string
	for i, idx := range indexes {
		if r.ctx.Err() != nil {
			o.finishCanceled(r)
			return
		}
		o.update(r, func(s *State) {
			s.Phase = PhaseSubmitting
			s.FrameIndex = idx
			s.JobID = ""
			s.BackendJobID = ""
		})

		out := o.generateOne(r, in, idx, len(indexes))
		switch out.status {
		case StatusCanceled:
			o.finishCanceled(r)
			return
		case StatusSucceeded:
			if !o.apply(r, idx, out) {
				o.finishCanceled(r)
				return
			}
		default:
			failed = append(failed, idx)
			lastMessage = out.message
			o.logger.Warn("frame generation failed", "kind", r.kind, "frame", idx, "error", out.message)
		}

		completed := i + 1
		failedCopy := append([]int(nil), failed...)
		o.update(r, func(s *State) {
			s.Completed = completed
			s.Progress = float64(completed) / float64(len(indexes))
			s.FailedFrames = failedCopy
		})
	}

	o.finish(r, func(s *State) {
		if len(failed) == 0 {
			s.Phase = PhaseSucceeded
			s.Message = ""
			return
		}
		s.Phase = PhaseFailed
		if len(indexes) == 1 {
			s.Message = lastMessage
		} else {
			s.Message = fmt.Sprintf("%d of %d frames failed", len(failed), len(indexes))
		}
	})
	o.logger.Info("generation finished", "kind", r.kind, "token", r.token, "failed", len(failed))
}

func (o *Orchestrator) generateOne(r *run, in Input, idx, total int) outcome {
	pose := skeleton.ToKeypoints(in.Frames[idx])
	control, err := o.rasterize(pose, in.Width, in.Height)
	if err != nil {
		return outcome{status: StatusFailed, message: fmt.Sprintf("failed to rasterize pose: %v", err)}
	}
	poseImage := "data:image/png;base64," + base64.StdEncoding.EncodeToString(control)

	job := NewJob(r.kind, idx, total)
	o.record(r, job)
	o.update(r, func(s *State) { s.JobID = job.ID })

	callCtx, cancel := o.callContext(r.ctx)
	res, err := o.backend.Submit(callCtx, Request{
		Keypoints:      pose,
		ControlImage:   control,
		ReferenceImage: in.ReferenceImage,
		Prompt:         in.Prompt,
		Width:          in.Width,
		Height:         in.Height,
	})
	cancel()
	if err != nil {
		return o.fail(r, job, fmt.Sprintf("submission rejected: %v", err))
	}
	job.BackendID = res.ID
	if res.Status.Terminal() {
		return o.settle(r, job, res, poseImage)
	}
	if res.ID == "" {
		return o.fail(r, job, fmt.Sprintf("submission rejected: %v", ErrNoJobID))
	}
	if r.ctx.Err() != nil {
		return o.canceled(r, job)
	}

	notify := o.watch(res.ID)
	defer o.unwatch(res.ID)

	_ = job.Advance(StatusRunning)
	o.record(r, job)
	o.update(r, func(s *State) {
		s.Phase = PhasePolling
		s.BackendJobID = res.ID
	})

	deadline := time.Now().Add(o.cfg.MaxPollDuration)
	pollErrors := 0
	for {
		timer := time.NewTimer(o.cfg.PollInterval)
		select {
		case <-r.ctx.Done():
			timer.Stop()
			return o.canceled(r, job)
		case pushed := <-notify:
			timer.Stop()
			res = pushed
		case <-timer.C:
			if r.ctx.Err() != nil {
				return o.canceled(r, job)
			}
			callCtx, cancel := o.callContext(r.ctx)
			polled, err := o.backend.Poll(callCtx, job.BackendID)
			cancel()
			if err != nil {
				pollErrors++
				o.logger.Warn("poll failed", "job", job.ID, "backend_job", job.BackendID, "attempt", pollErrors, "error", err)
				if pollErrors >= o.cfg.MaxPollErrors {
					return o.fail(r, job, fmt.Sprintf("%v: %v", ErrTooManyPollErrors, err))
				}
				if time.Now().After(deadline) {
					o.cancelRemote(job)
					return o.fail(r, job, ErrPollTimeout.Error())
				}
				continue
			}
			pollErrors = 0
			res = polled
		}

		if res.Status.Terminal() {
			return o.settle(r, job, res, poseImage)
		}
		if time.Now().After(deadline) {
			o.cancelRemote(job)
			return o.fail(r, job, ErrPollTimeout.Error())
		}
	}
}

// callContext detaches a backend call from run cancellation so an in-flight
// request is never preempted; the request timeout still applies
func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cfg.RequestTimeout)
}

func (o *Orchestrator) settle(r *run, job *Job, res Result, poseImage string) outcome {
	switch res.Status {
	case StatusSucceeded:
		if res.ImageURL == "" {
			return o.fail(r, job, ErrNoResultImage.Error())
		}
		job.ResultURL = res.ImageURL
		job.Completed = 1
		_ = job.Advance(StatusSucceeded)
		o.record(r, job)
		return outcome{status: StatusSucceeded, imageURL: res.ImageURL, poseImage: poseImage}
	case StatusCanceled:
		_ = job.Advance(StatusCanceled)
		o.record(r, job)
		return outcome{status: StatusCanceled}
	default:
		msg := res.Error
		if msg == "" {
			msg = "generation failed"
		}
		return o.fail(r, job, msg)
	}
}

func (o *Orchestrator) fail(r *run, job *Job, msg string) outcome {
	job.Error = msg
	_ = job.Advance(StatusFailed)
	o.record(r, job)
	return outcome{status: StatusFailed, message: msg}
}

func (o *Orchestrator) canceled(r *run, job *Job) outcome {
	o.mu.Lock()
	remote := r.userCanceled
	o.mu.Unlock()
	if remote {
		o.cancelRemote(job)
	} else {
		job.Error = "superseded"
	}
	_ = job.Advance(StatusCanceled)
	o.record(r, job)
	return outcome{status: StatusCanceled}
}

// cancelRemote asks the backend to drop a job; failures are only logged
func (o *Orchestrator) cancelRemote(job *Job) {
	if job.BackendID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.RequestTimeout)
	defer cancel()
	if err := o.backend.Cancel(ctx, job.BackendID); err != nil {
		o.logger.Warn("remote cancel failed", "job", job.ID, "backend_job", job.BackendID, "error", err)
	}
}

func (o *Orchestrator) record(r *run, job *Job) {
	o.mu.Lock()
	rec := o.recorder
	o.mu.Unlock()
	if rec == nil {
		return
	}
	if err := rec.SaveJob(context.WithoutCancel(r.ctx), job); err != nil {
		o.logger.Error("failed to record job", "job", job.ID, "error", err)
	}
}

func (o *Orchestrator) watch(backendID string) <-chan Result {
	ch := make(chan Result, 1)
	o.mu.Lock()
	o.waiters[backendID] = ch
	o.mu.Unlock()
	return ch
}

func (o *Orchestrator) unwatch(backendID string) {
	o.mu.Lock()
	delete(o.waiters, backendID)
	o.mu.Unlock()
}

// current must be called with o.mu held
func (o *Orchestrator) current(r *run) bool {
	return o.runs[r.kind] == r && !r.done
}

func (o *Orchestrator) update(r *run, fn func(*State)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.current(r) {
		return
	}
	s := o.states[r.kind]
	fn(&s)
	o.states[r.kind] = s
}

// apply writes a frame result unless the run was canceled or superseded
func (o *Orchestrator) apply(r *run, idx int, out outcome) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.current(r) || r.ctx.Err() != nil {
		return false
	}
	if o.sink != nil {
		o.sink.ApplyResult(r.kind, idx, out.imageURL, out.poseImage)
	}
	return true
}

func (o *Orchestrator) finish(r *run, fn func(*State)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.current(r) {
		return
	}
	s := o.states[r.kind]
	fn(&s)
	o.states[r.kind] = s
	r.done = true
}

func (o *Orchestrator) finishCanceled(r *run) {
	o.finish(r, func(s *State) {
		s.Phase = PhaseIdle
		s.Message = ""
		s.JobID = ""
		s.BackendJobID = ""
	})
	o.logger.Info("generation canceled", "kind", r.kind, "token", r.token)
}
