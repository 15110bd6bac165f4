package service

import (
	"context"
	"time"

	"github.com/jengzang/framelab-backend/internal/timeline"
)

// commandSource provides commands from external producers
type commandSource[T any] interface {
	NextCommand() (T, bool)
	WaitCommand(context.Context) (T, bool)
}

// commandHandler consumes commands and reports whether processing should continue
type commandHandler[T any] interface {
	HandleCommand(T) bool
}

type commandHandlerFunc[T any] func(T) bool

func (f commandHandlerFunc[T]) HandleCommand(cmd T) bool {
	if f == nil {
		return true
	}
	return f(cmd)
}

// commandLoop drains and dispatches commands
type commandLoop[T any] struct {
	source  commandSource[T]
	handler commandHandler[T]
}

func newCommandLoop[T any](source commandSource[T], handler commandHandler[T]) *commandLoop[T] {
	return &commandLoop[T]{source: source, handler: handler}
}

// DrainPending dispatches every command that is already queued
func (c *commandLoop[T]) DrainPending() bool {
	for {
		cmd, ok := c.source.NextCommand()
		if !ok {
			return true
		}
		if !c.handler.HandleCommand(cmd) {
			return false
		}
	}
}

// WaitAndHandle blocks for one command (or ctx cancellation) and dispatches it
func (c *commandLoop[T]) WaitAndHandle(ctx context.Context) bool {
	cmd, ok := c.source.WaitCommand(ctx)
	if !ok {
		return true
	}
	return c.handler.HandleCommand(cmd)
}

// command is one serialized timeline operation. Timer-driven commands carry
// no done channel.
type command struct {
	kind commandKind
	fn   func(*timeline.Timeline) bool // reports whether the persisted document changed
	done chan struct{}
}

type commandKind int

const (
	commandCall commandKind = iota
	commandTick
	commandPersist
)

// commandQueue merges caller commands with the playback ticker and the
// persist timer. Timers are only touched by the loop goroutine.
type commandQueue struct {
	calls    chan command
	ticker   *time.Ticker
	interval time.Duration
	persist  *time.Timer
}

func newCommandQueue(buffer int) *commandQueue {
	return &commandQueue{calls: make(chan command, buffer)}
}

func (q *commandQueue) tickC() <-chan time.Time {
	if q.ticker == nil {
		return nil
	}
	return q.ticker.C
}

func (q *commandQueue) persistC() <-chan time.Time {
	if q.persist == nil {
		return nil
	}
	return q.persist.C
}

func (q *commandQueue) NextCommand() (command, bool) {
	select {
	case cmd := <-q.calls:
		return cmd, true
	default:
		return command{}, false
	}
}

func (q *commandQueue) WaitCommand(ctx context.Context) (command, bool) {
	select {
	case cmd := <-q.calls:
		return cmd, true
	case <-q.tickC():
		return command{kind: commandTick}, true
	case <-q.persistC():
		q.persist = nil
		return command{kind: commandPersist}, true
	case <-ctx.Done():
		return command{}, false
	}
}

// setInterval starts, retunes or stops the playback ticker
func (q *commandQueue) setInterval(d time.Duration) {
	if d < 0 {
		d = 0
	}
	if d == q.interval {
		return
	}
	q.interval = d
	switch {
	case d == 0:
		q.ticker.Stop()
		q.ticker = nil
	case q.ticker == nil:
		q.ticker = time.NewTicker(d)
	default:
		q.ticker.Reset(d)
	}
}

// schedulePersist arms the persist timer unless it is already pending
func (q *commandQueue) schedulePersist(delay time.Duration) {
	if q.persist == nil {
		q.persist = time.NewTimer(delay)
	}
}

func (q *commandQueue) stop() {
	q.setInterval(0)
	if q.persist != nil {
		q.persist.Stop()
		q.persist = nil
	}
}
