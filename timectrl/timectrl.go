package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock is an interface for accessing simulation time, so components can
// depend on a clock abstraction rather than on FrameClock directly.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how the FrameClock advances simulation time.
type Mode int

const (
	// RealTime fires frames from a wall-clock ticker; the elapsed time of each
	// frame is whatever actually passed, so frame rate may vary.
	RealTime Mode = iota
	// Accelerated steps by Interval as fast as the loop can run.
	Accelerated
)

func (m Mode) String() string {
	if m == Accelerated {
		return "accelerated"
	}
	return "real-time"
}

// Frame is one invocation of the frame callback.
type Frame struct {
	Seq     uint64
	Time    time.Time
	Elapsed time.Duration
}

// FrameClock drives a per-frame callback loop. At most one callback runs at
// a time and callbacks never overlap. Stop cancels the loop and waits for
// any in-flight callback, so no frame fires after Stop returns.
type FrameClock struct {
	mu       sync.Mutex
	Interval time.Duration
	Mode     Mode

	// wall is the time source for RealTime frames.
	wall func() time.Time

	currentTime time.Time
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewFrameClock constructs a stopped clock whose simulation time starts at
// start.
func NewFrameClock(start time.Time, interval time.Duration, mode Mode) *FrameClock {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	return &FrameClock{
		Interval:    interval,
		Mode:        mode,
		wall:        time.Now,
		currentTime: start,
	}
}

// Now returns the timestamp of the most recent frame. Implements SimClock.
func (fc *FrameClock) Now() time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.currentTime
}

// SetTime overrides the current simulation time. It only affects the next
// Start in Accelerated mode.
func (fc *FrameClock) SetTime(t time.Time) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.currentTime = t
}

// Running reports whether a frame loop is active.
func (fc *FrameClock) Running() bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.done == nil {
		return false
	}
	select {
	case <-fc.done:
		return false
	default:
		return true
	}
}

// Start launches the frame loop, calling fn once per frame until Stop is
// called, ctx is cancelled, or duration of simulation time has passed
// (duration <= 0 runs until stopped). Any loop already running is stopped
// first. The returned channel is closed when the loop exits.
func (fc *FrameClock) Start(ctx context.Context, duration time.Duration, fn func(Frame)) <-chan struct{} {
	fc.Stop()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	fc.mu.Lock()
	fc.cancel = cancel
	fc.done = done
	if fc.Mode == RealTime {
		fc.currentTime = fc.wall()
	}
	start := fc.currentTime
	fc.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		if fc.Mode == Accelerated {
			fc.runAccelerated(loopCtx, start, duration, fn)
		} else {
			fc.runRealTime(loopCtx, start, duration, fn)
		}
	}()
	return done
}

// Stop cancels the frame loop and blocks until it has exited. It must not
// be called from inside a frame callback.
func (fc *FrameClock) Stop() {
	fc.mu.Lock()
	cancel, done := fc.cancel, fc.done
	fc.cancel, fc.done = nil, nil
	fc.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (fc *FrameClock) runRealTime(ctx context.Context, start time.Time, duration time.Duration, fn func(Frame)) {
	ticker := time.NewTicker(fc.Interval)
	defer ticker.Stop()

	prev := start
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// A cancel that raced with the ticker wins.
		if ctx.Err() != nil {
			return
		}
		now := fc.wall()
		seq++
		if !fc.emit(ctx, Frame{Seq: seq, Time: now, Elapsed: now.Sub(prev)}, fn) {
			return
		}
		prev = now
		if duration > 0 && now.Sub(start) >= duration {
			return
		}
	}
}

func (fc *FrameClock) runAccelerated(ctx context.Context, start time.Time, duration time.Duration, fn func(Frame)) {
	simTime := start
	elapsed := time.Duration(0)
	var seq uint64
	for {
		if duration > 0 && elapsed >= duration {
			return
		}
		if ctx.Err() != nil {
			return
		}
		simTime = simTime.Add(fc.Interval)
		elapsed += fc.Interval
		seq++
		if !fc.emit(ctx, Frame{Seq: seq, Time: simTime, Elapsed: fc.Interval}, fn) {
			return
		}
	}
}

func (fc *FrameClock) emit(ctx context.Context, f Frame, fn func(Frame)) bool {
	fc.mu.Lock()
	fc.currentTime = f.Time
	fc.mu.Unlock()

	if ctx.Err() != nil {
		return false
	}
	if fn != nil {
		fn(f)
	}
	return true
}
