package timectrl

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFrameClockSetTime(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	fc := NewFrameClock(start, time.Second, RealTime)

	newNow := start.Add(42 * time.Second)
	fc.SetTime(newNow)

	if got := fc.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
}

func TestAcceleratedStartUpdatesNow(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	fc := NewFrameClock(start, 5*time.Millisecond, Accelerated)

	var frames []Frame
	done := fc.Start(context.Background(), 15*time.Millisecond, func(f Frame) {
		frames = append(frames, f)
	})
	<-done

	expected := start.Add(15 * time.Millisecond)
	if got := fc.Now(); !got.Equal(expected) {
		t.Fatalf("Now() = %v, want %v", got, expected)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for i, f := range frames {
		if f.Seq != uint64(i+1) {
			t.Fatalf("frames[%d].Seq = %d, want %d", i, f.Seq, i+1)
		}
		if f.Elapsed != 5*time.Millisecond {
			t.Fatalf("frames[%d].Elapsed = %v, want 5ms", i, f.Elapsed)
		}
	}
}

func TestRealTimeFramesAdvance(t *testing.T) {
	fc := NewFrameClock(time.Time{}, 2*time.Millisecond, RealTime)

	var mu sync.Mutex
	var frames []Frame
	seen := make(chan struct{})
	var once sync.Once
	fc.Start(context.Background(), 0, func(f Frame) {
		mu.Lock()
		frames = append(frames, f)
		n := len(frames)
		mu.Unlock()
		if n >= 3 {
			once.Do(func() { close(seen) })
		}
	})

	select {
	case <-seen:
	case <-time.After(2 * time.Second):
		t.Fatalf("real-time clock did not produce frames")
	}
	fc.Stop()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(frames); i++ {
		if frames[i].Time.Before(frames[i-1].Time) {
			t.Fatalf("frame %d time went backwards", frames[i].Seq)
		}
		if frames[i].Elapsed < 0 {
			t.Fatalf("frame %d elapsed = %v", frames[i].Seq, frames[i].Elapsed)
		}
	}
}

func TestStopWaitsForInFlightFrame(t *testing.T) {
	fc := NewFrameClock(time.Time{}, time.Millisecond, RealTime)

	var inside atomic.Int32
	var afterStop atomic.Int32
	var stopped atomic.Bool
	entered := make(chan struct{}, 1)

	fc.Start(context.Background(), 0, func(Frame) {
		if stopped.Load() {
			afterStop.Add(1)
		}
		inside.Add(1)
		select {
		case entered <- struct{}{}:
		default:
		}
		time.Sleep(5 * time.Millisecond)
		inside.Add(-1)
	})

	<-entered
	fc.Stop()
	stopped.Store(true)

	if n := inside.Load(); n != 0 {
		t.Fatalf("callback still running after Stop returned (%d in flight)", n)
	}
	time.Sleep(10 * time.Millisecond)
	if n := afterStop.Load(); n != 0 {
		t.Fatalf("%d frames fired after Stop", n)
	}
	if fc.Running() {
		t.Fatalf("Running() = true after Stop")
	}
}

func TestStartReplacesRunningLoop(t *testing.T) {
	fc := NewFrameClock(time.Time{}, time.Millisecond, RealTime)

	var first atomic.Int32
	firstSeen := make(chan struct{}, 1)
	fc.Start(context.Background(), 0, func(Frame) {
		first.Add(1)
		select {
		case firstSeen <- struct{}{}:
		default:
		}
	})
	<-firstSeen

	secondSeen := make(chan struct{}, 1)
	fc.Start(context.Background(), 0, func(Frame) {
		select {
		case secondSeen <- struct{}{}:
		default:
		}
	})
	frozen := first.Load()
	<-secondSeen
	fc.Stop()

	if got := first.Load(); got != frozen {
		t.Fatalf("first loop kept firing after restart: %d → %d", frozen, got)
	}
}

func TestContextCancelEndsLoop(t *testing.T) {
	fc := NewFrameClock(time.Time{}, time.Millisecond, RealTime)
	ctx, cancel := context.WithCancel(context.Background())
	done := fc.Start(ctx, 0, nil)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("loop did not exit after context cancel")
	}
	// Stop after the loop already ended is a no-op.
	fc.Stop()
	fc.Stop()
}

func TestModeString(t *testing.T) {
	if RealTime.String() != "real-time" || Accelerated.String() != "accelerated" {
		t.Fatalf("Mode strings = %q, %q", RealTime, Accelerated)
	}
}
