package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

func TestRun_DoesNotBlockCaller(t *testing.T) {
	r := NewRunner(2)
	defer r.Close()

	release := make(chan struct{})
	var ran atomic.Bool

	if err := r.Run("slow", func(context.Context) {
		<-release
		ran.Store(true)
	}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if ran.Load() {
		t.Fatal("job ran inline")
	}
	if r.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", r.Pending())
	}

	close(release)
	r.Wait()

	if !ran.Load() {
		t.Error("job did not run")
	}
	if r.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", r.Pending())
	}
}

func TestRun_BoundsConcurrency(t *testing.T) {
	const limit = 3
	r := NewRunner(limit)
	defer r.Close()

	var running, peak atomic.Int32
	for i := 0; i < 20; i++ {
		if err := r.Run("work", func(context.Context) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		}); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	}
	r.Wait()

	if p := peak.Load(); p > limit {
		t.Errorf("peak concurrency = %d, want <= %d", p, limit)
	}
}

func TestRun_RecoversPanics(t *testing.T) {
	logger := &recordingLogger{}
	r := NewRunner(1)
	r.SetLogger(logger)
	defer r.Close()

	if err := r.Run("explode", func(context.Context) { panic("boom") }); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	r.Wait()

	ran := false
	if err := r.Run("after", func(context.Context) { ran = true }); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	r.Wait()

	if !ran {
		t.Error("runner unusable after a panic")
	}
	if len(logger.msgs) != 1 {
		t.Errorf("logged = %v, want one panic entry", logger.msgs)
	}
}

func TestWait_IncludesNestedJobs(t *testing.T) {
	r := NewRunner(4)
	defer r.Close()

	var count atomic.Int32
	if err := r.Run("parent", func(context.Context) {
		count.Add(1)
		_ = r.Run("child", func(context.Context) { count.Add(1) }) //nolint:errcheck // Runner is open
	}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	r.Wait()

	if count.Load() != 2 {
		t.Errorf("jobs run = %d, want 2", count.Load())
	}
}

func TestClose(t *testing.T) {
	r := NewRunner(1)

	started := make(chan struct{})
	var cancelled atomic.Bool
	if err := r.Run("long", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	<-started

	r.Close()

	if !cancelled.Load() {
		t.Error("running job context not cancelled by Close")
	}
	if err := r.Run("late", func(context.Context) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Run() after Close = %v, want ErrClosed", err)
	}
}
