package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/clock"
)

// scriptedSource returns the queued results in order, repeating the last.
type scriptedSource struct {
	results []result
	calls   int
}

type result struct {
	value int
	err   error
}

func (s *scriptedSource) fetch(context.Context) (int, error) {
	r := s.results[min(s.calls, len(s.results)-1)]
	s.calls++
	return r.value, r.err
}

func newTestCoordinator(results ...result) (*Coordinator[int], *scriptedSource, *clock.Fake) {
	src := &scriptedSource{results: results}
	clk := clock.NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	return New("test", time.Minute, clk, src.fetch), src, clk
}

func TestCoordinator_FirstRefresh(t *testing.T) {
	c, _, _ := newTestCoordinator(result{value: 7})

	if err := c.FirstRefresh(context.Background()); err != nil {
		t.Fatalf("FirstRefresh() error = %v", err)
	}
	if c.Data() != 7 || !c.LastUpdateSuccess() {
		t.Errorf("Data() = %d, LastUpdateSuccess() = %v", c.Data(), c.LastUpdateSuccess())
	}
}

func TestCoordinator_FirstRefresh_NotReady(t *testing.T) {
	boom := errors.New("unreachable")
	c, _, _ := newTestCoordinator(result{err: boom})

	err := c.FirstRefresh(context.Background())
	if !errors.Is(err, ErrNotReady) || !errors.Is(err, ErrUpdateFailed) || !errors.Is(err, boom) {
		t.Errorf("FirstRefresh() error = %v, want ErrNotReady wrapping ErrUpdateFailed and cause", err)
	}
	if c.LastUpdateSuccess() {
		t.Error("LastUpdateSuccess() = true after failure")
	}
}

func TestCoordinator_PollsOnlyWithListeners(t *testing.T) {
	c, src, clk := newTestCoordinator(result{value: 1})

	clk.Advance(5 * time.Minute)
	if src.calls != 0 {
		t.Fatalf("polled %d times without listeners", src.calls)
	}

	notified := 0
	remove := c.AddListener(func() { notified++ })

	clk.Advance(3 * time.Minute)
	if src.calls != 3 || notified != 3 {
		t.Errorf("calls = %d, notified = %d; want 3, 3", src.calls, notified)
	}

	remove()
	remove()
	clk.Advance(5 * time.Minute)
	if src.calls != 3 {
		t.Errorf("polled after last listener removed; calls = %d", src.calls)
	}
	if clk.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", clk.Pending())
	}
}

func TestCoordinator_FailureKeepsDataAndRecovers(t *testing.T) {
	boom := errors.New("device unavailable")
	c, _, clk := newTestCoordinator(result{value: 1}, result{err: boom}, result{value: 2})

	var seen []bool
	c.AddListener(func() { seen = append(seen, c.LastUpdateSuccess()) })

	clk.Advance(time.Minute)
	clk.Advance(time.Minute)
	if c.Data() != 1 || c.LastUpdateSuccess() {
		t.Errorf("after failure Data() = %d, LastUpdateSuccess() = %v", c.Data(), c.LastUpdateSuccess())
	}
	if !errors.Is(c.LastError(), ErrUpdateFailed) {
		t.Errorf("LastError() = %v, want ErrUpdateFailed", c.LastError())
	}

	clk.Advance(time.Minute)
	if c.Data() != 2 || !c.LastUpdateSuccess() || c.LastError() != nil {
		t.Errorf("after recovery Data() = %d, LastUpdateSuccess() = %v, LastError() = %v",
			c.Data(), c.LastUpdateSuccess(), c.LastError())
	}
	if len(seen) != 3 || seen[0] != true || seen[1] != false || seen[2] != true {
		t.Errorf("listener saw %v, want [true false true]", seen)
	}
}

func TestCoordinator_Shutdown(t *testing.T) {
	c, src, clk := newTestCoordinator(result{value: 1})
	c.AddListener(func() {})

	c.Shutdown()
	clk.Advance(5 * time.Minute)

	if src.calls != 0 {
		t.Errorf("polled %d times after Shutdown", src.calls)
	}
	if err := c.Refresh(context.Background()); err != nil || src.calls != 0 {
		t.Errorf("Refresh() after Shutdown = %v, calls = %d", err, src.calls)
	}
	if c.ListenerCount() != 0 {
		t.Errorf("ListenerCount() = %d, want 0", c.ListenerCount())
	}
}
