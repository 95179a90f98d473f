package camera

import (
	"context"
	"testing"
	"time"
)

func TestWaitUntilReady_Immediate(t *testing.T) {
	s := NewSilentMockSurface()
	s.SetDimensions(640, 480)

	start := time.Now()
	if !WaitUntilReady(context.Background(), s, time.Second, 10*time.Millisecond) {
		t.Fatal("Expected ready")
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("Expected immediate return, took %v", time.Since(start))
	}
	if s.Subscribers() != 0 {
		t.Error("Expected no subscription when already ready")
	}
}

func TestWaitUntilReady_Event(t *testing.T) {
	s := NewSilentMockSurface()

	go func() {
		for s.Subscribers() == 0 {
			time.Sleep(time.Millisecond)
		}
		s.Emit(EventCanPlay)
	}()

	start := time.Now()
	if !WaitUntilReady(context.Background(), s, 5*time.Second, time.Hour) {
		t.Fatal("Expected ready")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected event to end the wait, took %v", elapsed)
	}
	if s.Subscribers() != 0 {
		t.Error("Expected listener to be removed")
	}
}

func TestWaitUntilReady_Poll(t *testing.T) {
	s := NewSilentMockSurface()

	go func() {
		time.Sleep(30 * time.Millisecond)
		s.SetDimensions(320, 240)
	}()

	start := time.Now()
	if !WaitUntilReady(context.Background(), s, 5*time.Second, 10*time.Millisecond) {
		t.Fatal("Expected ready")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected poll to end the wait, took %v", elapsed)
	}
}

func TestWaitUntilReady_ReadyStateWithoutDimensions(t *testing.T) {
	s := NewSilentMockSurface()
	s.SetReadyState(HaveCurrentData)

	if !WaitUntilReady(context.Background(), s, time.Second, 10*time.Millisecond) {
		t.Fatal("Expected ready")
	}
}

func TestWaitUntilReady_TimeoutIsFailOpen(t *testing.T) {
	timeouts := []time.Duration{20 * time.Millisecond, 80 * time.Millisecond, 150 * time.Millisecond}

	for _, timeout := range timeouts {
		s := NewSilentMockSurface()

		start := time.Now()
		ready := WaitUntilReady(context.Background(), s, timeout, 10*time.Millisecond)
		elapsed := time.Since(start)

		if !ready {
			t.Errorf("timeout=%v: Expected true on timeout", timeout)
		}
		if elapsed < timeout {
			t.Errorf("timeout=%v: returned too early (%v)", timeout, elapsed)
		}
		if elapsed > timeout+500*time.Millisecond {
			t.Errorf("timeout=%v: took %v", timeout, elapsed)
		}
		if s.Subscribers() != 0 {
			t.Errorf("timeout=%v: Expected listener to be removed", timeout)
		}
	}
}

func TestWaitUntilReady_Cancelled(t *testing.T) {
	s := NewSilentMockSurface()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if WaitUntilReady(ctx, s, 5*time.Second, 10*time.Millisecond) {
		t.Fatal("Expected false after cancellation")
	}
}

func TestWaitUntilReady_NilSurface(t *testing.T) {
	if WaitUntilReady(context.Background(), nil, time.Second, time.Millisecond) {
		t.Fatal("Expected false for nil surface")
	}
}
