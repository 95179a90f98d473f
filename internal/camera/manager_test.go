package camera

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestManager(p *MockPlatform, notifier Notifier) *Manager {
	return NewManager(p, ManagerConfig{Session: testSessionConfig()}, notifier)
}

func TestManager_Basic(t *testing.T) {
	ctx := context.Background()
	p := NewMockPlatform(
		DeviceDescriptor{DeviceID: "cam-1", Kind: DeviceVideoInput, Label: "テストカメラ 1"},
		DeviceDescriptor{DeviceID: "cam-2", Kind: DeviceVideoInput, Label: "テストカメラ 2"},
	)
	manager := newTestManager(p, &RecordingNotifier{})

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if devices := manager.Devices(); len(devices) != 2 {
		t.Fatalf("Expected 2 cameras, got %d", len(devices))
	}
	if !manager.HasCamera() {
		t.Error("Expected HasCamera to be true")
	}
	if manager.LastScan().IsZero() {
		t.Error("Expected scan time to be set")
	}

	if err := manager.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestManager_CreateRemoveSession(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(NewMockPlatform(), &RecordingNotifier{})
	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = manager.Stop(ctx) }()

	s := manager.CreateSession(SessionOptions{FacingMode: FacingRear})
	if s.ID() == "" {
		t.Fatal("Expected session ID to be set")
	}
	if st := s.State(); st.Status != StatusIdle || st.FacingMode != FacingRear {
		t.Errorf("unexpected initial state: %+v", st)
	}

	got, err := manager.GetSession(s.ID())
	if err != nil || got != s {
		t.Fatalf("GetSession failed: %v", err)
	}
	if states := manager.Sessions(); len(states) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(states))
	}

	if err := manager.RemoveSession(s.ID()); err != nil {
		t.Fatalf("RemoveSession failed: %v", err)
	}
	if _, err := manager.GetSession(s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
	if err := manager.RemoveSession(s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound on second removal, got %v", err)
	}
	if err := s.Start(ctx, FacingFront); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected removed session to be closed, got %v", err)
	}
}

func TestManager_SingleLiveStream(t *testing.T) {
	ctx := context.Background()
	p := NewMockPlatform()
	manager := newTestManager(p, &RecordingNotifier{})
	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = manager.Stop(ctx) }()

	a := manager.CreateSession(SessionOptions{})
	b := manager.CreateSession(SessionOptions{})

	if err := a.Start(ctx, FacingFront); err != nil {
		t.Fatalf("a.Start failed: %v", err)
	}
	if manager.Live() != a {
		t.Fatal("Expected a to own the camera")
	}
	aStream := p.Streams()[0]

	if err := b.Start(ctx, FacingRear); err != nil {
		t.Fatalf("b.Start failed: %v", err)
	}

	if aStream.Live() != 0 {
		t.Error("Expected a's stream to be stopped when b acquired")
	}
	if st := a.State(); st.Status != StatusStopped {
		t.Errorf("Expected a to be stopped, got %s", st.Status)
	}
	if st := b.State(); st.Status != StatusReady {
		t.Errorf("Expected b to be ready, got %s", st.Status)
	}
	if manager.Live() != b {
		t.Error("Expected b to own the camera")
	}

	live := 0
	for _, stream := range p.Streams() {
		live += stream.Live()
	}
	if live != 1 {
		t.Errorf("Expected exactly 1 live track, got %d", live)
	}
}

func TestManager_ExhaustedRetryDoesNotStealCamera(t *testing.T) {
	ctx := context.Background()
	p := NewMockPlatform()
	cfg := ManagerConfig{Session: testSessionConfig()}
	cfg.Session.MaxRetries = 0
	manager := NewManager(p, cfg, &RecordingNotifier{})
	defer func() { _ = manager.Stop(ctx) }()

	a := manager.CreateSession(SessionOptions{})
	b := manager.CreateSession(SessionOptions{})

	if err := a.Start(ctx, FacingFront); err != nil {
		t.Fatalf("a.Start failed: %v", err)
	}

	p.FailAlways(NewPlatformError(NameNotReadable, "busy", nil))
	_ = b.Start(ctx, FacingFront)
	p.FailAlways(nil)

	if err := a.Start(ctx, FacingFront); err != nil {
		t.Fatalf("a.Start failed: %v", err)
	}
	if err := b.Retry(ctx); !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Expected ErrRetryExhausted, got %v", err)
	}
	if a.State().Status != StatusReady {
		t.Error("Expected a refused retry to leave the owner running")
	}
}

func TestManager_BackgroundScan(t *testing.T) {
	ctx := context.Background()
	p := NewMockPlatform()
	manager := NewManager(p, ManagerConfig{
		Session:       testSessionConfig(),
		ScanInterval:  10 * time.Millisecond,
		AutoDiscovery: true,
	}, nil)

	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = manager.Stop(ctx) }()

	if manager.HasCamera() {
		t.Fatal("Expected no camera initially")
	}

	p.SetDevices(DeviceDescriptor{DeviceID: "cam-1", Kind: DeviceVideoInput})

	deadline := time.Now().Add(time.Second)
	for !manager.HasCamera() {
		if time.Now().After(deadline) {
			t.Fatal("Expected background scan to find the new camera")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManager_StopClosesSessions(t *testing.T) {
	ctx := context.Background()
	p := NewMockPlatform()
	manager := newTestManager(p, &RecordingNotifier{})
	if err := manager.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	s := manager.CreateSession(SessionOptions{})
	if err := s.Start(ctx, FacingFront); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := manager.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if p.Streams()[0].Live() != 0 {
		t.Error("Expected stream to be released on manager stop")
	}
	if len(manager.Sessions()) != 0 {
		t.Error("Expected no sessions after stop")
	}

	// 再起動できる
	if err := manager.Start(ctx); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	_ = manager.Stop(ctx)
}
