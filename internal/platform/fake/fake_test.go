package fake

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"io"
	"testing"
	"time"

	"facecam/internal/camera"
)

func TestGetUserMedia_FailsFirst(t *testing.T) {
	p := New(Config{FailFirst: 2, FailName: camera.NameNotAllowed})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := p.GetUserMedia(ctx, camera.ConstraintAttempt{})
		var pe *camera.PlatformError
		if !errors.As(err, &pe) || pe.Name != camera.NameNotAllowed {
			t.Fatalf("call %d: expected NotAllowedError, got %v", i+1, err)
		}
	}

	stream, err := p.GetUserMedia(ctx, camera.ConstraintAttempt{Video: &camera.VideoConstraints{
		FacingMode: camera.FacingRear,
		Width:      camera.IntRange{Exact: 320},
		Height:     camera.IntRange{Exact: 240},
	}})
	if err != nil {
		t.Fatalf("Expected third call to succeed, got %v", err)
	}
	if p.Calls() != 3 {
		t.Errorf("Expected 3 calls, got %d", p.Calls())
	}

	s := stream.VideoTracks()[0].Settings()
	if s.Width != 320 || s.Height != 240 || s.FacingMode != camera.FacingRear || s.DeviceID != "fake-rear" {
		t.Errorf("unexpected settings: %+v", s)
	}
}

func TestTrack_ReadFrameUntilStopped(t *testing.T) {
	p := New(Config{FrameRate: 100})
	stream, err := p.GetUserMedia(context.Background(), camera.ConstraintAttempt{})
	if err != nil {
		t.Fatalf("GetUserMedia failed: %v", err)
	}
	track := stream.VideoTracks()[0]
	reader, ok := track.(camera.FrameReader)
	if !ok {
		t.Fatal("Expected track to implement FrameReader")
	}

	for i := 0; i < 2; i++ {
		img, err := reader.ReadFrame(context.Background())
		if err != nil {
			t.Fatalf("ReadFrame failed: %v", err)
		}
		if b := img.Bounds(); b.Dx() != DefaultWidth || b.Dy() != DefaultHeight {
			t.Errorf("unexpected frame size: %v", b)
		}
	}

	camera.Release(stream, nil)
	if track.ReadyState() != camera.TrackEnded {
		t.Error("Expected track to be ended")
	}
	if _, err := reader.ReadFrame(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestSession_WithFakePlatform(t *testing.T) {
	ctx := context.Background()
	p := New(Config{FailFirst: 1})

	cfg := camera.DefaultSessionConfig()
	cfg.Acquirer.AttemptDelay = 0
	cfg.Capture = camera.CaptureOptions{Format: camera.FormatPNG}
	rec := &camera.RecordingNotifier{}
	s := camera.NewSession("fake", p, cfg, camera.WithClassifier(camera.NewClassifier(rec, camera.MatchLocale("ja"))))
	defer s.Close()

	if err := s.Start(ctx, camera.FacingFront); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if st := s.State(); st.Status != camera.StatusReady {
		t.Fatalf("Expected ready, got %s", st.Status)
	}
	if len(rec.Notifications()) != 0 {
		t.Error("Expected a recovered ladder not to notify")
	}

	// 最初のフレームが届くまで待つ
	deadline := time.Now().Add(2 * time.Second)
	for {
		if w, _ := s.Surface().Dimensions(); w > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Expected the surface to report dimensions")
		}
		time.Sleep(5 * time.Millisecond)
	}

	frame, err := s.Capture(ctx, nil)
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if frame.Width != DefaultWidth || frame.Height != DefaultHeight || !frame.Mirrored {
		t.Fatalf("unexpected frame: %dx%d mirrored=%v", frame.Width, frame.Height, frame.Mirrored)
	}

	img, err := png.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	// 元の左半分（赤系）が右側に来る
	y := DefaultHeight / 2
	if r, _, b, _ := img.At(DefaultWidth-1-101, y).RGBA(); r <= b {
		t.Error("Expected the left half of the source on the right after mirroring")
	}
	if r, _, b, _ := img.At(DefaultWidth-1-1181, y).RGBA(); b <= r {
		t.Error("Expected the right half of the source on the left after mirroring")
	}

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if s.Surface().Source() != nil {
		t.Error("Expected surface to be detached")
	}
}
