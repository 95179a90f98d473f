package camera

import (
	"context"
	"errors"
	"image"
	"io"
	"testing"
	"time"
)

type frameTrack struct {
	*MockTrack
	frames chan image.Image
}

func (t *frameTrack) ReadFrame(ctx context.Context) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case img, ok := <-t.frames:
		if !ok {
			return nil, io.EOF
		}
		return img, nil
	}
}

type frameStream struct {
	track *frameTrack
}

func (s *frameStream) ID() string           { return "frame-stream" }
func (s *frameStream) Tracks() []Track      { return []Track{s.track} }
func (s *frameStream) VideoTracks() []Track { return []Track{s.track} }

func TestFrameSurface_ReportsFirstFrame(t *testing.T) {
	track := &frameTrack{
		MockTrack: NewMockTrack("v", TrackVideo, "cam", TrackSettings{}),
		frames:    make(chan image.Image, 1),
	}
	stream := &frameStream{track: track}
	surface := NewFrameSurface()

	if err := surface.Attach(stream); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if surface.Source() != stream {
		t.Error("Expected source to be set")
	}
	if w, h := surface.Dimensions(); w != 0 || h != 0 {
		t.Fatalf("Expected no dimensions before the first frame, got %dx%d", w, h)
	}

	track.frames <- image.NewRGBA(image.Rect(0, 0, 160, 120))

	if !WaitUntilReady(context.Background(), surface, time.Second, 5*time.Millisecond) {
		t.Fatal("Expected ready")
	}
	if w, h := surface.Dimensions(); w != 160 || h != 120 {
		t.Errorf("Expected 160x120, got %dx%d", w, h)
	}
	if img, err := surface.Frame(); err != nil || img == nil {
		t.Errorf("Expected a frame, got %v, %v", img, err)
	}

	Release(stream, surface)

	if surface.Source() != nil {
		t.Error("Expected source to be cleared")
	}
	if img, _ := surface.Frame(); img != nil {
		t.Error("Expected frame to be cleared after reload")
	}
	if surface.ReadyState() != HaveNothing {
		t.Errorf("Expected HaveNothing, got %d", surface.ReadyState())
	}
}

func TestFrameSurface_RequiresFrameReader(t *testing.T) {
	surface := NewFrameSurface()
	stream := NewMockStream("s", NewMockTrack("v", TrackVideo, "cam", TrackSettings{}))

	err := surface.Attach(stream)
	var pe *PlatformError
	if !errors.As(err, &pe) || pe.Name != NameNotSupported {
		t.Fatalf("Expected NotSupported error, got %v", err)
	}
	if surface.Source() != nil {
		t.Error("Expected source to stay empty")
	}
}
