package pion

import (
	"context"
	"errors"
	"image"
	"io"
	"testing"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"

	"facecam/internal/camera"
)

func TestEnumerateDevices(t *testing.T) {
	p := &Platform{
		enumerate: func() []mediadevices.MediaDeviceInfo {
			return []mediadevices.MediaDeviceInfo{
				{DeviceID: "mic", Kind: mediadevices.AudioInput, Label: "Mic"},
				{DeviceID: "cam", Kind: mediadevices.VideoInput, Label: "USB Camera"},
			}
		},
	}

	devices, err := p.EnumerateDevices(context.Background())
	if err != nil {
		t.Fatalf("EnumerateDevices failed: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("Expected 2 devices, got %d", len(devices))
	}
	if devices[0].Kind != camera.DeviceAudioInput || devices[1].Kind != camera.DeviceVideoInput {
		t.Errorf("unexpected kinds: %v", devices)
	}
	if devices[1].Label != "USB Camera" {
		t.Errorf("unexpected label: %s", devices[1].Label)
	}
}

func TestGetUserMedia_PassesConstraints(t *testing.T) {
	var got mediadevices.MediaTrackConstraints
	p := &Platform{
		getUserMedia: func(c mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error) {
			c.Video(&got)
			return nil, errors.New("failed to find the best driver that fits the constraints")
		},
	}

	_, err := p.GetUserMedia(context.Background(), camera.ConstraintAttempt{
		Label: "tuned",
		Video: &camera.VideoConstraints{
			DeviceID:  "cam",
			Width:     camera.IntRange{Ideal: 1280, Max: 1920},
			Height:    camera.IntRange{Exact: 720},
			FrameRate: camera.IntRange{Ideal: 30},
		},
	})

	var pe *camera.PlatformError
	if !errors.As(err, &pe) || pe.Name != camera.NameOverconstrained {
		t.Fatalf("Expected OverconstrainedError, got %v", err)
	}

	if got.DeviceID != prop.StringExact("cam") {
		t.Errorf("unexpected device constraint: %#v", got.DeviceID)
	}
	if got.Width != (prop.IntRanged{Max: 1920, Ideal: 1280}) {
		t.Errorf("unexpected width constraint: %#v", got.Width)
	}
	if got.Height != prop.IntExact(720) {
		t.Errorf("unexpected height constraint: %#v", got.Height)
	}
	if got.FrameRate != prop.Float(30) {
		t.Errorf("unexpected frame rate constraint: %#v", got.FrameRate)
	}
}

func TestGetUserMedia_Unconstrained(t *testing.T) {
	var got mediadevices.MediaTrackConstraints
	p := &Platform{
		getUserMedia: func(c mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error) {
			c.Video(&got)
			return nil, errors.New("open /dev/video0: device or resource busy")
		},
	}

	_, err := p.GetUserMedia(context.Background(), camera.ConstraintAttempt{Label: "boolean"})

	var pe *camera.PlatformError
	if !errors.As(err, &pe) || pe.Name != camera.NameNotReadable {
		t.Fatalf("Expected NotReadableError, got %v", err)
	}
	if got.DeviceID != nil || got.Width != nil || got.Height != nil {
		t.Errorf("Expected no constraints, got %#v", got)
	}
}

func TestGetUserMedia_CancelledContext(t *testing.T) {
	called := false
	p := &Platform{
		getUserMedia: func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error) {
			called = true
			return nil, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.GetUserMedia(ctx, camera.ConstraintAttempt{})
	var pe *camera.PlatformError
	if !errors.As(err, &pe) || pe.Name != camera.NameAbort {
		t.Errorf("Expected AbortError, got %v", err)
	}
	if called {
		t.Error("Expected no driver call after cancellation")
	}
}

func TestMapError(t *testing.T) {
	testCases := []struct {
		msg  string
		want string
	}{
		{"open /dev/video0: permission denied", camera.NameNotAllowed},
		{"device or resource busy", camera.NameNotReadable},
		{"failed to find the best driver that fits the constraints", camera.NameOverconstrained},
		{"open /dev/video3: no such file or directory", camera.NameNotFound},
		{"unexpected", camera.NameAbort},
	}

	for _, tc := range testCases {
		var pe *camera.PlatformError
		if err := mapError(errors.New(tc.msg)); !errors.As(err, &pe) || pe.Name != tc.want {
			t.Errorf("%q: expected %s, got %v", tc.msg, tc.want, err)
		}
	}
}

type stubReader struct {
	img      image.Image
	err      error
	released int
}

func (r *stubReader) Read() (image.Image, func(), error) {
	if r.err != nil {
		return nil, nil, r.err
	}
	return r.img, func() { r.released++ }, nil
}

func TestTrack_ReadFrame(t *testing.T) {
	reader := &stubReader{img: image.NewRGBA(image.Rect(10, 10, 170, 130))}
	tr := &track{reader: reader, state: camera.TrackLive}

	img, err := tr.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if b := img.Bounds(); b.Min != (image.Point{}) || b.Dx() != 160 || b.Dy() != 120 {
		t.Errorf("Expected a 160x120 copy at origin, got %v", b)
	}
	if img == reader.img {
		t.Error("Expected the frame to be copied out of the driver buffer")
	}
	if reader.released != 1 {
		t.Errorf("Expected the driver buffer to be released once, got %d", reader.released)
	}
	if s := tr.Settings(); s.Width != 160 || s.Height != 120 {
		t.Errorf("unexpected settings: %+v", s)
	}

	reader.err = errors.New("read failed")
	if _, err := tr.ReadFrame(context.Background()); err == nil || errors.Is(err, io.EOF) {
		t.Errorf("Expected a read error, got %v", err)
	}

	tr.state = camera.TrackEnded
	if _, err := tr.ReadFrame(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF after stop, got %v", err)
	}

	if err := tr.ApplyConstraints(context.Background(), camera.DefaultAdvancedConstraints()); !errors.Is(err, camera.ErrConstraintNotSupported) {
		t.Errorf("Expected ErrConstraintNotSupported, got %v", err)
	}
}
