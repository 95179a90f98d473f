package camera

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
)

// stripes は列ごとに異なる色を持つテスト画像を作る
func stripes(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 40), G: uint8(y * 60), B: uint8(255 - x*30), A: 255})
		}
	}
	return img
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("PNG decode failed: %v", err)
	}
	return img
}

func TestCapture_MirrorFrontCamera(t *testing.T) {
	const w, h = 6, 3
	src := stripes(w, h)

	surface := NewSilentMockSurface()
	surface.SetDimensions(w, h)
	surface.SetFrame(src)

	testCases := []struct {
		facing   FacingMode
		mirrored bool
	}{
		{FacingFront, true},
		{FacingRear, false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.facing), func(t *testing.T) {
			frame, err := Capture(surface, tc.facing, CaptureOptions{Format: FormatPNG})
			if err != nil {
				t.Fatalf("Capture failed: %v", err)
			}
			if frame.Mirrored != tc.mirrored {
				t.Errorf("Expected Mirrored=%v, got %v", tc.mirrored, frame.Mirrored)
			}
			if frame.Width != w || frame.Height != h {
				t.Fatalf("Expected %dx%d, got %dx%d", w, h, frame.Width, frame.Height)
			}

			out := decodePNG(t, frame.Data)
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					srcX := x
					if tc.mirrored {
						srcX = w - 1 - x
					}
					got := color.RGBAModel.Convert(out.At(x, y)).(color.RGBA)
					want := src.RGBAAt(srcX, y)
					if got != want {
						t.Errorf("pixel (%d,%d): got %v, want source (%d,%d) %v", x, y, got, srcX, y, want)
					}
				}
			}
		})
	}
}

func TestCapture_FallbackDimensions(t *testing.T) {
	surface := NewSilentMockSurface()

	frame, err := Capture(surface, FacingFront, DefaultCaptureOptions())
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if frame.Width != FallbackWidth || frame.Height != FallbackHeight {
		t.Fatalf("Expected %dx%d, got %dx%d", FallbackWidth, FallbackHeight, frame.Width, frame.Height)
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(frame.Data))
	if err != nil {
		t.Fatalf("JPEG decode failed: %v", err)
	}
	if cfg.Width != FallbackWidth || cfg.Height != FallbackHeight {
		t.Errorf("Encoded image is %dx%d", cfg.Width, cfg.Height)
	}
}

func TestCapture_ScalesFrameToSurface(t *testing.T) {
	surface := NewSilentMockSurface()
	surface.SetDimensions(64, 48)
	surface.SetFrame(stripes(32, 24))

	frame, err := Capture(surface, FacingRear, CaptureOptions{Format: FormatPNG})
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	out := decodePNG(t, frame.Data)
	if b := out.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Errorf("Expected 64x48, got %v", b)
	}
}

func TestCapture_Unavailable(t *testing.T) {
	t.Run("フレーム取得エラー", func(t *testing.T) {
		surface := NewSilentMockSurface()
		surface.SetFrameError(errors.New("no context"))
		if _, err := Capture(surface, FacingFront, DefaultCaptureOptions()); !errors.Is(err, ErrCaptureUnavailable) {
			t.Fatalf("Expected ErrCaptureUnavailable, got %v", err)
		}
	})

	t.Run("描画面なし", func(t *testing.T) {
		if _, err := Capture(nil, FacingFront, DefaultCaptureOptions()); !errors.Is(err, ErrCaptureUnavailable) {
			t.Fatalf("Expected ErrCaptureUnavailable, got %v", err)
		}
	})

	t.Run("巨大なサイズ", func(t *testing.T) {
		surface := NewSilentMockSurface()
		surface.SetDimensions(100000, 100000)
		if _, err := Capture(surface, FacingFront, DefaultCaptureOptions()); !errors.Is(err, ErrCaptureUnavailable) {
			t.Fatalf("Expected ErrCaptureUnavailable, got %v", err)
		}
	})

	t.Run("未対応の形式", func(t *testing.T) {
		surface := NewSilentMockSurface()
		if _, err := Capture(surface, FacingFront, CaptureOptions{Format: "gif"}); err == nil {
			t.Fatal("Expected error for unsupported format")
		}
	})
}

func TestApplyEnhancement(t *testing.T) {
	testCases := []struct {
		name string
		in   uint8
		e    Enhancement
		want uint8
	}{
		{"無補正", 100, Enhancement{Brightness: 1, Contrast: 1}, 100},
		{"明るさのみ", 100, Enhancement{Brightness: 1.2, Contrast: 1}, 120},
		{"コントラストのみ", 200, Enhancement{Brightness: 1, Contrast: 2}, 255},
		{"黒は明るさで変わらない", 0, Enhancement{Brightness: 1.5, Contrast: 1}, 0},
		{"低照度の既定値", 100, LowLightEnhancement(), 119},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			img := image.NewRGBA(image.Rect(0, 0, 1, 1))
			img.SetRGBA(0, 0, color.RGBA{R: tc.in, G: tc.in, B: tc.in, A: 255})

			applyEnhancement(img, tc.e)

			got := img.RGBAAt(0, 0)
			if got.R != tc.want || got.G != tc.want || got.B != tc.want {
				t.Errorf("got %v, want %d", got, tc.want)
			}
			if got.A != 255 {
				t.Errorf("alpha changed: %d", got.A)
			}
		})
	}
}

func TestCapturedFrame_DataURL(t *testing.T) {
	frame := &CapturedFrame{Format: FormatJPEG, Data: []byte{0xFF, 0xD8, 0xFF}}
	if url := frame.DataURL(); !strings.HasPrefix(url, "data:image/jpeg;base64,") {
		t.Errorf("unexpected data URL: %s", url)
	}

	frame.Format = FormatPNG
	if frame.MIMEType() != "image/png" {
		t.Errorf("unexpected MIME type: %s", frame.MIMEType())
	}
}
