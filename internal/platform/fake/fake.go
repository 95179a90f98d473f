// Package fake は合成映像を返すプラットフォーム実装
//
// カメラのない環境でのデモや結合テストに使う。最初の N 回の取得を
// 指定したエラーで失敗させることができる。
package fake

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"facecam/internal/camera"
)

const (
	DefaultWidth     = 1280
	DefaultHeight    = 720
	DefaultFrameRate = 15
)

// Config は合成カメラの設定
type Config struct {
	FrameRate int

	// FailFirst 回目までの取得を FailName のエラーで失敗させる
	FailFirst int
	FailName  string
}

// Platform は camera.Platform の合成映像実装
type Platform struct {
	cfg Config

	mu    sync.Mutex
	calls int
}

var _ camera.Platform = (*Platform)(nil)

// New は新しいPlatformを作成する
func New(cfg Config) *Platform {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	if cfg.FailName == "" {
		cfg.FailName = camera.NameNotReadable
	}
	return &Platform{cfg: cfg}
}

// EnumerateDevices は前面・背面の2台を返す
func (p *Platform) EnumerateDevices(_ context.Context) ([]camera.DeviceDescriptor, error) {
	return []camera.DeviceDescriptor{
		{DeviceID: "fake-front", Kind: camera.DeviceVideoInput, Label: "合成カメラ (前面)", FacingMode: camera.FacingFront},
		{DeviceID: "fake-rear", Kind: camera.DeviceVideoInput, Label: "合成カメラ (背面)", FacingMode: camera.FacingRear},
	}, nil
}

// Calls は GetUserMedia の呼び出し回数を返す
func (p *Platform) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// GetUserMedia は候補の解像度で合成映像のストリームを作る
func (p *Platform) GetUserMedia(ctx context.Context, attempt camera.ConstraintAttempt) (camera.Stream, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, camera.NewPlatformError(camera.NameAbort, "取得前に中断", err)
	}
	if call <= p.cfg.FailFirst {
		return nil, camera.NewPlatformError(p.cfg.FailName, fmt.Sprintf("合成カメラの失敗 (%d/%d)", call, p.cfg.FailFirst), nil)
	}

	settings := camera.TrackSettings{
		DeviceID:   "fake-front",
		Width:      DefaultWidth,
		Height:     DefaultHeight,
		FrameRate:  p.cfg.FrameRate,
		FacingMode: camera.FacingFront,
	}
	label := "合成カメラ (前面)"
	if v := attempt.Video; v != nil {
		if w, h := v.Width.Preferred(), v.Height.Preferred(); w > 0 && h > 0 {
			settings.Width, settings.Height = w, h
		}
		if fps := v.FrameRate.Preferred(); fps > 0 {
			settings.FrameRate = fps
		}
		if v.DeviceID == "fake-rear" || (v.DeviceID == "" && v.FacingMode == camera.FacingRear) {
			settings.DeviceID, settings.FacingMode = "fake-rear", camera.FacingRear
			label = "合成カメラ (背面)"
		}
	}

	t := &track{
		id:       uuid.New().String(),
		label:    label,
		settings: settings,
		interval: time.Second / time.Duration(settings.FrameRate),
		done:     make(chan struct{}),
		state:    camera.TrackLive,
	}
	return &stream{id: uuid.New().String(), track: t}, nil
}

// NewSurface はフレームを保持する描画面を返す
func (p *Platform) NewSurface() camera.Surface {
	return camera.NewFrameSurface()
}

type stream struct {
	id    string
	track *track
}

func (s *stream) ID() string                  { return s.id }
func (s *stream) Tracks() []camera.Track      { return []camera.Track{s.track} }
func (s *stream) VideoTracks() []camera.Track { return []camera.Track{s.track} }

type track struct {
	id       string
	label    string
	settings camera.TrackSettings
	interval time.Duration

	mu       sync.Mutex
	state    camera.TrackState
	frame    int
	done     chan struct{}
	advanced camera.AdvancedConstraints
}

var (
	_ camera.Track       = (*track)(nil)
	_ camera.FrameReader = (*track)(nil)
)

func (t *track) ID() string             { return t.id }
func (t *track) Kind() camera.TrackKind { return camera.TrackVideo }
func (t *track) Label() string          { return t.label }

func (t *track) ReadyState() camera.TrackState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *track) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == camera.TrackEnded {
		return nil
	}
	t.state = camera.TrackEnded
	close(t.done)
	return nil
}

func (t *track) ApplyConstraints(_ context.Context, c camera.AdvancedConstraints) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advanced = c
	return nil
}

func (t *track) Settings() camera.TrackSettings { return t.settings }

// ReadFrame はフレーム間隔だけ待ってから次の合成フレームを返す
func (t *track) ReadFrame(ctx context.Context) (image.Image, error) {
	t.mu.Lock()
	n := t.frame
	t.frame++
	t.mu.Unlock()

	if n > 0 {
		timer := time.NewTimer(t.interval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.done:
			return nil, io.EOF
		case <-timer.C:
		}
	}

	select {
	case <-t.done:
		return nil, io.EOF
	default:
	}
	return Render(t.settings.Width, t.settings.Height, n, t.settings.DeviceID), nil
}

// Render は n 番目の合成フレームを描く
// 左半分と右半分で色が異なり、左右反転を目視で確認できる
func Render(width, height, n int, caption string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.RGBA{R: 40, G: 90, B: uint8(80 + 120*y/height), A: 255}
			if x < width/2 {
				c = color.RGBA{R: uint8(120 + 100*y/height), G: 60, B: 50, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}

	// 動いている縦線
	bar := (n * 8) % width
	for y := 0; y < height; y++ {
		for x := bar; x < bar+4 && x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(10, 20),
	}
	d.DrawString(fmt.Sprintf("%s #%d", caption, n))
	return img
}
