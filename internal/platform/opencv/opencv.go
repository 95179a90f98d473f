//go:build gocv

// Package opencv は gocv (OpenCV) の VideoCapture を使ったプラットフォーム実装
//
// ビルドには OpenCV が必要なため gocv タグを付けた場合のみ有効になる。
package opencv

import (
	"context"
	"fmt"
	"image"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"facecam/internal/camera"
)

// DefaultMaxDevices は列挙時に試すデバイス番号の上限
const DefaultMaxDevices = 4

const idPrefix = "opencv:"

// Platform は camera.Platform のOpenCV実装
type Platform struct {
	maxDevices int
}

var _ camera.Platform = (*Platform)(nil)

// New は新しいPlatformを作成する
func New(maxDevices int) *Platform {
	if maxDevices <= 0 {
		maxDevices = DefaultMaxDevices
	}
	return &Platform{maxDevices: maxDevices}
}

// EnumerateDevices は開けるデバイス番号を列挙する
func (p *Platform) EnumerateDevices(ctx context.Context) ([]camera.DeviceDescriptor, error) {
	var devices []camera.DeviceDescriptor
	for i := 0; i < p.maxDevices; i++ {
		if err := ctx.Err(); err != nil {
			return devices, err
		}
		cam, err := gocv.VideoCaptureDevice(i)
		if err != nil {
			continue
		}
		opened := cam.IsOpened()
		_ = cam.Close()
		if !opened {
			continue
		}
		devices = append(devices, camera.DeviceDescriptor{
			DeviceID: idPrefix + strconv.Itoa(i),
			Kind:     camera.DeviceVideoInput,
			Label:    fmt.Sprintf("OpenCV カメラ %d", i),
		})
	}
	return devices, nil
}

// GetUserMedia はデバイスを開いて解像度を設定し、1フレーム読めることを確認する
func (p *Platform) GetUserMedia(ctx context.Context, attempt camera.ConstraintAttempt) (camera.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, camera.NewPlatformError(camera.NameAbort, "取得前に中断", err)
	}

	index := 0
	if attempt.Video != nil && attempt.Video.DeviceID != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(attempt.Video.DeviceID, idPrefix))
		if err != nil {
			return nil, camera.NewPlatformError(camera.NameNotFound, "不明なデバイス: "+attempt.Video.DeviceID, err)
		}
		index = n
	}

	cam, err := gocv.VideoCaptureDevice(index)
	if err != nil {
		return nil, camera.NewPlatformError(camera.NameNotReadable, "デバイスを開けません", err)
	}
	if !cam.IsOpened() {
		_ = cam.Close()
		return nil, camera.NewPlatformError(camera.NameNotFound, fmt.Sprintf("デバイス %d が開けません", index), nil)
	}

	if attempt.Video != nil {
		if w := attempt.Video.Width.Preferred(); w > 0 {
			cam.Set(gocv.VideoCaptureFrameWidth, float64(w))
		}
		if h := attempt.Video.Height.Preferred(); h > 0 {
			cam.Set(gocv.VideoCaptureFrameHeight, float64(h))
		}
		if fps := attempt.Video.FrameRate.Preferred(); fps > 0 {
			cam.Set(gocv.VideoCaptureFPS, float64(fps))
		}
	}

	t := &track{
		id:    uuid.New().String(),
		label: fmt.Sprintf("OpenCV カメラ %d", index),
		cam:   cam,
		mat:   gocv.NewMat(),
		state: camera.TrackLive,
	}
	if _, err := t.read(); err != nil {
		_ = t.Stop()
		return nil, camera.NewPlatformError(camera.NameNotReadable, "フレームを読み出せません", err)
	}
	t.settings = camera.TrackSettings{
		DeviceID:  idPrefix + strconv.Itoa(index),
		Width:     int(cam.Get(gocv.VideoCaptureFrameWidth)),
		Height:    int(cam.Get(gocv.VideoCaptureFrameHeight)),
		FrameRate: int(cam.Get(gocv.VideoCaptureFPS)),
	}
	return &stream{track: t}, nil
}

// NewSurface はフレームを保持する描画面を返す
func (p *Platform) NewSurface() camera.Surface {
	return camera.NewFrameSurface()
}

type stream struct {
	track *track
}

func (s *stream) ID() string                  { return s.track.id }
func (s *stream) Tracks() []camera.Track      { return []camera.Track{s.track} }
func (s *stream) VideoTracks() []camera.Track { return []camera.Track{s.track} }

// track は VideoCapture と再利用する Mat を持つ
type track struct {
	id       string
	label    string
	settings camera.TrackSettings

	mu    sync.Mutex
	cam   *gocv.VideoCapture
	mat   gocv.Mat
	state camera.TrackState
}

func (t *track) ID() string             { return t.id }
func (t *track) Kind() camera.TrackKind { return camera.TrackVideo }
func (t *track) Label() string          { return t.label }

func (t *track) ReadyState() camera.TrackState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Stop はデバイスとMatを解放する
func (t *track) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == camera.TrackEnded {
		return nil
	}
	t.state = camera.TrackEnded
	_ = t.mat.Close()
	return t.cam.Close()
}

func (t *track) ApplyConstraints(_ context.Context, c camera.AdvancedConstraints) error {
	if c.FocusMode != "continuous" {
		return camera.ErrConstraintNotSupported
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == camera.TrackEnded {
		return camera.ErrConstraintNotSupported
	}
	t.cam.Set(gocv.VideoCaptureAutoFocus, 1)
	return nil
}

func (t *track) Settings() camera.TrackSettings { return t.settings }

// ReadFrame は1フレームを読み出して Go の画像に変換する
func (t *track) ReadFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.read()
}

func (t *track) read() (image.Image, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == camera.TrackEnded {
		return nil, io.EOF
	}
	if !t.cam.Read(&t.mat) {
		return nil, fmt.Errorf("フレームを読み出せません")
	}
	if t.mat.Empty() {
		return nil, fmt.Errorf("フレームが空です")
	}
	return t.mat.ToImage()
}
