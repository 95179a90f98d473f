// Package pion は github.com/pion/mediadevices を使ったプラットフォーム実装
package pion

import (
	"context"
	"errors"
	"image"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // カメラドライバの登録
	"github.com/pion/mediadevices/pkg/prop"
	xdraw "golang.org/x/image/draw"

	"facecam/internal/camera"
)

// Platform は camera.Platform のmediadevices実装
type Platform struct {
	enumerate    func() []mediadevices.MediaDeviceInfo
	getUserMedia func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error)
}

var _ camera.Platform = (*Platform)(nil)

// New は新しいPlatformを作成する
func New() *Platform {
	return &Platform{
		enumerate:    mediadevices.EnumerateDevices,
		getUserMedia: mediadevices.GetUserMedia,
	}
}

// EnumerateDevices は映像・音声入力を列挙する
func (p *Platform) EnumerateDevices(_ context.Context) ([]camera.DeviceDescriptor, error) {
	var devices []camera.DeviceDescriptor
	for _, d := range p.enumerate() {
		kind := camera.DeviceAudioInput
		if d.Kind == mediadevices.VideoInput {
			kind = camera.DeviceVideoInput
		}
		devices = append(devices, camera.DeviceDescriptor{
			DeviceID: d.DeviceID,
			Kind:     kind,
			Label:    d.Label,
		})
	}
	return devices, nil
}

// GetUserMedia は候補の制約でストリームを開く
func (p *Platform) GetUserMedia(ctx context.Context, attempt camera.ConstraintAttempt) (camera.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, camera.NewPlatformError(camera.NameAbort, "取得前に中断", err)
	}

	ms, err := p.getUserMedia(mediadevices.MediaStreamConstraints{
		Video: trackConstraints(attempt.Video),
	})
	if err != nil {
		return nil, mapError(err)
	}

	label := "camera"
	if attempt.Video != nil && attempt.Video.DeviceID != "" {
		label = attempt.Video.DeviceID
	}

	s := &stream{id: uuid.New().String()}
	for _, tr := range ms.GetVideoTracks() {
		vt, ok := tr.(*mediadevices.VideoTrack)
		if !ok {
			_ = tr.Close()
			continue
		}
		s.tracks = append(s.tracks, newTrack(vt, label, attempt))
	}
	if len(s.tracks) == 0 {
		return nil, camera.NewPlatformError(camera.NameNotReadable, "映像トラックがありません", nil)
	}
	return s, nil
}

// NewSurface はフレームを保持する描画面を返す
func (p *Platform) NewSurface() camera.Surface {
	return camera.NewFrameSurface()
}

// trackConstraints は候補の制約をmediadevicesの制約に変換する
// Video が nil（真偽値指定）の場合は何も絞り込まない
func trackConstraints(v *camera.VideoConstraints) func(*mediadevices.MediaTrackConstraints) {
	return func(c *mediadevices.MediaTrackConstraints) {
		if v == nil {
			return
		}
		if v.DeviceID != "" {
			c.DeviceID = prop.StringExact(v.DeviceID)
		}
		if w := intConstraint(v.Width); w != nil {
			c.Width = w
		}
		if h := intConstraint(v.Height); h != nil {
			c.Height = h
		}
		if fps := v.FrameRate.Preferred(); fps > 0 {
			c.FrameRate = prop.Float(fps)
		}
	}
}

func intConstraint(r camera.IntRange) prop.IntConstraint {
	switch {
	case r.Exact > 0:
		return prop.IntExact(r.Exact)
	case r.Min > 0 || r.Max > 0:
		return prop.IntRanged{Min: r.Min, Max: r.Max, Ideal: r.Ideal}
	case r.Ideal > 0:
		return prop.Int(r.Ideal)
	}
	return nil
}

// mapError はmediadevicesのエラーをプラットフォームのエラー名に対応させる
func mapError(err error) error {
	msg := strings.ToLower(err.Error())
	name := camera.NameAbort
	switch {
	case strings.Contains(msg, "permission denied"):
		name = camera.NameNotAllowed
	case strings.Contains(msg, "busy"):
		name = camera.NameNotReadable
	case strings.Contains(msg, "failed to find"):
		// 条件に合うドライバがない
		name = camera.NameOverconstrained
	case strings.Contains(msg, "no such"), strings.Contains(msg, "not found"):
		name = camera.NameNotFound
	}
	return camera.NewPlatformError(name, err.Error(), err)
}

type stream struct {
	id     string
	tracks []*track
}

func (s *stream) ID() string { return s.id }

func (s *stream) Tracks() []camera.Track {
	out := make([]camera.Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *stream) VideoTracks() []camera.Track { return s.Tracks() }

type frameSource interface {
	Read() (image.Image, func(), error)
}

// track は mediadevices の映像トラックを包む
type track struct {
	src    mediadevices.Track
	reader frameSource
	label  string

	mu       sync.Mutex
	state    camera.TrackState
	settings camera.TrackSettings
	readMu   sync.Mutex
}

var (
	_ camera.Track       = (*track)(nil)
	_ camera.FrameReader = (*track)(nil)
)

func newTrack(vt *mediadevices.VideoTrack, label string, attempt camera.ConstraintAttempt) *track {
	t := &track{
		src:    vt,
		reader: vt.NewReader(false),
		label:  label,
		state:  camera.TrackLive,
	}
	if attempt.Video != nil {
		t.settings = camera.TrackSettings{
			DeviceID:  attempt.Video.DeviceID,
			Width:     attempt.Video.Width.Preferred(),
			Height:    attempt.Video.Height.Preferred(),
			FrameRate: attempt.Video.FrameRate.Preferred(),
		}
	}
	return t
}

func (t *track) ID() string             { return t.src.ID() }
func (t *track) Kind() camera.TrackKind { return camera.TrackVideo }
func (t *track) Label() string          { return t.label }

func (t *track) ReadyState() camera.TrackState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Stop はトラックを閉じてデバイスを解放する
func (t *track) Stop() error {
	t.mu.Lock()
	if t.state == camera.TrackEnded {
		t.mu.Unlock()
		return nil
	}
	t.state = camera.TrackEnded
	t.mu.Unlock()
	return t.src.Close()
}

// ApplyConstraints はmediadevicesにフォーカス・露出の制御がないため常に未対応
func (t *track) ApplyConstraints(_ context.Context, _ camera.AdvancedConstraints) error {
	return camera.ErrConstraintNotSupported
}

func (t *track) Settings() camera.TrackSettings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings
}

// ReadFrame は次のフレームを読み出し、ドライバのバッファから複製して返す
func (t *track) ReadFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.ReadyState() == camera.TrackEnded {
		return nil, io.EOF
	}

	t.readMu.Lock()
	img, release, err := t.reader.Read()
	t.readMu.Unlock()
	if err != nil {
		if t.ReadyState() == camera.TrackEnded || errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	if release != nil {
		defer release()
	}

	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(out, out.Bounds(), img, b.Min, xdraw.Src)

	t.mu.Lock()
	t.settings.Width, t.settings.Height = b.Dx(), b.Dy()
	t.mu.Unlock()
	return out, nil
}
