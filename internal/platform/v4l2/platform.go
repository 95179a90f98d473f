// Package v4l2 は ffmpeg と v4l2-ctl を使ってLinuxのカメラを扱うプラットフォーム実装
//
// 映像は ffmpeg の image2pipe でMJPEGとして受け取り、JPEGマーカーで
// フレームに分割してデコードする。X11ディスプレイを指定すると画面キャプチャを
// 仮想カメラとして列挙する。
//
// # 前提要件
//   - v4l-utils: カメラ名の取得とデバイス制御に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//     Red Hat/Fedora: sudo dnf install v4l-utils
//   - ffmpeg: 画像キャプチャとストリーミングに使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//     Red Hat/Fedora: sudo dnf install ffmpeg
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package v4l2

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"facecam/internal/camera"
)

// DefaultFrameRate は制約で指定されない場合のフレームレート
const DefaultFrameRate = 15

// Config はV4L2プラットフォームの設定
type Config struct {
	Devices     []string // 空なら Pattern で検索する
	Pattern     string
	Display     string // X11画面キャプチャ（例: ":0.0"）。空なら無効
	FFmpegPath  string
	V4L2CtlPath string
	FrameRate   int
}

// Platform は camera.Platform のV4L2実装
type Platform struct {
	devices   []string
	pattern   string
	display   string
	ffmpeg    string
	v4l2ctl   string
	frameRate int

	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

var _ camera.Platform = (*Platform)(nil)

// New は新しいPlatformを作成する
func New(cfg Config) *Platform {
	p := &Platform{
		devices:   cfg.Devices,
		pattern:   cfg.Pattern,
		display:   cfg.Display,
		ffmpeg:    cfg.FFmpegPath,
		v4l2ctl:   cfg.V4L2CtlPath,
		frameRate: cfg.FrameRate,
		run:       execRun,
	}
	if p.pattern == "" {
		p.pattern = DefaultDevicePattern
	}
	if p.ffmpeg == "" {
		p.ffmpeg = "ffmpeg"
	}
	if p.v4l2ctl == "" {
		p.v4l2ctl = "v4l2-ctl"
	}
	if p.frameRate <= 0 {
		p.frameRate = DefaultFrameRate
	}
	return p
}

// GetUserMedia は候補の制約でffmpegを起動し、最初のフレームが届くまで待つ
func (p *Platform) GetUserMedia(ctx context.Context, attempt camera.ConstraintAttempt) (camera.Stream, error) {
	source, err := p.resolveSource(ctx, attempt)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(p.ffmpeg, ffmpegArgs(source, attempt, p.frameRate)...)
	t, err := startTrack(cmd, source, p.controlRunner(source))
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, camera.NewPlatformError(camera.NameNotSupported, "ffmpegが見つかりません", err)
		}
		return nil, camera.NewPlatformError(camera.NameTrackStart, "ffmpegの起動に失敗", err)
	}

	select {
	case <-t.started:
		return &stream{id: t.id, track: t}, nil
	case <-t.done:
		return nil, classifyFFmpegError(t.stderrText(), t.waitErr)
	case <-ctx.Done():
		_ = t.Stop()
		return nil, camera.NewPlatformError(camera.NameAbort, "最初のフレームを待つ間に中断", ctx.Err())
	}
}

// NewSurface はフレームを保持する描画面を返す
func (p *Platform) NewSurface() camera.Surface {
	return camera.NewFrameSurface()
}

// resolveSource は候補の制約から入力ソースを決める
// デバイスが固定されていなければ列挙順で最初のものを使う
func (p *Platform) resolveSource(ctx context.Context, attempt camera.ConstraintAttempt) (source, error) {
	if attempt.Video != nil && attempt.Video.DeviceID != "" {
		return p.sourceFor(attempt.Video.DeviceID)
	}

	devices, err := p.EnumerateDevices(ctx)
	if err != nil {
		return source{}, camera.NewPlatformError(camera.NameAbort, "デバイスの列挙に失敗", err)
	}
	if len(devices) == 0 {
		return source{}, camera.NewPlatformError(camera.NameNotFound, "カメラが見つかりません", nil)
	}
	return p.sourceFor(devices[0].DeviceID)
}

func (p *Platform) sourceFor(deviceID string) (source, error) {
	if display, ok := strings.CutPrefix(deviceID, x11Prefix); ok {
		return source{format: formatX11, input: display, label: fmt.Sprintf("画面キャプチャ (%s)", display)}, nil
	}

	if _, err := os.Stat(deviceID); err != nil {
		return source{}, camera.NewPlatformError(camera.NameNotFound, "デバイスが存在しません: "+deviceID, err)
	}
	return source{format: formatV4L2, input: deviceID, label: deviceID}, nil
}

// controlRunner はv4l2-ctlでカメラのコントロールを設定する関数を返す
func (p *Platform) controlRunner(src source) func(ctx context.Context, controls []string) error {
	if src.format != formatV4L2 {
		return nil
	}
	return func(ctx context.Context, controls []string) error {
		ctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		_, err := p.run(ctx, p.v4l2ctl, "--device", src.input, "--set-ctrl", strings.Join(controls, ","))
		return err
	}
}
