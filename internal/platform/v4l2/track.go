package v4l2

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"sync"

	"github.com/google/uuid"

	"facecam/internal/camera"
	"facecam/internal/logging"
)

// maxFrameBytes は1フレームとして受け付ける最大サイズ
const maxFrameBytes = 8 << 20

type stream struct {
	id    string
	track *track
}

func (s *stream) ID() string { return s.id }

func (s *stream) Tracks() []camera.Track { return []camera.Track{s.track} }

func (s *stream) VideoTracks() []camera.Track { return []camera.Track{s.track} }

// track はffmpegプロセス1つに対応する映像トラック
type track struct {
	id     string
	label  string
	cmd    *exec.Cmd
	stderr bytes.Buffer

	setControls func(ctx context.Context, controls []string) error

	frames  chan image.Image
	started chan struct{}
	done    chan struct{}
	waitErr error // done がクローズされた後にのみ読む

	mu        sync.Mutex
	state     camera.TrackState
	settings  camera.TrackSettings
	startOnce sync.Once
	stopOnce  sync.Once
}

var (
	_ camera.Track       = (*track)(nil)
	_ camera.FrameReader = (*track)(nil)
)

// startTrack はffmpegを起動してフレームの読み出しを始める
func startTrack(cmd *exec.Cmd, src source, setControls func(context.Context, []string) error) (*track, error) {
	t := &track{
		id:          uuid.New().String(),
		label:       src.label,
		cmd:         cmd,
		setControls: setControls,
		frames:      make(chan image.Image, 1),
		started:     make(chan struct{}),
		done:        make(chan struct{}),
		state:       camera.TrackLive,
		settings:    camera.TrackSettings{DeviceID: src.input},
	}
	cmd.Stderr = &t.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	go t.readLoop(stdout)
	return t, nil
}

// readLoop はMJPEGをフレームに分割してデコードする
func (t *track) readLoop(stdout io.Reader) {
	defer close(t.done)
	log := logging.For("v4l2").WithField("track", t.id)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 1<<20), maxFrameBytes)
	scanner.Split(splitJPEG)

	for scanner.Scan() {
		img, err := jpeg.Decode(bytes.NewReader(scanner.Bytes()))
		if err != nil {
			log.WithError(err).Debug("JPEGフレームのデコードに失敗")
			continue
		}
		t.publish(img)
	}
	if err := scanner.Err(); err != nil {
		log.WithError(err).Warn("フレーム読み取りエラー")
		t.kill()
		_, _ = io.Copy(io.Discard, stdout)
	}

	t.waitErr = t.cmd.Wait()

	t.mu.Lock()
	t.state = camera.TrackEnded
	t.mu.Unlock()
}

// publish は最新フレームだけを残す
func (t *track) publish(img image.Image) {
	t.startOnce.Do(func() {
		b := img.Bounds()
		t.mu.Lock()
		t.settings.Width, t.settings.Height = b.Dx(), b.Dy()
		t.mu.Unlock()
		close(t.started)
	})

	select {
	case t.frames <- img:
		return
	default:
	}
	select {
	case <-t.frames:
	default:
	}
	select {
	case t.frames <- img:
	default:
	}
}

func (t *track) ID() string             { return t.id }
func (t *track) Kind() camera.TrackKind { return camera.TrackVideo }
func (t *track) Label() string          { return t.label }

func (t *track) ReadyState() camera.TrackState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Stop はffmpegを終了させる
func (t *track) Stop() error {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.state = camera.TrackEnded
		t.mu.Unlock()
		t.kill()
	})
	return nil
}

func (t *track) kill() {
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
}

// ApplyConstraints はv4l2-ctlでオートフォーカスと露出を設定する
func (t *track) ApplyConstraints(ctx context.Context, c camera.AdvancedConstraints) error {
	controls := controlsFor(c)
	if t.setControls == nil || len(controls) == 0 {
		return camera.ErrConstraintNotSupported
	}
	if err := t.setControls(ctx, controls); err != nil {
		return fmt.Errorf("%w: %v", camera.ErrConstraintNotSupported, err)
	}
	return nil
}

func (t *track) Settings() camera.TrackSettings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings
}

// ReadFrame は次のフレームを返す。ffmpegが終了していれば io.EOF
func (t *track) ReadFrame(ctx context.Context) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case img := <-t.frames:
		return img, nil
	case <-t.done:
		return nil, io.EOF
	}
}

// stderrText はffmpegの標準エラー出力を返す（done の後にのみ呼ぶ）
func (t *track) stderrText() string {
	return t.stderr.String()
}
