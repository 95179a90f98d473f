package v4l2

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"facecam/internal/camera"
)

const (
	formatV4L2 = "v4l2"
	formatX11  = "x11grab"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// source はffmpegの入力
type source struct {
	format string // formatV4L2 または formatX11
	input  string // デバイスパスまたはディスプレイ名
	label  string
}

// ffmpegArgs は連続キャプチャ用のffmpeg引数を組み立てる
func ffmpegArgs(src source, attempt camera.ConstraintAttempt, defaultFPS int) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-f", src.format}

	if attempt.Video != nil {
		w, h := attempt.Video.Width.Preferred(), attempt.Video.Height.Preferred()
		if w > 0 && h > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", w, h))
		}
		if fps := attempt.Video.FrameRate.Preferred(); fps > 0 {
			defaultFPS = fps
		}
	}
	args = append(args, "-framerate", strconv.Itoa(defaultFPS), "-i", src.input)

	if src.format == formatX11 {
		args = append(args, "-vf", "format=yuv420p")
	}
	return append(args, "-f", "image2pipe", "-c:v", "mjpeg", "-q:v", "3", "-")
}

// splitJPEG は bufio.Scanner 用の分割関数で、MJPEGの連続データを
// FFD8 から FFD9 までの1フレームずつに切り出す
func splitJPEG(data []byte, atEOF bool) (int, []byte, error) {
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		// 末尾の 0xFF はマーカーの前半かもしれないので残す
		if len(data) > 1 {
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}

	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		// 開始マーカーより前の不要なデータを捨てて続きを待つ
		return start, nil, nil
	}

	end += start + len(jpegSOI) + len(jpegEOI)
	return end, data[start:end], nil
}

// classifyFFmpegError はffmpegの標準エラー出力をプラットフォームのエラー名に対応させる
func classifyFFmpegError(stderr string, cause error) error {
	msg := lastLine(stderr)
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	if msg == "" {
		msg = "最初のフレームを受け取る前にffmpegが終了しました"
	}

	lower := strings.ToLower(stderr)
	name := camera.NameAbort
	switch {
	case strings.Contains(lower, "device or resource busy"):
		name = camera.NameNotReadable
	case strings.Contains(lower, "permission denied"):
		name = camera.NameNotAllowed
	case strings.Contains(lower, "no such file or directory"), strings.Contains(lower, "no such device"):
		name = camera.NameNotFound
	case strings.Contains(lower, "invalid argument"), strings.Contains(lower, "not supported"):
		name = camera.NameOverconstrained
	case strings.Contains(lower, "cannot open display"):
		name = camera.NameNotFound
	}
	return camera.NewPlatformError(name, msg, cause)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// controlsFor は追加制約をv4l2-ctlのコントロール指定に変換する
func controlsFor(c camera.AdvancedConstraints) []string {
	var controls []string
	if c.FocusMode == "continuous" {
		controls = append(controls, "focus_automatic_continuous=1")
	}
	if c.ExposureMode == "continuous" {
		// UVCの絞り優先モード（露出時間は自動）
		controls = append(controls, "auto_exposure=3")
	}
	return controls
}
