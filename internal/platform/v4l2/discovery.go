package v4l2

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"facecam/internal/camera"
	"facecam/internal/logging"
)

// DefaultDevicePattern はV4L2デバイスの検索パターン
const DefaultDevicePattern = "/dev/video*"

// x11Prefix は画面キャプチャ用の仮想デバイスIDの接頭辞
const x11Prefix = "x11:"

var deviceNumberRe = regexp.MustCompile(`video(\d+)$`)

// EnumerateDevices はシステム内のカメラと画面キャプチャを列挙する
func (p *Platform) EnumerateDevices(ctx context.Context) ([]camera.DeviceDescriptor, error) {
	paths := p.devices
	if len(paths) == 0 {
		matches, err := filepath.Glob(p.pattern)
		if err != nil {
			return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
		}
		sort.Slice(matches, func(i, j int) bool {
			return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
		})
		paths = matches
	}

	var devices []camera.DeviceDescriptor
	seen := make(map[string]bool)
	for _, path := range paths {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if !isDeviceAvailable(path) {
			continue
		}

		name := p.deviceName(ctx, path)
		if !p.isMainCamera(ctx, path) {
			continue
		}
		// 同じ物理カメラの複数チャンネルは番号の小さい方だけを使う
		if seen[name] {
			continue
		}
		seen[name] = true

		devices = append(devices, camera.DeviceDescriptor{
			DeviceID: path,
			Kind:     camera.DeviceVideoInput,
			Label:    name,
		})
	}

	if p.display != "" {
		devices = append(devices, camera.DeviceDescriptor{
			DeviceID: x11Prefix + p.display,
			Kind:     camera.DeviceVideoInput,
			Label:    fmt.Sprintf("画面キャプチャ (%s)", p.display),
		})
	}

	return devices, nil
}

// isDeviceAvailable はデバイスファイルが読み取り可能かチェックする
func isDeviceAvailable(device string) bool {
	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}

// deviceName はv4l2-ctlのカード名、取れなければ番号から表示名を作る
func (p *Platform) deviceName(ctx context.Context, device string) string {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	output, err := p.run(ctx, p.v4l2ctl, "--device", device, "--info")
	if err == nil {
		if name := parseCardType(string(output)); name != "" {
			return name
		}
	}
	return fmt.Sprintf("カメラ %d", extractDeviceNumber(device))
}

// isMainCamera はカラー形式に対応したデバイスか判定する
// v4l2-ctl が入っていない環境では判定できないので全て対象にする
func (p *Platform) isMainCamera(ctx context.Context, device string) bool {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	output, err := p.run(ctx, p.v4l2ctl, "--device", device, "--list-formats-ext")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return true
		}
		logging.For("v4l2").WithError(err).WithField("device", device).Debug("フォーマット一覧の取得に失敗")
		return false
	}
	return hasColorFormat(string(output))
}

// hasColorFormat はフォーマット一覧にカラー形式が含まれるか判定する
// グレースケール(GREY)のみのIRカメラなどは除外する
func hasColorFormat(formats string) bool {
	return strings.Contains(formats, "YUYV") || strings.Contains(formats, "MJPG")
}

// parseCardType は v4l2-ctl --info の出力から "Card type" を取り出す
func parseCardType(info string) string {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Card type") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) == 2 {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	matches := deviceNumberRe.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}
	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}
	return num
}

// execRun は外部コマンドを実行して標準出力を返す
func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

const commandTimeout = 5 * time.Second
