package recognition

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // デコーダの登録
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// MinFaceImageSize は顔画像として受け付ける最小の幅・高さ（この値より大きい必要がある）
const MinFaceImageSize = 100

// ErrImageTooSmall は画像が小さすぎることを示す
var ErrImageTooSmall = errors.New("recognition: 画像が小さすぎます")

// CheckLocalFace は画像がデコードでき、100x100 より大きいかを確認する
// 顔そのものは検出しない。認識サービスに送る前の簡易チェック
func CheckLocalFace(data []byte) error {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("画像のデコードに失敗: %w", err)
	}
	if cfg.Width <= MinFaceImageSize || cfg.Height <= MinFaceImageSize {
		return fmt.Errorf("%w: %s %dx%d", ErrImageTooSmall, format, cfg.Width, cfg.Height)
	}
	return nil
}
