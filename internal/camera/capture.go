package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

const (
	// FormatJPEG はJPEGエンコード
	FormatJPEG = "jpeg"
	// FormatPNG はPNGエンコード（可逆）
	FormatPNG = "png"

	// FallbackWidth は描画面がサイズを報告しない場合の幅
	FallbackWidth = 640
	// FallbackHeight は描画面がサイズを報告しない場合の高さ
	FallbackHeight = 480

	// DefaultQuality はJPEG品質（0.92 相当）
	DefaultQuality = 92

	// MaxCanvasPixels はキャンバスとして確保できる最大画素数
	MaxCanvasPixels = 8192 * 8192
)

// Enhancement は明るさ・コントラスト補正
// 1.0 で無補正（CSS の brightness() / contrast() と同じ意味）
type Enhancement struct {
	Brightness float64 `yaml:"brightness" json:"brightness"`
	Contrast   float64 `yaml:"contrast" json:"contrast"`
}

// LowLightEnhancement は暗所向けの既定補正
func LowLightEnhancement() Enhancement {
	return Enhancement{Brightness: 1.2, Contrast: 1.1}
}

// CaptureOptions はキャプチャ時のオプション
type CaptureOptions struct {
	Format  string       // FormatJPEG（既定）または FormatPNG
	Quality int          // JPEG品質 1-100
	Enhance *Enhancement // nil なら補正なし
}

// DefaultCaptureOptions は既定のキャプチャオプション
func DefaultCaptureOptions() CaptureOptions {
	return CaptureOptions{Format: FormatJPEG, Quality: DefaultQuality}
}

// Capture は描画面の現在のフレームを静止画にエンコードする
//
// サイズが報告されていない場合は 640x480 にフォールバックする。
// インカメラの場合は表示と一致するよう左右反転する。
func Capture(surface Surface, facing FacingMode, opts CaptureOptions) (*CapturedFrame, error) {
	canvas, err := RenderFrame(surface, facing, opts.Enhance)
	if err != nil {
		return nil, err
	}

	format := opts.Format
	if format == "" {
		format = FormatJPEG
	}
	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	var buf bytes.Buffer
	switch format {
	case FormatJPEG:
		err = jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: quality})
	case FormatPNG:
		err = png.Encode(&buf, canvas)
	default:
		return nil, fmt.Errorf("サポートされていない形式: %s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: エンコードに失敗: %v", ErrCaptureUnavailable, err)
	}

	b := canvas.Bounds()
	return &CapturedFrame{
		ID:         uuid.New().String(),
		Width:      b.Dx(),
		Height:     b.Dy(),
		Format:     format,
		Data:       buf.Bytes(),
		FacingMode: facing,
		Mirrored:   facing == FacingFront,
		CapturedAt: time.Now(),
	}, nil
}

// RenderFrame はエンコード前のキャンバスを作成する
func RenderFrame(surface Surface, facing FacingMode, enhance *Enhancement) (*image.RGBA, error) {
	if surface == nil {
		return nil, ErrCaptureUnavailable
	}

	w, h := surface.Dimensions()
	if w <= 0 || h <= 0 {
		w, h = FallbackWidth, FallbackHeight
	}
	if w <= 0 || h <= 0 || w*h > MaxCanvasPixels {
		return nil, fmt.Errorf("%w: 無効なサイズ %dx%d", ErrCaptureUnavailable, w, h)
	}

	src, err := surface.Frame()
	if err != nil {
		return nil, fmt.Errorf("%w: フレームを取得できません: %v", ErrCaptureUnavailable, err)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), image.Black, image.Point{}, draw.Src)
	if src != nil {
		drawFrame(canvas, src, facing == FacingFront)
	}

	if enhance != nil {
		applyEnhancement(canvas, *enhance)
	}
	return canvas, nil
}

// drawFrame はフレームをキャンバス全体に描画する
// mirror が true の場合は水平反転の変換を掛けてから描画する
func drawFrame(canvas *image.RGBA, src image.Image, mirror bool) {
	sr := src.Bounds()
	dr := canvas.Bounds()
	if sr.Empty() {
		return
	}

	sx := float64(dr.Dx()) / float64(sr.Dx())
	sy := float64(dr.Dy()) / float64(sr.Dy())

	// src 座標 → dst 座標のアフィン変換
	s2d := f64.Aff3{
		sx, 0, float64(dr.Min.X) - sx*float64(sr.Min.X),
		0, sy, float64(dr.Min.Y) - sy*float64(sr.Min.Y),
	}
	if mirror {
		s2d = f64.Aff3{
			-sx, 0, float64(dr.Max.X) + sx*float64(sr.Min.X),
			0, sy, float64(dr.Min.Y) - sy*float64(sr.Min.Y),
		}
	}

	var interp draw.Interpolator = draw.ApproxBiLinear
	if sr.Dx() == dr.Dx() && sr.Dy() == dr.Dy() {
		// 等倍なら画素をそのまま写す
		interp = draw.NearestNeighbor
	}
	interp.Transform(canvas, s2d, src, sr, draw.Src, nil)
}

// applyEnhancement は CSS の brightness() → contrast() と同じ順で補正する
func applyEnhancement(img *image.RGBA, e Enhancement) {
	brightness := e.Brightness
	if brightness <= 0 {
		brightness = 1
	}
	contrast := e.Contrast
	if contrast <= 0 {
		contrast = 1
	}
	if brightness == 1 && contrast == 1 {
		return
	}

	var lut [256]uint8
	for i := range lut {
		v := float64(i) * brightness
		v = (v-127.5)*contrast + 127.5
		lut[i] = clamp8(v)
	}

	pix := img.Pix
	for i := 0; i+3 < len(pix); i += 4 {
		pix[i] = lut[pix[i]]
		pix[i+1] = lut[pix[i+1]]
		pix[i+2] = lut[pix[i+2]]
	}
}

func clamp8(v float64) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
