package camera

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// FacingMode はカメラの向きを表す
type FacingMode string

const (
	FacingFront FacingMode = "front" // インカメラ（ユーザー側）
	FacingRear  FacingMode = "rear"  // アウトカメラ（環境側）
)

// Opposite は反対側の向きを返す
func (f FacingMode) Opposite() FacingMode {
	if f == FacingRear {
		return FacingFront
	}
	return FacingRear
}

// ParseFacingMode は文字列から向きを解析する
// ブラウザの user / environment 表記も受け付ける
func ParseFacingMode(s string) (FacingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "front", "user":
		return FacingFront, nil
	case "rear", "back", "environment":
		return FacingRear, nil
	default:
		return "", fmt.Errorf("無効な向き: %q", s)
	}
}

// Status はキャプチャセッションの状態を表す
type Status string

const (
	StatusIdle      Status = "idle"      // 未開始
	StatusAcquiring Status = "acquiring" // ストリーム取得中
	StatusReady     Status = "ready"     // 映像表示可能
	StatusError     Status = "error"     // 取得に失敗
	StatusStopped   Status = "stopped"   // 停止済み
)

// DeviceKind はデバイスの種別
type DeviceKind string

const (
	DeviceVideoInput  DeviceKind = "videoinput"
	DeviceAudioInput  DeviceKind = "audioinput"
	DeviceAudioOutput DeviceKind = "audiooutput"
)

// DeviceDescriptor はプラットフォームが列挙したデバイスの情報
type DeviceDescriptor struct {
	DeviceID   string     `json:"deviceId"`
	Kind       DeviceKind `json:"kind"`
	Label      string     `json:"label"`
	FacingMode FacingMode `json:"facingMode,omitempty"` // 不明な場合は空
}

// IntRange は解像度などの整数制約
// 0 のフィールドは指定なしとして扱う
type IntRange struct {
	Min   int `json:"min,omitempty"`
	Ideal int `json:"ideal,omitempty"`
	Max   int `json:"max,omitempty"`
	Exact int `json:"exact,omitempty"`
}

// IsZero は制約が何も指定されていないか判定する
func (r IntRange) IsZero() bool {
	return r == IntRange{}
}

// Preferred は実装側が選ぶべき値を返す（exact > ideal > max の順）
func (r IntRange) Preferred() int {
	switch {
	case r.Exact > 0:
		return r.Exact
	case r.Ideal > 0:
		if r.Max > 0 && r.Ideal > r.Max {
			return r.Max
		}
		return r.Ideal
	default:
		return r.Max
	}
}

// VideoConstraints は映像トラックに対する制約
type VideoConstraints struct {
	DeviceID   string     `json:"deviceId,omitempty"` // exact 指定
	FacingMode FacingMode `json:"facingMode,omitempty"`
	Width      IntRange   `json:"width,omitempty"`
	Height     IntRange   `json:"height,omitempty"`
	FrameRate  IntRange   `json:"frameRate,omitempty"`
}

// IsZero は制約なし（{}）かどうかを判定する
func (c VideoConstraints) IsZero() bool {
	return c == VideoConstraints{}
}

// ConstraintAttempt は取得時に試す制約候補の1つ
// Video が nil の場合は video: true（制約なしの真偽値指定）を意味する
type ConstraintAttempt struct {
	Label string
	Video *VideoConstraints
}

// String はログ出力用の表現を返す
func (a ConstraintAttempt) String() string {
	if a.Video == nil {
		return a.Label + "(true)"
	}
	v := a.Video
	return fmt.Sprintf("%s(device=%q facing=%q %dx%d)", a.Label, v.DeviceID, v.FacingMode, v.Width.Preferred(), v.Height.Preferred())
}

// AdvancedConstraints はベストエフォートで適用するトラック制約
type AdvancedConstraints struct {
	FocusMode    string // "continuous" など
	ExposureMode string
}

// DefaultAdvancedConstraints はオートフォーカスと連続露出を要求する
func DefaultAdvancedConstraints() AdvancedConstraints {
	return AdvancedConstraints{FocusMode: "continuous", ExposureMode: "continuous"}
}

// TrackSettings はトラックに実際に適用された設定
type TrackSettings struct {
	DeviceID   string
	Width      int
	Height     int
	FrameRate  int
	FacingMode FacingMode
}

// CapturedFrame はキャプチャ結果の静止画
// 生成後は呼び出し側が所有し、セッションは参照を保持しない
type CapturedFrame struct {
	ID         string     `json:"id"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	Format     string     `json:"format"` // "jpeg" または "png"
	Data       []byte     `json:"-"`
	FacingMode FacingMode `json:"facingMode"`
	Mirrored   bool       `json:"mirrored"`
	CapturedAt time.Time  `json:"capturedAt"`
}

// MIMEType はエンコード形式のMIMEタイプを返す
func (f *CapturedFrame) MIMEType() string {
	if f.Format == FormatPNG {
		return "image/png"
	}
	return "image/jpeg"
}

// DataURL は認識SDKへ渡すデータURLを返す
func (f *CapturedFrame) DataURL() string {
	return "data:" + f.MIMEType() + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}

// State はUIから観測されるセッション状態
type State struct {
	SessionID      string     `json:"sessionId"`
	Status         Status     `json:"status"`
	FacingMode     FacingMode `json:"facingMode"`
	ErrorKind      ErrorKind  `json:"errorKind,omitempty"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	RetryCount     int        `json:"retryCount"`
	RetryExhausted bool       `json:"retryExhausted"`
	IsReady        bool       `json:"isReady"`
	DeviceLabel    string     `json:"deviceLabel,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}
