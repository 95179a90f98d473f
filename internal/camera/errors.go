package camera

import (
	"errors"
	"fmt"
)

// ErrorKind はユーザー向けに分類したカメラエラーの種別
type ErrorKind string

const (
	KindPermissionDenied   ErrorKind = "permission-denied"
	KindDeviceNotFound     ErrorKind = "device-not-found"
	KindDeviceBusy         ErrorKind = "device-busy"
	KindCaptureUnavailable ErrorKind = "capture-unavailable"
	KindUnknown            ErrorKind = "unknown"
)

// プラットフォームが返すエラー名
// ブラウザの DOMException 名をそのまま採用している
const (
	NameNotAllowed       = "NotAllowedError"
	NamePermissionDenied = "PermissionDeniedError"
	NameSecurity         = "SecurityError"
	NameNotFound         = "NotFoundError"
	NameDevicesNotFound  = "DevicesNotFoundError"
	NameNotReadable      = "NotReadableError"
	NameTrackStart       = "TrackStartError"
	NameOverconstrained  = "OverconstrainedError"
	NameAbort            = "AbortError"
	NameNotSupported     = "NotSupportedError"
)

// PlatformError はプラットフォーム層のエラー
type PlatformError struct {
	Name    string // NotAllowedError など
	Message string
	Err     error // 元のエラー（任意）
}

func (e *PlatformError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

func (e *PlatformError) Unwrap() error {
	return e.Err
}

// NewPlatformError は PlatformError を作成する
func NewPlatformError(name, message string, cause error) *PlatformError {
	return &PlatformError{Name: name, Message: message, Err: cause}
}

// CameraError は分類済みのエラー
type CameraError struct {
	Kind    ErrorKind
	Message string // ユーザー向けメッセージ
	Cause   error
}

func (e *CameraError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CameraError) Unwrap() error {
	return e.Cause
}

// KindOf はエラーから ErrorKind を取り出す。CameraError でなければ KindUnknown
func KindOf(err error) ErrorKind {
	var ce *CameraError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

var (
	// ErrSuperseded は新しい操作やアンマウントにより結果が破棄されたことを示す
	ErrSuperseded = errors.New("camera: 操作は後続の操作により破棄されました")

	// ErrRetryExhausted は再試行の上限に達したことを示す
	ErrRetryExhausted = errors.New("camera: 再試行の上限に達しました")

	// ErrSessionClosed は終了済みセッションへの操作を示す
	ErrSessionClosed = errors.New("camera: セッションは終了しています")

	// ErrInvalidState は現在の状態では実行できない操作を示す
	ErrInvalidState = errors.New("camera: 現在の状態では実行できません")

	// ErrNotReady は映像の準備ができていないことを示す
	ErrNotReady = errors.New("camera: カメラの準備ができていません")

	// ErrCaptureUnavailable はキャプチャ面が利用できないことを示す
	ErrCaptureUnavailable = errors.New("camera: キャプチャを利用できません")

	// ErrConstraintNotSupported は追加制約が未対応であることを示す
	ErrConstraintNotSupported = errors.New("camera: 制約はサポートされていません")

	// ErrNoPlatform はプラットフォームAPIが存在しないことを示す
	ErrNoPlatform = errors.New("camera: メディアAPIが利用できません")
)
