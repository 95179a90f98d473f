package camera

import (
	"context"
	"errors"
	"io/fs"
	"syscall"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// メッセージキー
const (
	msgPermissionDenied   = "camera.permission_denied"
	msgDeviceNotFound     = "camera.device_not_found"
	msgDeviceBusy         = "camera.device_busy"
	msgCaptureUnavailable = "camera.capture_unavailable"
	msgUnknown            = "camera.unknown"
	msgUnknownDetail      = "camera.unknown_detail"
)

var supportedLocales = []language.Tag{language.Japanese, language.English}

var localeMatcher = language.NewMatcher(supportedLocales)

var messages = newCatalog()

func newCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.Japanese))

	set := func(tag language.Tag, key, msg string) {
		if err := b.SetString(tag, key, msg); err != nil {
			panic("メッセージカタログの登録に失敗: " + err.Error())
		}
	}

	set(language.Japanese, msgPermissionDenied, "カメラへのアクセスが拒否されました。ブラウザの設定でカメラへのアクセスを許可してください。")
	set(language.Japanese, msgDeviceNotFound, "カメラが見つかりません。カメラが接続されているか確認してください。")
	set(language.Japanese, msgDeviceBusy, "カメラを起動できません。他のアプリケーションがカメラを使用している可能性があります。")
	set(language.Japanese, msgCaptureUnavailable, "画像をキャプチャできません。もう一度お試しください。")
	set(language.Japanese, msgUnknown, "カメラの起動に失敗しました。")
	set(language.Japanese, msgUnknownDetail, "カメラの起動に失敗しました: %s")

	set(language.English, msgPermissionDenied, "Camera access denied. Please allow camera access in your browser settings.")
	set(language.English, msgDeviceNotFound, "No camera found. Please check that your camera is connected.")
	set(language.English, msgDeviceBusy, "Could not start the camera. Another application may be using it.")
	set(language.English, msgCaptureUnavailable, "Could not capture an image. Please try again.")
	set(language.English, msgUnknown, "Failed to start the camera.")
	set(language.English, msgUnknownDetail, "Failed to start the camera: %s")

	return b
}

// MatchLocale は Accept-Language などの文字列から対応言語を選ぶ
func MatchLocale(accept string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(accept)
	if err != nil || len(tags) == 0 {
		return supportedLocales[0]
	}
	_, idx, _ := localeMatcher.Match(tags...)
	return supportedLocales[idx]
}

type localeKey struct{}

// WithLocale はメッセージ言語をコンテキストに設定する
func WithLocale(ctx context.Context, tag language.Tag) context.Context {
	return context.WithValue(ctx, localeKey{}, tag)
}

func localeFrom(ctx context.Context, fallback language.Tag) language.Tag {
	if tag, ok := ctx.Value(localeKey{}).(language.Tag); ok {
		return tag
	}
	return fallback
}

// Classifier はプラットフォームのエラーをユーザー向けエラーに変換する
// 自動で再試行はしない
type Classifier struct {
	notifier Notifier
	locale   language.Tag
}

// NewClassifier は新しいClassifierを作成する
func NewClassifier(notifier Notifier, locale language.Tag) *Classifier {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Classifier{notifier: notifier, locale: locale}
}

// Classify はエラーを分類し、通知を1件送る
func (c *Classifier) Classify(ctx context.Context, err error) *CameraError {
	kind, raw := kindOf(err)
	ce := &CameraError{
		Kind:    kind,
		Message: c.Message(ctx, kind, raw),
		Cause:   err,
	}

	c.notifier.Notify(ctx, Notification{
		SessionID: sessionIDFrom(ctx),
		Severity:  SeverityError,
		Kind:      kind,
		Message:   ce.Message,
		At:        time.Now(),
	})
	return ce
}

// Message は種別に対応するローカライズ済みメッセージを返す
func (c *Classifier) Message(ctx context.Context, kind ErrorKind, raw string) string {
	p := message.NewPrinter(localeFrom(ctx, c.locale), message.Catalog(messages))

	switch kind {
	case KindPermissionDenied:
		return p.Sprintf(msgPermissionDenied)
	case KindDeviceNotFound:
		return p.Sprintf(msgDeviceNotFound)
	case KindDeviceBusy:
		return p.Sprintf(msgDeviceBusy)
	case KindCaptureUnavailable:
		return p.Sprintf(msgCaptureUnavailable)
	default:
		if raw != "" {
			return p.Sprintf(msgUnknownDetail, raw)
		}
		return p.Sprintf(msgUnknown)
	}
}

// kindOf はエラー名・エラー値から種別を決定する
func kindOf(err error) (ErrorKind, string) {
	if err == nil {
		return KindUnknown, ""
	}

	var ce *CameraError
	if errors.As(err, &ce) {
		return ce.Kind, ""
	}

	var pe *PlatformError
	if errors.As(err, &pe) {
		switch pe.Name {
		case NameNotAllowed, NamePermissionDenied, NameSecurity:
			return KindPermissionDenied, pe.Message
		case NameNotFound, NameDevicesNotFound:
			return KindDeviceNotFound, pe.Message
		case NameNotReadable, NameTrackStart:
			return KindDeviceBusy, pe.Message
		}
		if pe.Err == nil {
			return KindUnknown, pe.Message
		}
	}

	switch {
	case errors.Is(err, fs.ErrPermission):
		return KindPermissionDenied, ""
	case errors.Is(err, fs.ErrNotExist):
		return KindDeviceNotFound, ""
	case errors.Is(err, syscall.EBUSY):
		return KindDeviceBusy, ""
	case errors.Is(err, ErrCaptureUnavailable):
		return KindCaptureUnavailable, ""
	}

	if pe != nil {
		return KindUnknown, pe.Message
	}
	return KindUnknown, err.Error()
}
