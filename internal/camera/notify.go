package camera

import (
	"context"
	"sync"
	"time"

	"facecam/internal/logging"
)

// Severity は通知の重要度
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityError Severity = "error"
)

// Notification はユーザーに表示する1行の通知
type Notification struct {
	SessionID string    `json:"sessionId,omitempty"`
	Severity  Severity  `json:"severity"`
	Kind      ErrorKind `json:"kind,omitempty"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Notifier はユーザー向け通知の送信先
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc は関数を Notifier として扱う
type NotifierFunc func(ctx context.Context, n Notification)

// Notify は f(ctx, n) を呼ぶ
func (f NotifierFunc) Notify(ctx context.Context, n Notification) {
	f(ctx, n)
}

// LogNotifier は通知をログに出力する
type LogNotifier struct{}

// Notify は通知をログに記録する
func (LogNotifier) Notify(_ context.Context, n Notification) {
	entry := logging.For("notify").WithFields(map[string]interface{}{
		"session": n.SessionID,
		"kind":    n.Kind,
	})
	if n.Severity == SeverityError {
		entry.Warn(n.Message)
		return
	}
	entry.Info(n.Message)
}

// RecordingNotifier は受け取った通知を保持する（テスト・デバッグ用）
type RecordingNotifier struct {
	mu            sync.Mutex
	notifications []Notification
}

// Notify は通知を記録する
func (r *RecordingNotifier) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

// Notifications は記録済みの通知のコピーを返す
func (r *RecordingNotifier) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.notifications))
	copy(out, r.notifications)
	return out
}

// MultiNotifier は複数の Notifier へ通知を配る
type MultiNotifier []Notifier

// Notify は全ての Notifier に通知する
func (m MultiNotifier) Notify(ctx context.Context, n Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}
