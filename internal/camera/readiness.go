package camera

import (
	"context"
	"time"
)

const (
	// DefaultReadyTimeout は準備待ちの既定タイムアウト
	DefaultReadyTimeout = 5 * time.Second

	// DefaultReadyPollInterval はサイズ確認のポーリング間隔
	DefaultReadyPollInterval = 150 * time.Millisecond
)

// WaitUntilReady は描画面が映像を表示できるまで待つ
//
// すでにサイズが報告されていれば即座に true を返す。
// それ以外はイベント・ポーリング・タイムアウトのいずれか早いものを待つ。
// タイムアウト時も true を返す（フェイルオープン）。
// ctx がキャンセルされた場合のみ false を返す。
func WaitUntilReady(ctx context.Context, surface Surface, timeout, pollInterval time.Duration) bool {
	if surface == nil {
		return false
	}
	if surfaceReady(surface) {
		return true
	}

	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	if pollInterval <= 0 {
		pollInterval = DefaultReadyPollInterval
	}

	events, unsubscribe := surface.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return false

		case ev, ok := <-events:
			if !ok {
				// 購読が閉じられた場合はポーリングとタイムアウトに任せる
				events = nil
				continue
			}
			switch ev {
			case EventLoadedMetadata, EventLoadedData, EventCanPlay:
				return true
			}

		case <-ticker.C:
			if surfaceReady(surface) {
				return true
			}

		case <-deadline.C:
			return true
		}
	}
}

// surfaceReady はサイズまたは準備状態から表示可能か判定する
func surfaceReady(surface Surface) bool {
	w, h := surface.Dimensions()
	if w > 0 && h > 0 {
		return true
	}
	return surface.ReadyState() >= HaveCurrentData
}
