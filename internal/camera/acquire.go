package camera

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"facecam/internal/logging"
)

const (
	// DefaultAttemptDelay は候補間の待ち時間
	// モバイル端末ではカメラを連続で叩くと失敗しやすい
	DefaultAttemptDelay = 300 * time.Millisecond

	// DefaultAcquireTimeout は候補全体に掛ける上限時間
	DefaultAcquireTimeout = 20 * time.Second
)

// Guard は呼び出し元がまだ有効か（アンマウント・後続操作で無効化されていないか）を返す
type Guard func() bool

// AcquirerConfig はストリーム取得の設定
type AcquirerConfig struct {
	PlatformKind PlatformKind
	AttemptDelay time.Duration
	Timeout      time.Duration
	Advanced     AdvancedConstraints
}

// ApplyResult はベストエフォート操作の結果
// 失敗しても取得自体は成功として扱う
type ApplyResult struct {
	Applied bool
	Err     error
}

// Acquisition は取得に成功したストリームと経過
type Acquisition struct {
	Stream   Stream
	Attempt  ConstraintAttempt
	Attempts int // 実際に GetUserMedia を呼んだ回数
	Advanced ApplyResult
}

// Acquirer は制約候補を順に試してストリームを取得する
type Acquirer struct {
	platform Platform
	probe    *Probe
	cfg      AcquirerConfig
	log      *logrus.Entry
}

// NewAcquirer は新しいAcquirerを作成する
func NewAcquirer(platform Platform, cfg AcquirerConfig) *Acquirer {
	if cfg.AttemptDelay < 0 {
		cfg.AttemptDelay = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultAcquireTimeout
	}
	if cfg.PlatformKind == "" {
		cfg.PlatformKind = PlatformDesktop
	}
	return &Acquirer{
		platform: platform,
		probe:    NewProbe(platform),
		cfg:      cfg,
		log:      logging.For("acquire"),
	}
}

// Acquire はストリームを取得する
//
// 候補は1つずつ順番に試し、前の呼び出しが完了するまで次は開始しない。
// 成功した時点で打ち切る。全候補が失敗した場合は最後のエラーを返す。
// 各待機の前後で guard を確認し、無効なら取得済みストリームを解放して ErrSuperseded を返す。
func (a *Acquirer) Acquire(ctx context.Context, base VideoConstraints, facing FacingMode, guard Guard) (*Acquisition, error) {
	if a.platform == nil {
		return nil, NewPlatformError(NameNotSupported, "メディアAPIが利用できません", ErrNoPlatform)
	}
	if guard == nil {
		guard = func() bool { return true }
	}
	if !guard() {
		return nil, ErrSuperseded
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	devices := a.probe.ListVideoInputs(ctx)
	if !guard() {
		return nil, ErrSuperseded
	}

	ladder := BuildLadder(a.cfg.PlatformKind, base, facing, devices)

	var lastErr error
	for i, attempt := range ladder {
		if !guard() {
			return nil, ErrSuperseded
		}

		log := a.log.WithFields(logrus.Fields{
			"attempt":    i + 1,
			"candidates": len(ladder),
			"constraint": attempt.String(),
		})

		stream, err := a.platform.GetUserMedia(ctx, attempt)
		if !guard() {
			// アンマウント済み：取得できていても即座に解放する
			if stream != nil {
				Release(stream, nil)
			}
			log.Debug("取得結果を破棄（呼び出し元が無効）")
			return nil, ErrSuperseded
		}

		if err == nil && stream == nil {
			err = NewPlatformError(NameAbort, "ストリームが返されませんでした", nil)
		}
		if err == nil {
			log.Info("ストリームを取得")
			return &Acquisition{
				Stream:   stream,
				Attempt:  attempt,
				Attempts: i + 1,
				Advanced: a.applyAdvanced(ctx, stream),
			}, nil
		}

		lastErr = err
		log.WithError(err).Warn("候補での取得に失敗")

		if ctx.Err() != nil {
			break
		}
		if i < len(ladder)-1 && a.cfg.AttemptDelay > 0 {
			if err := sleepContext(ctx, a.cfg.AttemptDelay); err != nil {
				break
			}
		}
	}

	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return nil, fmt.Errorf("全ての候補で取得に失敗: %w", lastErr)
}

// applyAdvanced はフォーカス・露出の追加制約を適用する
// 未対応や失敗はログに残すだけで呼び出し元には伝えない
func (a *Acquirer) applyAdvanced(ctx context.Context, stream Stream) (result ApplyResult) {
	defer func() {
		if r := recover(); r != nil {
			result = ApplyResult{Err: fmt.Errorf("追加制約の適用中にpanic: %v", r)}
			a.log.WithError(result.Err).Warn("追加制約の適用に失敗（無視）")
		}
	}()

	if a.cfg.Advanced == (AdvancedConstraints{}) {
		return ApplyResult{}
	}

	for _, track := range stream.VideoTracks() {
		err := track.ApplyConstraints(ctx, a.cfg.Advanced)
		switch {
		case err == nil:
			result.Applied = true
		case errors.Is(err, ErrConstraintNotSupported):
			a.log.WithField("track", track.ID()).Debug("追加制約は未対応")
			result.Err = err
		default:
			a.log.WithError(err).WithField("track", track.ID()).Warn("追加制約の適用に失敗（無視）")
			result.Err = err
		}
	}
	return result
}

// sleepContext は d だけ待つ。ctx が先に終われば ctx.Err() を返す
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
