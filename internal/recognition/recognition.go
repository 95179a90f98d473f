// Package recognition はキャプチャした静止画を顔認識に渡す協調コンポーネント
//
// Recognizer の実装は差し替え可能で、乱数で結果を返す Simulated と
// 埋め込みサーバーと近傍探索を使う EmbeddingRecognizer を用意している。
package recognition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"facecam/internal/logging"
)

var (
	// ErrUnknownFace は DetectFace で得ていない顔IDを示す
	ErrUnknownFace = errors.New("recognition: 不明な顔IDです")

	// ErrNoFace は画像から顔が検出できなかったことを示す
	ErrNoFace = errors.New("recognition: 顔が検出できません")
)

// Detection は顔検出の結果
type Detection struct {
	Success    bool      `json:"success"`
	FaceID     string    `json:"faceId,omitempty"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox,omitempty"` // [x1, y1, x2, y2]
}

// Match は照合候補の1人
type Match struct {
	PersonID   string  `json:"personId"`
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity"`
}

// MatchResult は照合の結果
type MatchResult struct {
	Success bool    `json:"success"`
	Matches []Match `json:"matches"`
}

// Recognizer は顔の検出と照合を行う
type Recognizer interface {
	// DetectFace はエンコード済みの画像から顔を検出する
	DetectFace(ctx context.Context, image []byte) (*Detection, error)

	// MatchFace は検出済みの顔を登録済みの人物と照合する
	MatchFace(ctx context.Context, faceID string) (*MatchResult, error)
}

// Enroller は人物を登録できる Recognizer
type Enroller interface {
	Enroll(ctx context.Context, personID, name string, image []byte) error
}

// IdentifyOptions は検出の再試行設定
type IdentifyOptions struct {
	Attempts int           // 検出の試行回数（1以上）
	Backoff  time.Duration // n 回目の失敗後に n*Backoff 待つ
}

// DefaultIdentifyOptions は既定の再試行設定
func DefaultIdentifyOptions() IdentifyOptions {
	return IdentifyOptions{Attempts: 3, Backoff: 500 * time.Millisecond}
}

// Identification は検出から照合までの結果
type Identification struct {
	Detection *Detection   `json:"detection"`
	Match     *MatchResult `json:"match,omitempty"`
	Attempts  int          `json:"attempts"`
}

// Identify は画像の事前チェック、顔検出（再試行あり）、照合を順に行う
//
// 検出に最後まで失敗した場合は照合せずに結果を返す。
func Identify(ctx context.Context, r Recognizer, image []byte, opts IdentifyOptions) (*Identification, error) {
	if err := CheckLocalFace(image); err != nil {
		return nil, err
	}
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	log := logging.For("recognition")

	result := &Identification{}
	var lastErr error
	for i := 1; i <= opts.Attempts; i++ {
		result.Attempts = i

		det, err := r.DetectFace(ctx, image)
		switch {
		case err != nil:
			lastErr = err
			log.WithError(err).WithField("attempt", i).Warn("顔検出に失敗")
		case det.Success:
			result.Detection = det
			match, err := r.MatchFace(ctx, det.FaceID)
			if err != nil {
				return nil, fmt.Errorf("照合に失敗: %w", err)
			}
			result.Match = match
			return result, nil
		default:
			result.Detection = det
			log.WithField("attempt", i).Debug("顔が検出されませんでした")
		}

		if i == opts.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i) * opts.Backoff):
		}
	}

	if result.Detection == nil {
		return nil, fmt.Errorf("顔検出に失敗: %w", lastErr)
	}
	return result, nil
}
