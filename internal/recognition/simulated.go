package recognition

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SimulatedConfig は疑似認識の設定
type SimulatedConfig struct {
	Delay       time.Duration // 1回の呼び出しにかかる時間
	SuccessRate float64       // 顔検出が成功する確率
	People      []Match       // 照合候補（Similarity は無視される）
	Seed        uint64
}

// DefaultSimulatedConfig は既定の疑似認識設定
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		Delay:       1500 * time.Millisecond,
		SuccessRate: 0.8,
		People: []Match{
			{PersonID: "person-1", Name: "佐藤"},
			{PersonID: "person-2", Name: "鈴木"},
			{PersonID: "person-3", Name: "高橋"},
		},
	}
}

// Simulated は乱数で結果を返す Recognizer
// 実際の認識は行わない
type Simulated struct {
	cfg SimulatedConfig

	mu    sync.Mutex
	rng   *rand.Rand
	faces map[string]bool
}

var _ Recognizer = (*Simulated)(nil)

// NewSimulated は新しいSimulatedを作成する
func NewSimulated(cfg SimulatedConfig) *Simulated {
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Simulated{
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(seed, seed>>1|1)),
		faces: make(map[string]bool),
	}
}

// DetectFace は一定時間待ってから確率的に顔を検出したことにする
func (s *Simulated) DetectFace(ctx context.Context, _ []byte) (*Detection, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rng.Float64() >= s.cfg.SuccessRate {
		return &Detection{Success: false}, nil
	}
	id := uuid.New().String()
	s.faces[id] = true
	return &Detection{
		Success:    true,
		FaceID:     id,
		Confidence: 0.7 + 0.3*s.rng.Float64(),
	}, nil
}

// MatchFace は候補から無作為に選んだ人物を返す
func (s *Simulated) MatchFace(ctx context.Context, faceID string) (*MatchResult, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.faces[faceID] {
		return nil, ErrUnknownFace
	}

	n := s.rng.IntN(len(s.cfg.People) + 1)
	matches := make([]Match, 0, n)
	for _, i := range s.rng.Perm(len(s.cfg.People))[:n] {
		m := s.cfg.People[i]
		m.Similarity = 0.6 + 0.4*s.rng.Float64()
		matches = append(matches, m)
	}
	return &MatchResult{Success: len(matches) > 0, Matches: matches}, nil
}

func (s *Simulated) wait(ctx context.Context) error {
	if s.cfg.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.cfg.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
