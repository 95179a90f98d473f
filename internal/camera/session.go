package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"facecam/internal/logging"
)

// DefaultMaxRetries は再試行回数の既定上限
const DefaultMaxRetries = 3

// SessionConfig はキャプチャセッションの設定
type SessionConfig struct {
	DefaultFacing     FacingMode
	MaxRetries        int
	ReadyTimeout      time.Duration
	ReadyPollInterval time.Duration
	Base              VideoConstraints
	Capture           CaptureOptions
	Acquirer          AcquirerConfig
}

// DefaultSessionConfig は既定のセッション設定
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		DefaultFacing:     FacingFront,
		MaxRetries:        DefaultMaxRetries,
		ReadyTimeout:      DefaultReadyTimeout,
		ReadyPollInterval: DefaultReadyPollInterval,
		Base:              DefaultBaseConstraints(),
		Capture:           DefaultCaptureOptions(),
		Acquirer: AcquirerConfig{
			PlatformKind: PlatformDesktop,
			AttemptDelay: DefaultAttemptDelay,
			Timeout:      DefaultAcquireTimeout,
			Advanced:     DefaultAdvancedConstraints(),
		},
	}
}

// StreamLease は複数セッションの間で生きたストリームを1つに制限する
type StreamLease interface {
	// Claim は s を唯一の所有者にする。以前の所有者は停止される
	Claim(ctx context.Context, s *Session)
	// Holds は s が現在の所有者か判定する
	Holds(s *Session) bool
}

// SessionOption はセッション作成時のオプション
type SessionOption func(*Session)

// WithSurface は描画面を指定する。省略時はプラットフォームが作成する
func WithSurface(surface Surface) SessionOption {
	return func(s *Session) { s.surface = surface }
}

// WithClassifier はエラー分類器を指定する
func WithClassifier(c *Classifier) SessionOption {
	return func(s *Session) { s.classifier = c }
}

// WithLease はストリームの排他制御を指定する
func WithLease(lease StreamLease) SessionOption {
	return func(s *Session) { s.lease = lease }
}

// Session は1つのカメラキャプチャのライフサイクルを管理する
//
// 状態は mu で保護し、世代カウンタで「現在の操作」を識別する。
// Start / SwitchCamera / Retry / Stop / Close は世代を進め、
// 古い世代の完了結果は状態を変更せずに破棄される。
type Session struct {
	id         string
	platform   Platform
	acquirer   *Acquirer
	classifier *Classifier
	lease      StreamLease
	cfg        SessionConfig
	log        *logrus.Entry

	mu          sync.Mutex
	gen         uint64
	cancelRun   context.CancelFunc
	closed      bool
	status      Status
	facing      FacingMode
	stream      Stream
	surface     Surface
	retryCount  int
	lastError   *CameraError
	deviceLabel string
	updatedAt   time.Time

	subMu   sync.Mutex
	subs    map[int]chan State
	nextSub int
}

// NewSession は新しいSessionを作成する
func NewSession(id string, platform Platform, cfg SessionConfig, opts ...SessionOption) *Session {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.DefaultFacing == "" {
		cfg.DefaultFacing = FacingFront
	}

	s := &Session{
		id:        id,
		platform:  platform,
		acquirer:  NewAcquirer(platform, cfg.Acquirer),
		cfg:       cfg,
		log:       logging.For("session").WithField("session", id),
		status:    StatusIdle,
		facing:    cfg.DefaultFacing,
		updatedAt: time.Now(),
		subs:      make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.classifier == nil {
		s.classifier = NewClassifier(nil, supportedLocales[0])
	}
	if s.surface == nil && platform != nil {
		s.surface = platform.NewSurface()
	}
	return s
}

// ID はセッションIDを返す
func (s *Session) ID() string {
	return s.id
}

// Surface は描画面を返す
func (s *Session) Surface() Surface {
	return s.surface
}

// Start は指定した向きでカメラを起動する
// 明示的な起動のため再試行回数はリセットされる
func (s *Session) Start(ctx context.Context, facing FacingMode) error {
	if facing == "" {
		facing = s.cfg.DefaultFacing
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.retryCount = 0
	s.lastError = nil
	s.mu.Unlock()

	return s.acquire(ctx, func() (FacingMode, error) { return facing, nil })
}

// SwitchCamera は反対側のカメラに切り替える
// 現在のストリームは新しい取得の前に解放される
func (s *Session) SwitchCamera(ctx context.Context) error {
	return s.acquire(ctx, func() (FacingMode, error) { return s.facing.Opposite(), nil })
}

// Retry はエラー状態から同じ向きで再取得する
// 上限を超えた場合は ErrRetryExhausted を返し、状態は変えない
func (s *Session) Retry(ctx context.Context) error {
	return s.acquire(ctx, func() (FacingMode, error) {
		if s.status != StatusError {
			return "", fmt.Errorf("%w: status=%s", ErrInvalidState, s.status)
		}
		if s.exhaustedLocked() {
			return "", ErrRetryExhausted
		}
		return s.facing, nil
	})
}

// Stop はカメラを停止する。取得中の操作は破棄される
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	s.stopLocked()
	s.log.Info("カメラを停止")
	return nil
}

// Close はセッションを終了する（アンマウント相当）
// 以降の操作は ErrSessionClosed を返す
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.stopLocked()
	s.closed = true
	s.mu.Unlock()

	s.subMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()

	s.log.Debug("セッションを終了")
	return nil
}

// Capture は現在の映像を静止画として取得する
func (s *Session) Capture(ctx context.Context, opts *CaptureOptions) (*CapturedFrame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.status != StatusReady {
		s.mu.Unlock()
		return nil, ErrNotReady
	}
	surface, facing := s.surface, s.facing
	s.mu.Unlock()

	o := s.cfg.Capture
	if opts != nil {
		o = *opts
	}

	frame, err := Capture(surface, facing, o)
	if err != nil {
		return nil, s.classifier.Classify(withSessionID(ctx, s.id), err)
	}
	return frame, nil
}

// State は現在の状態のスナップショットを返す
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Subscribe は状態変化を購読する
// 受信が遅い場合は古い状態から破棄される
func (s *Session) Subscribe(buffer int) (<-chan State, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan State, buffer)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	offer(ch, s.stateLocked())

	var once sync.Once
	return ch, func() { once.Do(func() { s.unsubscribe(id) }) }
}

func (s *Session) unsubscribe(id int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

// acquire は世代を進めて新しいストリームを取得し、準備完了まで待つ
// next はロック中に呼ばれ、取得する向きを決める
func (s *Session) acquire(ctx context.Context, next func() (FacingMode, error)) error {
	if s.lease != nil {
		// 他セッションを止める前に実行できる操作か確認する
		s.mu.Lock()
		err := s.checkLocked(next)
		s.mu.Unlock()
		if err != nil {
			return err
		}
		s.lease.Claim(ctx, s)
	}

	s.mu.Lock()
	if err := s.checkLocked(next); err != nil {
		s.mu.Unlock()
		return err
	}
	facing, _ := next()

	// 新しい取得の前に必ず以前のストリームを解放する
	s.bumpLocked()
	gen := s.gen
	runCtx, cancel := context.WithCancel(withSessionID(ctx, s.id))
	s.cancelRun = cancel
	s.facing = facing
	s.status = StatusAcquiring
	s.lastError = nil
	s.deviceLabel = ""
	s.touchLocked()
	s.mu.Unlock()
	defer cancel()

	log := s.log.WithFields(logrus.Fields{"facing": facing, "generation": gen})
	log.Info("カメラを起動")

	guard := func() bool { return s.isCurrent(gen) }

	acq, err := s.acquirer.Acquire(runCtx, s.cfg.Base, facing, guard)
	if err != nil {
		if errors.Is(err, ErrSuperseded) || runCtx.Err() != nil {
			s.abandon(gen)
			return ErrSuperseded
		}
		return s.fail(runCtx, gen, err)
	}

	s.mu.Lock()
	if gen != s.gen || !s.holdsLease() {
		s.mu.Unlock()
		Release(acq.Stream, nil)
		s.abandon(gen)
		return ErrSuperseded
	}
	s.stream = acq.Stream
	s.deviceLabel = firstVideoLabel(acq.Stream)
	var attachErr error
	if s.surface != nil {
		attachErr = s.surface.Attach(acq.Stream)
	}
	surface := s.surface
	s.mu.Unlock()

	if attachErr != nil {
		return s.fail(runCtx, gen, fmt.Errorf("%w: 描画面への接続に失敗: %v", ErrCaptureUnavailable, attachErr))
	}

	if !WaitUntilReady(runCtx, surface, s.cfg.ReadyTimeout, s.cfg.ReadyPollInterval) {
		s.abandon(gen)
		return ErrSuperseded
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return ErrSuperseded
	}
	s.status = StatusReady
	s.touchLocked()
	log.WithFields(logrus.Fields{
		"constraint": acq.Attempt.String(),
		"attempts":   acq.Attempts,
		"device":     s.deviceLabel,
	}).Info("カメラの準備完了")
	return nil
}

// fail は取得の失敗を分類し、エラー状態に遷移する
// 通知は分類1回につき1件
func (s *Session) fail(ctx context.Context, gen uint64, err error) error {
	if !s.isCurrent(gen) {
		return ErrSuperseded
	}

	ce := s.classifier.Classify(ctx, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return ErrSuperseded
	}

	Release(s.stream, s.surface)
	s.stream = nil
	s.retryCount++
	s.lastError = ce
	s.status = StatusError
	s.touchLocked()

	s.log.WithFields(logrus.Fields{
		"kind":        ce.Kind,
		"retry_count": s.retryCount,
		"exhausted":   s.exhaustedLocked(),
	}).WithError(err).Warn("カメラの起動に失敗")
	return ce
}

// abandon は外部要因（停止・他セッションへの移譲・呼び出し元のキャンセル）で
// 中断された取得を後始末する。世代が変わっていれば何もしない
func (s *Session) abandon(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.stopLocked()
}

func (s *Session) checkLocked(next func() (FacingMode, error)) error {
	if s.closed {
		return ErrSessionClosed
	}
	_, err := next()
	return err
}

func (s *Session) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen && !s.closed && s.holdsLease()
}

func (s *Session) holdsLease() bool {
	return s.lease == nil || s.lease.Holds(s)
}

// bumpLocked は世代を進め、進行中の操作を取り消してストリームを解放する
func (s *Session) bumpLocked() {
	s.gen++
	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}
	Release(s.stream, s.surface)
	s.stream = nil
}

func (s *Session) stopLocked() {
	s.bumpLocked()
	s.status = StatusStopped
	s.deviceLabel = ""
	s.touchLocked()
}

func (s *Session) exhaustedLocked() bool {
	return s.retryCount > s.cfg.MaxRetries
}

// touchLocked は更新時刻を記録し、購読者に状態を配信する
func (s *Session) touchLocked() {
	s.updatedAt = time.Now()
	s.publish(s.stateLocked())
}

func (s *Session) stateLocked() State {
	st := State{
		SessionID:      s.id,
		Status:         s.status,
		FacingMode:     s.facing,
		RetryCount:     s.retryCount,
		RetryExhausted: s.exhaustedLocked(),
		IsReady:        s.status == StatusReady,
		DeviceLabel:    s.deviceLabel,
		UpdatedAt:      s.updatedAt,
	}
	if s.lastError != nil {
		st.ErrorKind = s.lastError.Kind
		st.ErrorMessage = s.lastError.Message
	}
	return st
}

// publish は全購読者に状態を送る
func (s *Session) publish(st State) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		offer(ch, st)
	}
}

// offer はバッファが一杯なら最も古い状態を捨てて st を入れる
func offer(ch chan State, st State) {
	for {
		select {
		case ch <- st:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func firstVideoLabel(stream Stream) string {
	for _, t := range stream.VideoTracks() {
		if t.Label() != "" {
			return t.Label()
		}
	}
	return ""
}

type sessionIDKey struct{}

func withSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

func sessionIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}
