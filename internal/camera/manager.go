package camera

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"facecam/internal/logging"
)

// DefaultScanInterval はデバイス再検出の既定間隔
const DefaultScanInterval = 30 * time.Second

// ErrSessionNotFound は指定IDのセッションが存在しないことを示す
var ErrSessionNotFound = errors.New("camera: セッションが見つかりません")

// ManagerConfig はセッションマネージャーの設定
type ManagerConfig struct {
	Session       SessionConfig
	ScanInterval  time.Duration
	AutoDiscovery bool
	Locale        language.Tag
}

// SessionOptions はセッション作成時の指定
type SessionOptions struct {
	FacingMode   FacingMode
	PlatformKind PlatformKind // 空なら設定値
	Locale       *language.Tag
}

// Manager は複数のキャプチャセッションを管理する
//
// 生きたストリームを持てるのは常に1セッションだけで、
// 取得を始めたセッション以外のストリームは停止される。
type Manager struct {
	platform Platform
	probe    *Probe
	notifier Notifier
	cfg      ManagerConfig

	mu       sync.RWMutex
	sessions map[string]*Session
	devices  []DeviceDescriptor
	scanned  time.Time

	liveMu sync.Mutex
	live   *Session

	// 制御用
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewManager は新しいManagerを作成する
func NewManager(platform Platform, cfg ManagerConfig, notifier Notifier) *Manager {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.Locale == language.Und {
		cfg.Locale = supportedLocales[0]
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Manager{
		platform: platform,
		probe:    NewProbe(platform),
		notifier: notifier,
		cfg:      cfg,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}
}

// Start は初期スキャンを行い、必要ならバックグラウンドスキャンを開始する
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	m.scanLocked(ctx)
	if len(m.devices) == 0 {
		logging.For("manager").Warn("カメラが見つかりません")
	}

	if m.cfg.AutoDiscovery {
		m.wg.Add(1)
		go m.backgroundScan(ctx, m.stopCh)
	}
	m.running = true
	return nil
}

// Stop はバックグラウンドスキャンを止め、全セッションを終了する
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		close(m.stopCh)
		m.running = false
	}
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Wait()

	var closeErrors []error
	for id, s := range sessions {
		if err := s.Close(); err != nil {
			closeErrors = append(closeErrors, fmt.Errorf("セッション %s の終了に失敗: %w", id, err))
		}
	}

	m.liveMu.Lock()
	m.live = nil
	m.liveMu.Unlock()

	if len(closeErrors) > 0 {
		return fmt.Errorf("一部のセッション終了に失敗: %w", errors.Join(closeErrors...))
	}
	return nil
}

// Devices は最後に検出した映像入力デバイスを返す
func (m *Manager) Devices() []DeviceDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]DeviceDescriptor, len(m.devices))
	copy(out, m.devices)
	return out
}

// HasCamera は最後の検出でカメラが見つかったか判定する
func (m *Manager) HasCamera() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices) > 0
}

// LastScan は最後に検出した時刻を返す
func (m *Manager) LastScan() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scanned
}

// DiscoverDevices はデバイスを再検出する
func (m *Manager) DiscoverDevices(ctx context.Context) []DeviceDescriptor {
	m.mu.Lock()
	m.scanLocked(ctx)
	m.mu.Unlock()
	return m.Devices()
}

// scanLocked はデバイスを検出する（ロック済み前提）
func (m *Manager) scanLocked(ctx context.Context) {
	devices := m.probe.ListVideoInputs(ctx)

	if len(devices) != len(m.devices) {
		logging.For("manager").WithField("devices", len(devices)).Info("カメラ構成の変化を検出")
	}
	m.devices = devices
	m.scanned = time.Now()
}

// backgroundScan は定期的なデバイススキャンを実行する
func (m *Manager) backgroundScan(ctx context.Context, stopCh <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			m.scanLocked(ctx)
			m.mu.Unlock()
		}
	}
}

// CreateSession は新しいセッションを作成する。カメラはまだ起動しない
func (m *Manager) CreateSession(opts SessionOptions) *Session {
	cfg := m.cfg.Session
	if opts.FacingMode != "" {
		cfg.DefaultFacing = opts.FacingMode
	}
	if opts.PlatformKind != "" {
		cfg.Acquirer.PlatformKind = opts.PlatformKind
	}
	locale := m.cfg.Locale
	if opts.Locale != nil {
		locale = *opts.Locale
	}

	s := NewSession(uuid.New().String(), m.platform, cfg,
		WithClassifier(NewClassifier(m.notifier, locale)),
		WithLease(m),
	)

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	logging.For("manager").WithField("session", s.ID()).Debug("セッションを作成")
	return s
}

// GetSession は指定IDのセッションを取得する
func (m *Manager) GetSession(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Sessions は全セッションの状態をID順で返す
func (m *Manager) Sessions() []State {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	states := make([]State, 0, len(sessions))
	for _, s := range sessions {
		states = append(states, s.State())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].SessionID < states[j].SessionID })
	return states
}

// RemoveSession はセッションを終了して管理対象から外す
func (m *Manager) RemoveSession(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	m.liveMu.Lock()
	if m.live == s {
		m.live = nil
	}
	m.liveMu.Unlock()

	return s.Close()
}

// Live は現在ストリームの所有権を持つセッションを返す
func (m *Manager) Live() *Session {
	m.liveMu.Lock()
	defer m.liveMu.Unlock()
	return m.live
}

// Claim は s をストリームの所有者にし、以前の所有者を停止する
func (m *Manager) Claim(ctx context.Context, s *Session) {
	m.liveMu.Lock()
	prev := m.live
	m.live = s
	m.liveMu.Unlock()

	if prev == nil || prev == s {
		return
	}
	// エラー・停止中のセッションはストリームを持たないので状態を残す
	if st := prev.State().Status; st != StatusAcquiring && st != StatusReady {
		return
	}
	if err := prev.Stop(ctx); err != nil && !errors.Is(err, ErrSessionClosed) {
		logging.For("manager").WithError(err).WithField("session", prev.ID()).Warn("以前のセッションの停止に失敗")
		return
	}
	logging.For("manager").WithFields(map[string]interface{}{
		"from": prev.ID(),
		"to":   s.ID(),
	}).Info("カメラの所有権を移譲")
}

// Holds は s がストリームの所有者か判定する
func (m *Manager) Holds(s *Session) bool {
	m.liveMu.Lock()
	defer m.liveMu.Unlock()
	return m.live == s
}
