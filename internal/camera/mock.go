package camera

import (
	"context"
	"fmt"
	"image"
	"sync"
)

// MockPlatform はテスト用のモックPlatform実装
// 先頭から順に登録したエラーを返し、尽きたら成功する
type MockPlatform struct {
	mu           sync.Mutex
	devices      []DeviceDescriptor
	enumerateErr error
	failures     []error
	alwaysErr    error
	calls        []ConstraintAttempt
	streams      []*MockStream
	surfaces     []*MockSurface
	hook         func(ctx context.Context, attempt ConstraintAttempt)
	width        int
	height       int
}

// NewMockPlatform は新しいMockPlatformを作成する
func NewMockPlatform(devices ...DeviceDescriptor) *MockPlatform {
	return &MockPlatform{
		devices: devices,
		width:   1280,
		height:  720,
	}
}

// FailWith は次の GetUserMedia 呼び出しから順に返すエラーを追加する
func (m *MockPlatform) FailWith(errs ...error) *MockPlatform {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
	return m
}

// FailAlways は全ての GetUserMedia 呼び出しを err で失敗させる（nil で解除）
func (m *MockPlatform) FailAlways(err error) *MockPlatform {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alwaysErr = err
	return m
}

// SetEnumerateError は EnumerateDevices のエラーを設定する
func (m *MockPlatform) SetEnumerateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enumerateErr = err
}

// SetDevices はデバイス一覧を置き換える
func (m *MockPlatform) SetDevices(devices ...DeviceDescriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = devices
}

// SetResolution は成功時のトラック解像度を設定する
func (m *MockPlatform) SetResolution(width, height int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.width, m.height = width, height
}

// OnGetUserMedia は GetUserMedia の開始時に呼ばれるフックを設定する
func (m *MockPlatform) OnGetUserMedia(hook func(ctx context.Context, attempt ConstraintAttempt)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = hook
}

// Calls は GetUserMedia に渡された候補を呼び出し順に返す
func (m *MockPlatform) Calls() []ConstraintAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ConstraintAttempt, len(m.calls))
	copy(out, m.calls)
	return out
}

// Streams は作成したストリームを返す
func (m *MockPlatform) Streams() []*MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockStream, len(m.streams))
	copy(out, m.streams)
	return out
}

// Surfaces は作成した描画面を返す
func (m *MockPlatform) Surfaces() []*MockSurface {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockSurface, len(m.surfaces))
	copy(out, m.surfaces)
	return out
}

// EnumerateDevices はモックデバイス一覧を返す
func (m *MockPlatform) EnumerateDevices(_ context.Context) ([]DeviceDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enumerateErr != nil {
		return nil, m.enumerateErr
	}
	out := make([]DeviceDescriptor, len(m.devices))
	copy(out, m.devices)
	return out, nil
}

// GetUserMedia は呼び出しを記録し、登録済みのエラーまたはストリームを返す
func (m *MockPlatform) GetUserMedia(ctx context.Context, attempt ConstraintAttempt) (Stream, error) {
	m.mu.Lock()
	idx := len(m.calls)
	m.calls = append(m.calls, attempt)
	hook := m.hook
	m.mu.Unlock()

	if hook != nil {
		hook(ctx, attempt)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if idx < len(m.failures) && m.failures[idx] != nil {
		return nil, m.failures[idx]
	}
	if m.alwaysErr != nil {
		return nil, m.alwaysErr
	}

	settings := TrackSettings{Width: m.width, Height: m.height, FrameRate: 30}
	label := "Mock Camera"
	if attempt.Video != nil {
		if w := attempt.Video.Width.Preferred(); w > 0 {
			settings.Width = w
		}
		if h := attempt.Video.Height.Preferred(); h > 0 {
			settings.Height = h
		}
		settings.DeviceID = attempt.Video.DeviceID
		settings.FacingMode = attempt.Video.FacingMode
	}
	for _, d := range m.devices {
		if d.Kind == DeviceVideoInput && (settings.DeviceID == "" || d.DeviceID == settings.DeviceID) {
			label = d.Label
			break
		}
	}

	n := len(m.streams) + 1
	stream := NewMockStream(fmt.Sprintf("stream-%d", n), NewMockTrack(fmt.Sprintf("video-%d", n), TrackVideo, label, settings))
	m.streams = append(m.streams, stream)
	return stream, nil
}

// NewSurface はサイズを自動で報告する MockSurface を返す
func (m *MockPlatform) NewSurface() Surface {
	s := NewMockSurface()
	m.mu.Lock()
	m.surfaces = append(m.surfaces, s)
	m.mu.Unlock()
	return s
}

// MockStream はテスト用のストリーム
type MockStream struct {
	id     string
	tracks []*MockTrack
}

// NewMockStream は新しいMockStreamを作成する
func NewMockStream(id string, tracks ...*MockTrack) *MockStream {
	return &MockStream{id: id, tracks: tracks}
}

func (s *MockStream) ID() string { return s.id }

// Tracks は全トラックを返す
func (s *MockStream) Tracks() []Track {
	out := make([]Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

// VideoTracks は映像トラックのみを返す
func (s *MockStream) VideoTracks() []Track {
	out := make([]Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		if t.Kind() == TrackVideo {
			out = append(out, t)
		}
	}
	return out
}

// MockTracks は具体型のトラックを返す
func (s *MockStream) MockTracks() []*MockTrack {
	return s.tracks
}

// Live は停止していないトラック数を返す
func (s *MockStream) Live() int {
	n := 0
	for _, t := range s.tracks {
		if t.ReadyState() == TrackLive {
			n++
		}
	}
	return n
}

// MockTrack はテスト用のトラック
type MockTrack struct {
	mu        sync.Mutex
	id        string
	kind      TrackKind
	label     string
	state     TrackState
	settings  TrackSettings
	stopErr   error
	stopPanic bool
	applyErr  error
	applied   []AdvancedConstraints
	stops     int
}

// NewMockTrack は新しいMockTrackを作成する
func NewMockTrack(id string, kind TrackKind, label string, settings TrackSettings) *MockTrack {
	return &MockTrack{id: id, kind: kind, label: label, state: TrackLive, settings: settings}
}

// FailStop は Stop をエラーで失敗させる。panics が true なら panic する
// どちらの場合もトラックは ended になる
func (t *MockTrack) FailStop(err error, panics bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopErr = err
	t.stopPanic = panics
}

// FailApply は ApplyConstraints が返すエラーを設定する
func (t *MockTrack) FailApply(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applyErr = err
}

func (t *MockTrack) ID() string      { return t.id }
func (t *MockTrack) Kind() TrackKind { return t.kind }
func (t *MockTrack) Label() string   { return t.label }

// ReadyState はトラックの状態を返す
func (t *MockTrack) ReadyState() TrackState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Stop はトラックを停止する
func (t *MockTrack) Stop() error {
	t.mu.Lock()
	t.stops++
	t.state = TrackEnded
	err, panics := t.stopErr, t.stopPanic
	t.mu.Unlock()

	if panics {
		panic("モック: トラック停止でpanic")
	}
	return err
}

// Stops は Stop が呼ばれた回数を返す
func (t *MockTrack) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

// ApplyConstraints は追加制約を記録する
func (t *MockTrack) ApplyConstraints(_ context.Context, c AdvancedConstraints) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.applyErr != nil {
		return t.applyErr
	}
	t.applied = append(t.applied, c)
	return nil
}

// Applied は適用された追加制約を返す
func (t *MockTrack) Applied() []AdvancedConstraints {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]AdvancedConstraints, len(t.applied))
	copy(out, t.applied)
	return out
}

// Settings は設定を返す
func (t *MockTrack) Settings() TrackSettings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings
}

// MockSurface はテスト用の描画面
// AutoReady が有効なら Attach 時にトラックの解像度を報告する
type MockSurface struct {
	mu        sync.Mutex
	autoReady bool
	source    Stream
	width     int
	height    int
	ready     ReadyState
	frame     image.Image
	frameErr  error
	attachErr error
	subs      map[int]chan SurfaceEvent
	nextSub   int
	detaches  int
	reloads   int
}

// NewMockSurface は Attach 時に自動でサイズを報告する MockSurface を作成する
func NewMockSurface() *MockSurface {
	return &MockSurface{autoReady: true, subs: make(map[int]chan SurfaceEvent)}
}

// NewSilentMockSurface はサイズもイベントも報告しない MockSurface を作成する
func NewSilentMockSurface() *MockSurface {
	return &MockSurface{subs: make(map[int]chan SurfaceEvent)}
}

// SetDimensions は報告するサイズを設定する
func (s *MockSurface) SetDimensions(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width, s.height = width, height
	if width > 0 && height > 0 && s.ready < HaveMetadata {
		s.ready = HaveMetadata
	}
}

// SetReadyState は準備状態を設定する
func (s *MockSurface) SetReadyState(rs ReadyState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = rs
}

// SetFrame は Frame が返す画像を設定する
func (s *MockSurface) SetFrame(img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = img
}

// SetFrameError は Frame が返すエラーを設定する
func (s *MockSurface) SetFrameError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameErr = err
}

// SetAttachError は Attach が返すエラーを設定する
func (s *MockSurface) SetAttachError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachErr = err
}

// Emit は購読者にイベントを送る
func (s *MockSurface) Emit(ev SurfaceEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(ev)
}

func (s *MockSurface) emitLocked(ev SurfaceEvent) {
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Attach はストリームをソースに設定する
func (s *MockSurface) Attach(stream Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attachErr != nil {
		return s.attachErr
	}
	s.source = stream

	if s.autoReady && stream != nil {
		for _, t := range stream.VideoTracks() {
			st := t.Settings()
			if st.Width > 0 && st.Height > 0 {
				s.width, s.height = st.Width, st.Height
				s.ready = HaveEnoughData
				s.emitLocked(EventLoadedMetadata)
				break
			}
		}
	}
	return nil
}

// Detach はソースを外す
func (s *MockSurface) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = nil
	s.detaches++
}

// Reload はサイズと準備状態を初期化する
func (s *MockSurface) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloads++
	if s.source == nil {
		s.width, s.height = 0, 0
		s.ready = HaveNothing
	}
}

// Source は現在のソースを返す
func (s *MockSurface) Source() Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// Dimensions は報告されているサイズを返す
func (s *MockSurface) Dimensions() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// ReadyState は準備状態を返す
func (s *MockSurface) ReadyState() ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Subscribe はイベントを購読する
func (s *MockSurface) Subscribe() (<-chan SurfaceEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan SurfaceEvent, 4)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
		})
	}
}

// Subscribers は購読中の数を返す
func (s *MockSurface) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Frame は設定された画像を返す
func (s *MockSurface) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.frameErr
}

// Detaches は Detach が呼ばれた回数を返す
func (s *MockSurface) Detaches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detaches
}

// Reloads は Reload が呼ばれた回数を返す
func (s *MockSurface) Reloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloads
}
