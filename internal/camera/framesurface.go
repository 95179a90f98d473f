package camera

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"

	"facecam/internal/logging"
)

// FrameReader は映像フレームを順に読み出せるトラック
// 実デバイスのバックエンドは映像トラックにこれを実装する
type FrameReader interface {
	// ReadFrame は次のフレームを待って返す。トラック停止後は io.EOF を返す
	ReadFrame(ctx context.Context) (image.Image, error)
}

// FrameSurface は FrameReader から最新フレームを保持する描画面
// 最初のフレームを受け取った時点でサイズを報告し、イベントを送る
type FrameSurface struct {
	mu      sync.Mutex
	source  Stream
	cancel  context.CancelFunc
	gen     uint64
	frame   image.Image
	width   int
	height  int
	ready   ReadyState
	subs    map[int]chan SurfaceEvent
	nextSub int
}

// NewFrameSurface は新しいFrameSurfaceを作成する
func NewFrameSurface() *FrameSurface {
	return &FrameSurface{subs: make(map[int]chan SurfaceEvent)}
}

// Attach はストリームの最初の映像トラックからフレームの読み出しを開始する
func (s *FrameSurface) Attach(stream Stream) error {
	if stream == nil {
		return errors.New("ストリームが nil です")
	}

	var reader FrameReader
	for _, t := range stream.VideoTracks() {
		if r, ok := t.(FrameReader); ok {
			reader = r
			break
		}
	}
	if reader == nil {
		return NewPlatformError(NameNotSupported, "フレームを読み出せるトラックがありません", nil)
	}

	s.mu.Lock()
	s.detachLocked()
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.source = stream
	gen := s.gen
	s.mu.Unlock()

	go s.readLoop(ctx, gen, reader)
	return nil
}

func (s *FrameSurface) readLoop(ctx context.Context, gen uint64, reader FrameReader) {
	log := logging.For("surface")
	for {
		img, err := reader.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				log.WithError(err).Debug("フレームの読み出しを終了")
			}
			return
		}
		if img == nil {
			continue
		}

		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		first := s.frame == nil
		s.frame = img
		b := img.Bounds()
		s.width, s.height = b.Dx(), b.Dy()
		if first {
			s.ready = HaveEnoughData
			s.emitLocked(EventLoadedMetadata)
			s.emitLocked(EventLoadedData)
			s.emitLocked(EventCanPlay)
		}
		s.mu.Unlock()
	}
}

// Detach はフレームの読み出しを止め、ソースを外す
func (s *FrameSurface) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked()
}

func (s *FrameSurface) detachLocked() {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.source = nil
}

// Reload はソースがなければ保持しているフレームとサイズを破棄する
func (s *FrameSurface) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source != nil {
		return
	}
	s.frame = nil
	s.width, s.height = 0, 0
	s.ready = HaveNothing
}

// Source は現在のソースを返す
func (s *FrameSurface) Source() Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// Dimensions は最新フレームのサイズを返す
func (s *FrameSurface) Dimensions() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// ReadyState は準備状態を返す
func (s *FrameSurface) ReadyState() ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Subscribe はイベントを購読する
func (s *FrameSurface) Subscribe() (<-chan SurfaceEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan SurfaceEvent, 3)
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

func (s *FrameSurface) emitLocked(ev SurfaceEvent) {
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Frame は最新フレームを返す。まだ届いていなければ nil
func (s *FrameSurface) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, nil
}
