package camera

import (
	"context"
	"image"
)

// Platform はホスト側のメディアAPIを抽象化したインターフェース
// 実デバイス（V4L2, mediadevices, gocv）とテスト用フェイクを差し替えられる
type Platform interface {
	// EnumerateDevices はデバイスを列挙する
	EnumerateDevices(ctx context.Context) ([]DeviceDescriptor, error)

	// GetUserMedia は制約候補に従ってストリームを取得する
	// 失敗時は可能な限り *PlatformError を返す
	GetUserMedia(ctx context.Context, attempt ConstraintAttempt) (Stream, error)

	// NewSurface は映像描画面を作成する
	NewSurface() Surface
}

// TrackKind はトラックの種別
type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// TrackState はトラックの状態
type TrackState string

const (
	TrackLive  TrackState = "live"
	TrackEnded TrackState = "ended"
)

// Stream は取得済みのメディアストリーム
type Stream interface {
	ID() string
	Tracks() []Track
	VideoTracks() []Track
}

// Track はストリーム内の1トラック
type Track interface {
	ID() string
	Kind() TrackKind
	Label() string
	ReadyState() TrackState

	// Stop はトラックを停止しデバイスを解放する
	Stop() error

	// ApplyConstraints は追加の制約を適用する（未対応なら ErrConstraintNotSupported）
	ApplyConstraints(ctx context.Context, c AdvancedConstraints) error

	Settings() TrackSettings
}

// ReadyState は描画面の準備状態（HTMLMediaElement.readyState 相当）
type ReadyState int

const (
	HaveNothing ReadyState = iota
	HaveMetadata
	HaveCurrentData
	HaveFutureData
	HaveEnoughData
)

// SurfaceEvent は描画面から通知されるイベント
type SurfaceEvent string

const (
	EventLoadedMetadata SurfaceEvent = "loadedmetadata"
	EventLoadedData     SurfaceEvent = "loadeddata"
	EventCanPlay        SurfaceEvent = "canplay"
)

// Surface は映像を描画する面（video 要素相当）
// セッションは書き込むが寿命は所有しない
type Surface interface {
	// Attach はストリームをソースとして設定し再生を開始する
	Attach(stream Stream) error

	// Detach はソースを外す
	Detach()

	// Reload は古いフレームが残らないよう描画面を再読み込みする
	Reload()

	// Source は現在のソースを返す（未設定なら nil）
	Source() Stream

	// Dimensions は報告されている映像サイズを返す
	Dimensions() (width, height int)

	ReadyState() ReadyState

	// Subscribe はイベントを購読する。戻り値の関数で購読を解除する
	Subscribe() (<-chan SurfaceEvent, func())

	// Frame は現在表示中のフレームを返す。まだフレームがない場合は nil, nil
	Frame() (image.Image, error)
}
