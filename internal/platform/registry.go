// Package platform は設定名からカメラのプラットフォーム実装を作成する
package platform

import (
	"fmt"
	"sort"

	"facecam/internal/camera"
	"facecam/internal/platform/fake"
	"facecam/internal/platform/pion"
	"facecam/internal/platform/v4l2"
)

// プラットフォーム名
const (
	NameV4L2         = "v4l2"
	NameMediaDevices = "mediadevices"
	NameOpenCV       = "gocv"
	NameFake         = "fake"
)

// Options はプラットフォーム作成時の設定
type Options struct {
	Devices     []string // v4l2: 使うデバイスパス。空なら自動検出
	Display     string   // v4l2: X11画面キャプチャのディスプレイ
	FFmpegPath  string
	V4L2CtlPath string
	FrameRate   int
	MaxDevices  int // gocv: 列挙するデバイス番号の上限

	FakeFailFirst int
	FakeFailName  string
}

// Creator はプラットフォームの作成関数
type Creator func(opts Options) (camera.Platform, error)

// builtin は標準で登録される作成関数
var builtin = map[string]Creator{
	NameV4L2: func(opts Options) (camera.Platform, error) {
		return v4l2.New(v4l2.Config{
			Devices:     opts.Devices,
			Display:     opts.Display,
			FFmpegPath:  opts.FFmpegPath,
			V4L2CtlPath: opts.V4L2CtlPath,
			FrameRate:   opts.FrameRate,
		}), nil
	},
	NameMediaDevices: func(Options) (camera.Platform, error) {
		return pion.New(), nil
	},
	NameFake: func(opts Options) (camera.Platform, error) {
		return fake.New(fake.Config{
			FrameRate: opts.FrameRate,
			FailFirst: opts.FakeFailFirst,
			FailName:  opts.FakeFailName,
		}), nil
	},
}

// Registry はプラットフォーム名と作成関数の対応
type Registry struct {
	creators map[string]Creator
}

// NewRegistry は標準のプラットフォームを登録したRegistryを作成する
func NewRegistry() *Registry {
	r := &Registry{creators: make(map[string]Creator, len(builtin))}
	for name, c := range builtin {
		r.Register(name, c)
	}
	return r
}

// Register は作成関数を登録する
func (r *Registry) Register(name string, creator Creator) {
	r.creators[name] = creator
}

// Create はプラットフォームを作成する
func (r *Registry) Create(name string, opts Options) (camera.Platform, error) {
	creator, ok := r.creators[name]
	if !ok {
		return nil, fmt.Errorf("サポートされていないプラットフォーム: %s (利用可能: %v)", name, r.Names())
	}
	return creator(opts)
}

// Names は登録済みのプラットフォーム名をソートして返す
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.creators))
	for name := range r.creators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
