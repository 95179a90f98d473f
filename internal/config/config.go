package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"facecam/internal/camera"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Camera      CameraConfig      `yaml:"camera"`
	Capture     CaptureConfig     `yaml:"capture"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Log         LogConfig         `yaml:"log"`
	Locale      string            `yaml:"locale"` // "ja" または "en"
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // 読み込みタイムアウト
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // 書き込みタイムアウト
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // 終了待ちの上限
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Platform    string   `yaml:"platform"` // v4l2, mediadevices, gocv, fake
	Devices     []string `yaml:"devices"`  // 空なら自動検出
	Display     string   `yaml:"display"`  // X11画面キャプチャ（例: ":0.0"）
	FFmpegPath  string   `yaml:"ffmpeg_path"`
	V4L2CtlPath string   `yaml:"v4l2ctl_path"`
	FrameRate   int      `yaml:"frame_rate"`
	MaxDevices  int      `yaml:"max_devices"` // gocv のみ

	// fake のみ: 最初の N 回の取得を FakeFailName のエラーで失敗させる
	FakeFailFirst int    `yaml:"fake_fail_first"`
	FakeFailName  string `yaml:"fake_fail_name"`

	DefaultFacing string `yaml:"default_facing"` // front または rear
	PlatformKind  string `yaml:"platform_kind"`  // desktop, ios, android
	MaxRetries    int    `yaml:"max_retries"`

	AttemptDelay      time.Duration `yaml:"attempt_delay"`
	AcquireTimeout    time.Duration `yaml:"acquire_timeout"`
	ReadyTimeout      time.Duration `yaml:"ready_timeout"`
	ReadyPollInterval time.Duration `yaml:"ready_poll_interval"`

	// デバイス再検出
	ScanInterval  time.Duration `yaml:"scan_interval"`
	AutoDiscovery bool          `yaml:"auto_discovery"`
}

// CaptureConfig は静止画キャプチャの設定
type CaptureConfig struct {
	Format  string              `yaml:"format"`  // jpeg または png
	Quality int                 `yaml:"quality"` // JPEG品質 1-100
	Enhance *camera.Enhancement `yaml:"enhance"` // 省略時は補正なし
}

// RecognitionConfig は顔認識の設定
type RecognitionConfig struct {
	Provider string `yaml:"provider"` // simulated, embedding, none

	// embedding
	EmbeddingURL string        `yaml:"embedding_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxDistance  float64       `yaml:"max_distance"`
	TopK         int           `yaml:"top_k"`

	// simulated
	SimulatedDelay       time.Duration `yaml:"simulated_delay"`
	SimulatedSuccessRate float64       `yaml:"simulated_success_rate"`

	IdentifyAttempts int           `yaml:"identify_attempts"`
	IdentifyBackoff  time.Duration `yaml:"identify_backoff"`
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text または json
}

// 認識プロバイダー
const (
	ProviderSimulated = "simulated"
	ProviderEmbedding = "embedding"
	ProviderNone      = "none"
)

// Default はデフォルト値の設定を返す
func Default() *Config {
	session := camera.DefaultSessionConfig()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0, // ストリーミング用にタイムアウト無効化
			ShutdownTimeout: 10 * time.Second,
		},
		Camera: CameraConfig{
			Platform:          "v4l2",
			Devices:           []string{},
			FFmpegPath:        "ffmpeg",
			V4L2CtlPath:       "v4l2-ctl",
			FrameRate:         15,
			MaxDevices:        4,
			DefaultFacing:     string(session.DefaultFacing),
			PlatformKind:      string(session.Acquirer.PlatformKind),
			MaxRetries:        session.MaxRetries,
			AttemptDelay:      session.Acquirer.AttemptDelay,
			AcquireTimeout:    session.Acquirer.Timeout,
			ReadyTimeout:      session.ReadyTimeout,
			ReadyPollInterval: session.ReadyPollInterval,
			ScanInterval:      camera.DefaultScanInterval,
			AutoDiscovery:     true,
		},
		Capture: CaptureConfig{
			Format:  session.Capture.Format,
			Quality: session.Capture.Quality,
		},
		Recognition: RecognitionConfig{
			Provider:             ProviderSimulated,
			EmbeddingURL:         "http://localhost:8000",
			Timeout:              30 * time.Second,
			MaxDistance:          0.5,
			TopK:                 5,
			SimulatedDelay:       1500 * time.Millisecond,
			SimulatedSuccessRate: 0.8,
			IdentifyAttempts:     3,
			IdentifyBackoff:      500 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Locale: "ja",
	}
}

// Load は設定を読み込む
// デフォルト値、YAMLファイル（path が空なら省略）、環境変数の順に上書きする
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() error {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)

	c.Camera.Platform = getEnvOrDefault("CAMERA_PLATFORM", c.Camera.Platform)
	if v := os.Getenv("CAMERA_DEVICES"); v != "" {
		c.Camera.Devices = splitList(v)
	}
	c.Camera.Display = getEnvOrDefault("CAMERA_DISPLAY", c.Camera.Display)
	c.Camera.FFmpegPath = getEnvOrDefault("FFMPEG_PATH", c.Camera.FFmpegPath)
	c.Camera.FrameRate = getEnvAsIntOrDefault("CAMERA_FRAME_RATE", c.Camera.FrameRate)
	c.Camera.DefaultFacing = getEnvOrDefault("CAMERA_DEFAULT_FACING", c.Camera.DefaultFacing)
	c.Camera.MaxRetries = getEnvAsIntOrDefault("CAMERA_MAX_RETRIES", c.Camera.MaxRetries)

	c.Recognition.Provider = getEnvOrDefault("RECOGNITION_PROVIDER", c.Recognition.Provider)
	c.Recognition.EmbeddingURL = getEnvOrDefault("EMBEDDING_URL", c.Recognition.EmbeddingURL)

	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnvOrDefault("LOG_FORMAT", c.Log.Format)
	c.Locale = getEnvOrDefault("LOCALE", c.Locale)

	var durationErrors []error
	for key, dst := range map[string]*time.Duration{
		"CAMERA_ACQUIRE_TIMEOUT": &c.Camera.AcquireTimeout,
		"CAMERA_READY_TIMEOUT":   &c.Camera.ReadyTimeout,
		"CAMERA_SCAN_INTERVAL":   &c.Camera.ScanInterval,
		"RECOGNITION_TIMEOUT":    &c.Recognition.Timeout,
	} {
		if err := getEnvAsDuration(key, dst); err != nil {
			durationErrors = append(durationErrors, err)
		}
	}
	return errors.Join(durationErrors...)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	// カメラ設定の検証
	if c.Camera.Platform == "" {
		return fmt.Errorf("カメラのプラットフォームが指定されていません")
	}
	if _, err := camera.ParseFacingMode(c.Camera.DefaultFacing); err != nil {
		return err
	}
	if c.Camera.MaxRetries < 0 {
		return fmt.Errorf("無効な再試行回数: %d", c.Camera.MaxRetries)
	}
	if c.Camera.FakeFailFirst < 0 {
		return fmt.Errorf("無効な失敗回数: %d", c.Camera.FakeFailFirst)
	}
	if c.Camera.FrameRate < 1 {
		return fmt.Errorf("無効なフレームレート: %d", c.Camera.FrameRate)
	}

	// キャプチャ設定の検証
	switch c.Capture.Format {
	case camera.FormatJPEG, camera.FormatPNG:
	default:
		return fmt.Errorf("無効な画像形式: %q", c.Capture.Format)
	}
	if c.Capture.Quality < 1 || c.Capture.Quality > 100 {
		return fmt.Errorf("無効なJPEG品質: %d", c.Capture.Quality)
	}
	if e := c.Capture.Enhance; e != nil && (e.Brightness <= 0 || e.Contrast <= 0) {
		return fmt.Errorf("無効な補正値: brightness=%v contrast=%v", e.Brightness, e.Contrast)
	}

	// 認識設定の検証
	switch c.Recognition.Provider {
	case ProviderSimulated, ProviderNone:
	case ProviderEmbedding:
		if c.Recognition.EmbeddingURL == "" {
			return fmt.Errorf("埋め込みサーバーのURLが指定されていません")
		}
	default:
		return fmt.Errorf("サポートされていない認識プロバイダー: %s", c.Recognition.Provider)
	}
	if r := c.Recognition.SimulatedSuccessRate; r < 0 || r > 1 {
		return fmt.Errorf("無効な成功率: %v", r)
	}

	switch c.Locale {
	case "ja", "en":
	default:
		return fmt.Errorf("サポートされていないロケール: %s", c.Locale)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SessionConfig はカメラセッションの設定に変換する
func (c *Config) SessionConfig() camera.SessionConfig {
	s := camera.DefaultSessionConfig()

	if facing, err := camera.ParseFacingMode(c.Camera.DefaultFacing); err == nil {
		s.DefaultFacing = facing
	}
	s.MaxRetries = c.Camera.MaxRetries
	if c.Camera.ReadyTimeout > 0 {
		s.ReadyTimeout = c.Camera.ReadyTimeout
	}
	if c.Camera.ReadyPollInterval > 0 {
		s.ReadyPollInterval = c.Camera.ReadyPollInterval
	}

	s.Acquirer.PlatformKind = camera.ParsePlatformKind(c.Camera.PlatformKind)
	s.Acquirer.AttemptDelay = c.Camera.AttemptDelay
	if c.Camera.AcquireTimeout > 0 {
		s.Acquirer.Timeout = c.Camera.AcquireTimeout
	}

	s.Capture = camera.CaptureOptions{
		Format:  c.Capture.Format,
		Quality: c.Capture.Quality,
		Enhance: c.Capture.Enhance,
	}
	return s
}

// ManagerConfig はセッションマネージャーの設定に変換する
func (c *Config) ManagerConfig() camera.ManagerConfig {
	return camera.ManagerConfig{
		Session:       c.SessionConfig(),
		ScanInterval:  c.Camera.ScanInterval,
		AutoDiscovery: c.Camera.AutoDiscovery,
		Locale:        camera.MatchLocale(c.Locale),
	}
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsDuration は環境変数を "5s" 形式の時間として dst に設定する
func getEnvAsDuration(key string, dst *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s の解析に失敗: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
