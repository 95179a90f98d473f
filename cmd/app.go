package cmd

import (
	"fmt"

	"facecam/internal/camera"
	"facecam/internal/config"
	"facecam/internal/logging"
	"facecam/internal/platform"
	"facecam/internal/recognition"
)

// loadConfig は設定を読み込み、共通フラグで上書きしてロガーを設定する
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗しました: %w", err)
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if platformID != "" {
		cfg.Camera.Platform = platformID
	}

	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, nil); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newPlatform は設定のプラットフォームを作成する
func newPlatform(cfg *config.Config) (camera.Platform, error) {
	return platform.NewRegistry().Create(cfg.Camera.Platform, platform.Options{
		Devices:       cfg.Camera.Devices,
		Display:       cfg.Camera.Display,
		FFmpegPath:    cfg.Camera.FFmpegPath,
		V4L2CtlPath:   cfg.Camera.V4L2CtlPath,
		FrameRate:     cfg.Camera.FrameRate,
		MaxDevices:    cfg.Camera.MaxDevices,
		FakeFailFirst: cfg.Camera.FakeFailFirst,
		FakeFailName:  cfg.Camera.FakeFailName,
	})
}

// newRecognizer は設定の認識プロバイダーを作成する。無効なら nil
func newRecognizer(cfg *config.Config) recognition.Recognizer {
	rc := cfg.Recognition
	switch rc.Provider {
	case config.ProviderSimulated:
		sim := recognition.DefaultSimulatedConfig()
		sim.Delay = rc.SimulatedDelay
		sim.SuccessRate = rc.SimulatedSuccessRate
		return recognition.NewSimulated(sim)
	case config.ProviderEmbedding:
		client := recognition.NewEmbeddingClient(rc.EmbeddingURL, rc.Timeout)
		return recognition.NewEmbeddingRecognizer(client, nil, recognition.EmbeddingConfig{
			MaxDistance: rc.MaxDistance,
			TopK:        rc.TopK,
		})
	default:
		return nil
	}
}

// identifyOptions は設定から認識の再試行設定を作る
func identifyOptions(cfg *config.Config) recognition.IdentifyOptions {
	return recognition.IdentifyOptions{
		Attempts: cfg.Recognition.IdentifyAttempts,
		Backoff:  cfg.Recognition.IdentifyBackoff,
	}
}
