package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"facecam/internal/camera"
	"facecam/internal/logging"
	"facecam/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "HTTPサーバーを起動",
	Long: `カメラセッションを操作するHTTP APIを起動します。
SIGINT / SIGTERM を受け取るとセッションを終了してから停止します。`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
	serveCmd.Flags().Int("port", 0, "サーバーのポート (デフォルト: 8080)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// コマンドラインオプションで設定を上書き
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Server.Host = host
	}
	if port := mustGetInt(cmd, "port"); port != 0 {
		cfg.Server.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("設定の検証に失敗: %w", err)
	}

	p, err := newPlatform(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	manager := camera.NewManager(p, cfg.ManagerConfig(), camera.LogNotifier{})
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("カメラマネージャーの起動に失敗: %w", err)
	}

	log := logging.For("serve")
	log.WithFields(map[string]interface{}{
		"platform":   cfg.Camera.Platform,
		"cameras":    len(manager.Devices()),
		"recognizer": cfg.Recognition.Provider,
	}).Info("facecam を起動します")

	srv := server.New(cfg, manager, newRecognizer(cfg))
	return srv.Start(ctx)
}
