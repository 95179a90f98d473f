package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	platformID string
)

var rootCmd = &cobra.Command{
	Use:   "facecam",
	Short: "顔認識用のカメラ取得・キャプチャサービス",
	Long: `facecam はカメラの取得、映像の準備完了の検出、静止画のキャプチャを行い、
顔認識サービスへ画像を渡すためのサービスです。

取得に失敗した場合は制約を緩めながら順に再試行し、
エラーは種別ごとのメッセージに変換して通知します。`,
	SilenceUsage: true,
}

// Execute はルートコマンドを実行する
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "設定ファイル (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "ログレベル (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&platformID, "platform", "", "カメラのプラットフォーム (v4l2, mediadevices, gocv, fake)")
}

func initConfig() {
	// .env は任意
	_ = godotenv.Load()
}
