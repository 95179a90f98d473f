package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"facecam/internal/camera"
	"facecam/internal/recognition"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "カメラを起動して静止画を1枚保存",
	Long: `カメラを起動し、映像の準備ができたら静止画を1枚キャプチャして保存します。
出力ファイルの拡張子が .png の場合はPNG、それ以外はJPEGで保存します。`,
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().String("facing", "", "カメラの向き (front, rear)")
	captureCmd.Flags().StringP("out", "o", "capture.jpg", "出力ファイル")
	captureCmd.Flags().Bool("enhance", false, "暗所向けの明るさ・コントラスト補正")
	captureCmd.Flags().Bool("identify", false, "キャプチャした画像で顔認識を行う")
	captureCmd.Flags().Duration("timeout", 30*time.Second, "起動からキャプチャまでの上限時間")
}

func runCapture(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var facing camera.FacingMode
	if f := mustGetString(cmd, "facing"); f != "" {
		if facing, err = camera.ParseFacingMode(f); err != nil {
			return err
		}
	}

	out := mustGetString(cmd, "out")
	opts := cfg.SessionConfig().Capture
	if strings.EqualFold(filepath.Ext(out), ".png") {
		opts.Format = camera.FormatPNG
	} else {
		opts.Format = camera.FormatJPEG
	}
	if mustGetBool(cmd, "enhance") {
		e := camera.LowLightEnhancement()
		opts.Enhance = &e
	}

	p, err := newPlatform(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), mustGetDuration(cmd, "timeout"))
	defer cancel()

	locale := camera.MatchLocale(cfg.Locale)
	session := camera.NewSession(uuid.New().String(), p, cfg.SessionConfig(),
		camera.WithClassifier(camera.NewClassifier(camera.LogNotifier{}, locale)),
	)
	defer func() {
		_ = session.Close()
	}()

	if err := session.Start(ctx, facing); err != nil {
		return fmt.Errorf("カメラを起動できません: %w", err)
	}

	frame, err := session.Capture(ctx, &opts)
	if err != nil {
		return fmt.Errorf("キャプチャに失敗しました: %w", err)
	}
	if err := os.WriteFile(out, frame.Data, 0o644); err != nil {
		return fmt.Errorf("画像の保存に失敗しました: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s に保存しました (%dx%d, %s, %s)\n", out, frame.Width, frame.Height, frame.Format, frame.FacingMode)

	if !mustGetBool(cmd, "identify") {
		return nil
	}
	recognizer := newRecognizer(cfg)
	if recognizer == nil {
		return fmt.Errorf("顔認識が無効です (recognition.provider=%s)", cfg.Recognition.Provider)
	}
	result, err := recognition.Identify(ctx, recognizer, frame.Data, identifyOptions(cfg))
	if err != nil {
		return fmt.Errorf("顔認識に失敗しました: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
