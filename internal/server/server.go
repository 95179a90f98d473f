package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"facecam/internal/camera"
	"facecam/internal/config"
	"facecam/internal/logging"
	"facecam/internal/recognition"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	manager    *camera.Manager
	recognizer recognition.Recognizer // nil なら認識APIは無効
	httpServer *http.Server
	router     *gin.Engine
	log        *logrus.Entry
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, manager *camera.Manager, recognizer recognition.Recognizer) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		config:     cfg,
		manager:    manager,
		recognizer: recognizer,
		router:     router,
		log:        logging.For("server"),
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
	s.setupRoutes()
	return s
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery(), s.requestLogger(), localeMiddleware())

	// ヘルスチェックエンドポイント
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/devices", s.handleDevices)

	sessions := api.Group("/sessions")
	sessions.GET("", s.handleListSessions)
	sessions.POST("", s.handleCreateSession)
	sessions.GET("/:id", s.handleGetSession)
	sessions.DELETE("/:id", s.handleDeleteSession)
	sessions.POST("/:id/start", s.handleStart)
	sessions.POST("/:id/switch", s.handleSwitch)
	sessions.POST("/:id/stop", s.handleStop)
	sessions.POST("/:id/retry", s.handleRetry)
	sessions.POST("/:id/capture", s.handleCapture)
	sessions.POST("/:id/identify", s.handleIdentify)
	sessions.GET("/:id/events", s.handleEvents)
	sessions.GET("/:id/stream", s.handleStream)

	api.POST("/people/:id/enroll", s.handleEnroll)
}

// requestLogger はリクエストをログに記録するミドルウェア
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("リクエスト")
	}
}

// localeMiddleware は Accept-Language からメッセージの言語を決める
func localeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if accept := c.GetHeader("Accept-Language"); accept != "" {
			ctx := camera.WithLocale(c.Request.Context(), camera.MatchLocale(accept))
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

// Start はサーバーを起動する
// ctx のキャンセルかシグナルの受信でグレースフルにシャットダウンする
func (s *Server) Start(ctx context.Context) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.log.WithField("addr", s.config.ServerAddress()).Info("HTTPサーバーを起動しています")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		s.log.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.log.WithField("signal", sig).Info("シグナルを受信しました")
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンし、全セッションを終了する
func (s *Server) Shutdown() error {
	s.log.Info("サーバーをシャットダウンしています...")

	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// ストリーミング中の接続はセッション終了で切れる
	var errs []error
	if err := s.manager.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("サーバーのシャットダウンに失敗: %w", err))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	s.log.Info("サーバーが正常にシャットダウンされました")
	return nil
}
