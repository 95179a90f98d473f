package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"facecam/internal/camera"
	"facecam/internal/recognition"
)

// ErrorResponse はエラー時のレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse はシステム状態のレスポンス
type StatusResponse struct {
	Status     string     `json:"status"`
	Server     ServerInfo `json:"server"`
	Platform   string     `json:"platform"`
	Cameras    int        `json:"cameras"`
	Sessions   int        `json:"sessions"`
	LiveID     string     `json:"liveSessionId,omitempty"`
	Recognizer string     `json:"recognizer"`
	LastScan   time.Time  `json:"lastScan"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ServerInfo はサーバーのアドレス情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DevicesResponse はカメラ一覧のレスポンス
type DevicesResponse struct {
	Devices   []camera.DeviceDescriptor `json:"devices"`
	HasCamera bool                      `json:"hasCamera"`
}

// CaptureResponse はキャプチャ結果のレスポンス
type CaptureResponse struct {
	*camera.CapturedFrame
	DataURL string `json:"dataUrl"`
}

// createSessionRequest はセッション作成のリクエスト
type createSessionRequest struct {
	FacingMode   string `json:"facingMode"`
	PlatformKind string `json:"platformKind"` // 省略時は User-Agent から判定
}

// startRequest は起動のリクエスト
type startRequest struct {
	FacingMode string `json:"facingMode"`
}

// captureRequest はキャプチャのリクエスト。省略した項目は設定値
type captureRequest struct {
	Format   string              `json:"format"`
	Quality  int                 `json:"quality"`
	LowLight bool                `json:"lowLight"`
	Enhance  *camera.Enhancement `json:"enhance"`
}

// enrollRequest は人物登録のリクエスト
type enrollRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	Name      string `json:"name"`
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// handleStatus はシステム状態取得エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	resp := StatusResponse{
		Status: "running",
		Server: ServerInfo{
			Host: s.config.Server.Host,
			Port: s.config.Server.Port,
		},
		Platform:   s.config.Camera.Platform,
		Cameras:    len(s.manager.Devices()),
		Sessions:   len(s.manager.Sessions()),
		Recognizer: s.config.Recognition.Provider,
		LastScan:   s.manager.LastScan(),
		Timestamp:  time.Now(),
	}
	if live := s.manager.Live(); live != nil {
		resp.LiveID = live.ID()
	}
	if s.recognizer == nil {
		resp.Recognizer = "none"
	}
	c.JSON(http.StatusOK, resp)
}

// handleDevices はカメラ一覧取得エンドポイント
// ?refresh=1 で再検出する
func (s *Server) handleDevices(c *gin.Context) {
	var devices []camera.DeviceDescriptor
	if c.Query("refresh") == "1" {
		devices = s.manager.DiscoverDevices(c.Request.Context())
	} else {
		devices = s.manager.Devices()
	}
	c.JSON(http.StatusOK, DevicesResponse{Devices: devices, HasCamera: len(devices) > 0})
}

func (s *Server) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.manager.Sessions()})
}

// handleCreateSession はセッションを作成する。カメラはまだ起動しない
func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	opts := camera.SessionOptions{
		PlatformKind: camera.DetectPlatformKind(c.GetHeader("User-Agent")),
	}
	if req.PlatformKind != "" {
		opts.PlatformKind = camera.ParsePlatformKind(req.PlatformKind)
	}
	if req.FacingMode != "" {
		facing, err := camera.ParseFacingMode(req.FacingMode)
		if err != nil {
			badRequest(c, err)
			return
		}
		opts.FacingMode = facing
	}
	if accept := c.GetHeader("Accept-Language"); accept != "" {
		tag := camera.MatchLocale(accept)
		opts.Locale = &tag
	}

	sess := s.manager.CreateSession(opts)
	c.JSON(http.StatusCreated, sess.State())
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.State())
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if err := s.manager.RemoveSession(c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleStart はカメラを起動する
// ?async=1 の場合は取得を待たずに 202 を返す
func (s *Server) handleStart(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req startRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	var facing camera.FacingMode
	if req.FacingMode != "" {
		f, err := camera.ParseFacingMode(req.FacingMode)
		if err != nil {
			badRequest(c, err)
			return
		}
		facing = f
	}

	s.runAcquire(c, sess, func(ctx context.Context) error { return sess.Start(ctx, facing) })
}

func (s *Server) handleSwitch(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	s.runAcquire(c, sess, sess.SwitchCamera)
}

func (s *Server) handleRetry(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	s.runAcquire(c, sess, sess.Retry)
}

func (s *Server) handleStop(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	if err := sess.Stop(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.State())
}

// runAcquire は取得系の操作を実行する
// 取得はクライアントの切断では中断しない（停止・切り替えでのみ破棄される）
func (s *Server) runAcquire(c *gin.Context, sess *camera.Session, op func(ctx context.Context) error) {
	ctx := context.WithoutCancel(c.Request.Context())

	if c.Query("async") == "1" {
		go func() {
			if err := op(ctx); err != nil && !errors.Is(err, camera.ErrSuperseded) {
				s.log.WithError(err).WithField("session", sess.ID()).Debug("非同期の取得に失敗")
			}
		}()
		c.JSON(http.StatusAccepted, sess.State())
		return
	}

	if err := op(ctx); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.State())
}

// handleCapture は現在の映像を静止画として返す
// ?raw=1 の場合は画像そのものを返す
func (s *Server) handleCapture(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	opts, ok := s.captureOptions(c)
	if !ok {
		return
	}

	frame, err := sess.Capture(c.Request.Context(), opts)
	if err != nil {
		s.writeError(c, err)
		return
	}

	if c.Query("raw") == "1" {
		c.Header("X-Capture-Id", frame.ID)
		c.Data(http.StatusOK, frame.MIMEType(), frame.Data)
		return
	}
	c.JSON(http.StatusOK, CaptureResponse{CapturedFrame: frame, DataURL: frame.DataURL()})
}

// handleIdentify はキャプチャした画像で顔を認識する
func (s *Server) handleIdentify(c *gin.Context) {
	if s.recognizer == nil {
		s.writeError(c, errRecognitionDisabled)
		return
	}
	sess, ok := s.session(c)
	if !ok {
		return
	}

	frame, err := sess.Capture(c.Request.Context(), nil)
	if err != nil {
		s.writeError(c, err)
		return
	}

	opts := recognition.IdentifyOptions{
		Attempts: s.config.Recognition.IdentifyAttempts,
		Backoff:  s.config.Recognition.IdentifyBackoff,
	}
	result, err := recognition.Identify(c.Request.Context(), s.recognizer, frame.Data, opts)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"captureId": frame.ID,
		"result":    result,
	})
}

// handleEnroll はセッションの映像から人物を登録する
func (s *Server) handleEnroll(c *gin.Context) {
	enroller, ok := s.recognizer.(recognition.Enroller)
	if !ok {
		s.writeError(c, errEnrollUnsupported)
		return
	}
	var req enrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := s.manager.GetSession(req.SessionID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	frame, err := sess.Capture(c.Request.Context(), nil)
	if err != nil {
		s.writeError(c, err)
		return
	}

	personID := c.Param("id")
	if err := enroller.Enroll(c.Request.Context(), personID, req.Name, frame.Data); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"personId":  personID,
		"name":      req.Name,
		"captureId": frame.ID,
	})
}

// session はパスのIDからセッションを取得する。見つからなければ 404 を書き込む
func (s *Server) session(c *gin.Context) (*camera.Session, bool) {
	sess, err := s.manager.GetSession(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return nil, false
	}
	return sess, true
}

// captureOptions はリクエストからキャプチャオプションを作る
func (s *Server) captureOptions(c *gin.Context) (*camera.CaptureOptions, bool) {
	var req captureRequest
	if !bindOptionalJSON(c, &req) {
		return nil, false
	}

	opts := s.config.SessionConfig().Capture
	if req.Format != "" {
		switch req.Format {
		case camera.FormatJPEG, camera.FormatPNG:
			opts.Format = req.Format
		default:
			badRequest(c, errors.New("format は jpeg または png です"))
			return nil, false
		}
	}
	if req.Quality != 0 {
		opts.Quality = req.Quality
	}
	switch {
	case req.Enhance != nil:
		opts.Enhance = req.Enhance
	case req.LowLight:
		e := camera.LowLightEnhancement()
		opts.Enhance = &e
	}
	return &opts, true
}

// bindOptionalJSON は本文があればJSONとして読み込む
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return false
	}
	return true
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error:     "bad_request",
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}
