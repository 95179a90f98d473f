package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"facecam/internal/camera"
	"facecam/internal/recognition"
)

var (
	errRecognitionDisabled = errors.New("顔認識は無効です")
	errEnrollUnsupported   = errors.New("この認識プロバイダーは人物の登録に対応していません")
)

// errorStatus はエラーをHTTPステータスとエラーコードに変換する
func errorStatus(err error) (int, string) {
	var ce *camera.CameraError
	switch {
	case errors.Is(err, camera.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, camera.ErrRetryExhausted):
		return http.StatusTooManyRequests, "retry_exhausted"
	case errors.Is(err, camera.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, camera.ErrNotReady):
		return http.StatusConflict, "not_ready"
	case errors.Is(err, camera.ErrSessionClosed):
		return http.StatusConflict, "session_closed"
	case errors.Is(err, camera.ErrSuperseded):
		return http.StatusConflict, "superseded"
	case errors.As(err, &ce):
		switch ce.Kind {
		case camera.KindPermissionDenied:
			return http.StatusForbidden, string(ce.Kind)
		case camera.KindDeviceNotFound:
			return http.StatusNotFound, string(ce.Kind)
		case camera.KindDeviceBusy, camera.KindCaptureUnavailable:
			return http.StatusConflict, string(ce.Kind)
		default:
			return http.StatusInternalServerError, string(ce.Kind)
		}
	case errors.Is(err, recognition.ErrImageTooSmall):
		return http.StatusUnprocessableEntity, "image_too_small"
	case errors.Is(err, recognition.ErrNoFace):
		return http.StatusUnprocessableEntity, "no_face"
	case errors.Is(err, recognition.ErrUnknownFace):
		return http.StatusNotFound, "unknown_face"
	case errors.Is(err, errRecognitionDisabled), errors.Is(err, errEnrollUnsupported):
		return http.StatusNotImplemented, "not_implemented"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError はエラーレスポンスを書き込む
// 分類済みのエラーはユーザー向けメッセージを返す
func (s *Server) writeError(c *gin.Context, err error) {
	status, code := errorStatus(err)

	message := err.Error()
	var ce *camera.CameraError
	if errors.As(err, &ce) {
		message = ce.Message
	}

	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", c.FullPath()).Error("リクエストの処理に失敗")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now(),
	})
}
