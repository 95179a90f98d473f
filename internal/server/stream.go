package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"facecam/internal/camera"
)

// previewQuality はプレビュー用のJPEG品質
const previewQuality = 75

// handleEvents はセッション状態を Server-Sent Events で配信する
// 接続直後に現在の状態を1件送る
func (s *Server) handleEvents(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}

	states, unsubscribe := sess.Subscribe(8)
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case st, ok := <-states:
			if !ok {
				// セッションが終了した
				return false
			}
			c.SSEvent("state", st)
			return true
		}
	})
}

// handleStream はMJPEGストリーミングエンドポイント
// セッションが ready の間、描画面のフレームを配信する
func (s *Server) handleStream(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	if sess.State().Status != camera.StatusReady {
		s.writeError(c, camera.ErrNotReady)
		return
	}

	// レスポンスヘッダーを設定
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")

	// レスポンスライターを取得
	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	fps := s.config.Camera.FrameRate
	if fps <= 0 {
		fps = 15
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	// クライアント切断を検知するためのコンテキスト
	clientGone := c.Request.Context().Done()
	opts := camera.CaptureOptions{Format: camera.FormatJPEG, Quality: previewQuality}

	// ストリーミングループ
	for {
		select {
		case <-clientGone:
			return

		case <-ticker.C:
			st := sess.State()
			if st.Status != camera.StatusReady {
				// 停止・切り替え・エラーで配信を終える
				return
			}

			frame, err := camera.Capture(sess.Surface(), st.FacingMode, opts)
			if err != nil {
				continue
			}

			if err := writeMJPEGPart(writer, frame.Data); err != nil {
				return
			}

			// バッファをフラッシュ
			flusher.Flush()
		}
	}
}

// writeMJPEGPart はMJPEGの1フレームを書き込む
func writeMJPEGPart(w io.Writer, jpegData []byte) error {
	if _, err := io.WriteString(w, "--frame\r\nContent-Type: image/jpeg\r\n\r\n"); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}
