package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultEmbeddingURL = "http://localhost:8000"

	// DefaultMaxDistance はこのコサイン距離以下を同一人物候補とする
	DefaultMaxDistance = 0.5

	// DefaultTopK は照合で返す最大人数
	DefaultTopK = 5

	// maxPendingFaces は照合待ちとして保持する顔の上限
	maxPendingFaces = 256
)

// FaceDetection は埋め込みサーバーが返す1つの顔
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse は /embed/face のレスポンス
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// EmbeddingClient は顔埋め込みサーバーのクライアント
type EmbeddingClient struct {
	baseURL string
	client  *http.Client
}

// NewEmbeddingClient は新しいEmbeddingClientを作成する
func NewEmbeddingClient(baseURL string, timeout time.Duration) *EmbeddingClient {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	return &EmbeddingClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// FaceEmbeddings は画像内の顔を検出して埋め込みを計算する
func (c *EmbeddingClient) FaceEmbeddings(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", imageData)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("レスポンスの解析に失敗: %w", err)
	}
	return &faceResp, nil
}

// postMultipartImage は画像を multipart で送信してレスポンス本文を返す
func (c *EmbeddingClient) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="capture.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("フォームの作成に失敗: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("画像データの書き込みに失敗: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("multipartの終了に失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("リクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("リクエストに失敗: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスの読み込みに失敗: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("APIエラー (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// detectMIMEType はマジックバイトから画像形式を判定する
func detectMIMEType(data []byte) string {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	case len(data) >= 4 && data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47:
		return "image/png"
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "image/webp"
	}
	return "application/octet-stream"
}

// EmbeddingConfig は EmbeddingRecognizer の設定
type EmbeddingConfig struct {
	MaxDistance float64
	TopK        int
}

// EmbeddingRecognizer は顔埋め込みとギャラリーの近傍探索で照合する Recognizer
type EmbeddingRecognizer struct {
	client  *EmbeddingClient
	gallery *Gallery
	cfg     EmbeddingConfig

	mu      sync.Mutex
	pending map[string][]float32
	order   []string
}

var (
	_ Recognizer = (*EmbeddingRecognizer)(nil)
	_ Enroller   = (*EmbeddingRecognizer)(nil)
)

// NewEmbeddingRecognizer は新しいEmbeddingRecognizerを作成する
func NewEmbeddingRecognizer(client *EmbeddingClient, gallery *Gallery, cfg EmbeddingConfig) *EmbeddingRecognizer {
	if cfg.MaxDistance <= 0 {
		cfg.MaxDistance = DefaultMaxDistance
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if gallery == nil {
		gallery = NewGallery()
	}
	return &EmbeddingRecognizer{
		client:  client,
		gallery: gallery,
		cfg:     cfg,
		pending: make(map[string][]float32),
	}
}

// Gallery は登録済みの人物のギャラリーを返す
func (r *EmbeddingRecognizer) Gallery() *Gallery {
	return r.gallery
}

// DetectFace は検出スコアが最も高い顔を照合待ちとして保持する
func (r *EmbeddingRecognizer) DetectFace(ctx context.Context, image []byte) (*Detection, error) {
	face, err := r.bestFace(ctx, image)
	if err != nil {
		if errors.Is(err, ErrNoFace) {
			return &Detection{Success: false}, nil
		}
		return nil, err
	}

	id := uuid.New().String()
	r.mu.Lock()
	r.pending[id] = face.Embedding
	r.order = append(r.order, id)
	for len(r.order) > maxPendingFaces {
		delete(r.pending, r.order[0])
		r.order = r.order[1:]
	}
	r.mu.Unlock()

	return &Detection{
		Success:    true,
		FaceID:     id,
		Confidence: face.DetScore,
		BBox:       face.BBox,
	}, nil
}

// MatchFace は保持している埋め込みでギャラリーを検索する
func (r *EmbeddingRecognizer) MatchFace(_ context.Context, faceID string) (*MatchResult, error) {
	r.mu.Lock()
	embedding, ok := r.pending[faceID]
	r.mu.Unlock()
	if !ok {
		return nil, ErrUnknownFace
	}

	matches := r.gallery.Search(embedding, r.cfg.TopK, r.cfg.MaxDistance)
	return &MatchResult{Success: len(matches) > 0, Matches: matches}, nil
}

// Enroll は画像の顔を人物としてギャラリーに登録する
func (r *EmbeddingRecognizer) Enroll(ctx context.Context, personID, name string, image []byte) error {
	if err := CheckLocalFace(image); err != nil {
		return err
	}
	face, err := r.bestFace(ctx, image)
	if err != nil {
		return err
	}
	return r.gallery.Add(personID, name, face.Embedding)
}

func (r *EmbeddingRecognizer) bestFace(ctx context.Context, image []byte) (*FaceDetection, error) {
	resp, err := r.client.FaceEmbeddings(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("顔埋め込みの取得に失敗: %w", err)
	}

	var best *FaceDetection
	for i := range resp.Faces {
		f := &resp.Faces[i]
		if len(f.Embedding) == 0 {
			continue
		}
		if best == nil || f.DetScore > best.DetScore {
			best = f
		}
	}
	if best == nil {
		return nil, ErrNoFace
	}
	return best, nil
}
