package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	return buf.Bytes()
}

func TestCheckLocalFace(t *testing.T) {
	testCases := []struct {
		name    string
		data    []byte
		wantErr error
		ok      bool
	}{
		{"十分な大きさ", encodePNG(t, 101, 101), nil, true},
		{"ちょうど100x100", encodePNG(t, 100, 100), ErrImageTooSmall, false},
		{"幅だけ大きい", encodePNG(t, 640, 80), ErrImageTooSmall, false},
		{"画像ではない", []byte("not an image"), nil, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckLocalFace(tc.data)
			if tc.ok {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Expected error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("Expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestSimulated(t *testing.T) {
	ctx := context.Background()

	t.Run("常に成功", func(t *testing.T) {
		cfg := DefaultSimulatedConfig()
		cfg.Delay = 0
		cfg.SuccessRate = 1
		cfg.Seed = 42
		s := NewSimulated(cfg)

		det, err := s.DetectFace(ctx, nil)
		if err != nil {
			t.Fatalf("DetectFace failed: %v", err)
		}
		if !det.Success || det.FaceID == "" {
			t.Fatalf("Expected detection, got %+v", det)
		}
		if det.Confidence < 0.7 || det.Confidence > 1 {
			t.Errorf("Expected confidence in [0.7, 1], got %f", det.Confidence)
		}

		res, err := s.MatchFace(ctx, det.FaceID)
		if err != nil {
			t.Fatalf("MatchFace failed: %v", err)
		}
		if res.Success != (len(res.Matches) > 0) {
			t.Errorf("Expected success to reflect matches, got %+v", res)
		}
		for _, m := range res.Matches {
			if m.Similarity < 0.6 || m.Similarity > 1 {
				t.Errorf("unexpected similarity %f", m.Similarity)
			}
		}

		if _, err := s.MatchFace(ctx, "unknown"); !errors.Is(err, ErrUnknownFace) {
			t.Errorf("Expected ErrUnknownFace, got %v", err)
		}
	})

	t.Run("常に失敗", func(t *testing.T) {
		s := NewSimulated(SimulatedConfig{SuccessRate: 0, Seed: 1})
		det, err := s.DetectFace(ctx, nil)
		if err != nil || det.Success {
			t.Errorf("Expected unsuccessful detection, got %+v, %v", det, err)
		}
	})

	t.Run("待機中のキャンセル", func(t *testing.T) {
		s := NewSimulated(SimulatedConfig{Delay: time.Hour, SuccessRate: 1})
		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		if _, err := s.DetectFace(cctx, nil); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Expected deadline exceeded, got %v", err)
		}
	})
}

// scriptedRecognizer は決まった順に検出結果を返す
type scriptedRecognizer struct {
	detections []*Detection
	errs       []error
	calls      int
	matched    string
}

func (r *scriptedRecognizer) DetectFace(_ context.Context, _ []byte) (*Detection, error) {
	i := r.calls
	r.calls++
	if i < len(r.errs) && r.errs[i] != nil {
		return nil, r.errs[i]
	}
	return r.detections[i], nil
}

func (r *scriptedRecognizer) MatchFace(_ context.Context, faceID string) (*MatchResult, error) {
	r.matched = faceID
	return &MatchResult{Success: true, Matches: []Match{{PersonID: "p1", Similarity: 0.9}}}, nil
}

func TestIdentify(t *testing.T) {
	ctx := context.Background()
	img := encodePNG(t, 200, 200)
	opts := IdentifyOptions{Attempts: 3}

	t.Run("再試行の後に照合", func(t *testing.T) {
		r := &scriptedRecognizer{
			errs:       []error{errors.New("timeout"), nil, nil},
			detections: []*Detection{nil, {Success: false}, {Success: true, FaceID: "f1"}},
		}
		res, err := Identify(ctx, r, img, opts)
		if err != nil {
			t.Fatalf("Identify failed: %v", err)
		}
		if res.Attempts != 3 || r.matched != "f1" || res.Match == nil || !res.Match.Success {
			t.Errorf("unexpected result: %+v (matched %q)", res, r.matched)
		}
	})

	t.Run("顔なしは照合しない", func(t *testing.T) {
		r := &scriptedRecognizer{detections: []*Detection{{}, {}, {}}}
		res, err := Identify(ctx, r, img, opts)
		if err != nil {
			t.Fatalf("Identify failed: %v", err)
		}
		if res.Detection == nil || res.Detection.Success || res.Match != nil || r.matched != "" {
			t.Errorf("unexpected result: %+v", res)
		}
	})

	t.Run("全てエラー", func(t *testing.T) {
		boom := errors.New("service down")
		r := &scriptedRecognizer{errs: []error{boom, boom, boom}, detections: make([]*Detection, 3)}
		if _, err := Identify(ctx, r, img, opts); !errors.Is(err, boom) {
			t.Errorf("Expected last error, got %v", err)
		}
	})

	t.Run("小さい画像は送らない", func(t *testing.T) {
		r := &scriptedRecognizer{}
		if _, err := Identify(ctx, r, encodePNG(t, 50, 50), opts); !errors.Is(err, ErrImageTooSmall) {
			t.Errorf("Expected ErrImageTooSmall, got %v", err)
		}
		if r.calls != 0 {
			t.Error("Expected no detection call")
		}
	})
}

func TestGallery_Search(t *testing.T) {
	g := NewGallery()
	if err := g.Add("alice", "Alice", []float32{1, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := g.Add("alice", "Alice", []float32{0.9, 0.1, 0}); err != nil {
		t.Fatal(err)
	}
	if err := g.Add("bob", "Bob", []float32{0, 1, 0}); err != nil {
		t.Fatal(err)
	}
	if err := g.Add("carol", "Carol", []float32{1, 2}); err == nil {
		t.Error("Expected dimension mismatch error")
	}
	if g.People() != 2 {
		t.Errorf("Expected 2 people, got %d", g.People())
	}

	matches := g.Search([]float32{1, 0.05, 0}, 5, 0.5)
	if len(matches) != 1 {
		t.Fatalf("Expected only alice within distance, got %+v", matches)
	}
	if matches[0].PersonID != "alice" || matches[0].Similarity < 0.99 {
		t.Errorf("unexpected match: %+v", matches[0])
	}

	if got := NewGallery().Search([]float32{1, 0, 0}, 5, 0.5); got != nil {
		t.Errorf("Expected no matches from empty gallery, got %v", got)
	}
}

func TestEmbeddingRecognizer(t *testing.T) {
	embeddings := map[string][]float32{
		"enroll": {1, 0, 0},
		"query":  {0.95, 0.05, 0},
	}
	var lastContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		lastContentType = header.Header.Get("Content-Type")
		data, _ := io.ReadAll(file)

		// 画像の高さで返す顔を切り替える
		cfg, _, _ := image.DecodeConfig(bytes.NewReader(data))
		resp := FaceResponse{Model: "test"}
		switch cfg.Height {
		case 201:
			resp.Faces = []FaceDetection{{Embedding: embeddings["enroll"], DetScore: 0.99}}
		case 202:
			resp.Faces = []FaceDetection{
				{FaceIndex: 0, Embedding: []float32{0, 0, 1}, DetScore: 0.5},
				{FaceIndex: 1, Embedding: embeddings["query"], DetScore: 0.95, BBox: []float64{1, 2, 3, 4}},
			}
		}
		resp.FacesCount = len(resp.Faces)
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	ctx := context.Background()
	r := NewEmbeddingRecognizer(NewEmbeddingClient(srv.URL+"/", 5*time.Second), nil, EmbeddingConfig{})

	if err := r.Enroll(ctx, "alice", "Alice", encodePNG(t, 200, 201)); err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if lastContentType != "image/png" {
		t.Errorf("Expected image/png part, got %q", lastContentType)
	}

	det, err := r.DetectFace(ctx, encodePNG(t, 200, 202))
	if err != nil {
		t.Fatalf("DetectFace failed: %v", err)
	}
	if !det.Success || det.Confidence != 0.95 || len(det.BBox) != 4 {
		t.Fatalf("Expected the highest scoring face, got %+v", det)
	}

	res, err := r.MatchFace(ctx, det.FaceID)
	if err != nil {
		t.Fatalf("MatchFace failed: %v", err)
	}
	if !res.Success || res.Matches[0].PersonID != "alice" {
		t.Errorf("Expected alice, got %+v", res)
	}

	none, err := r.DetectFace(ctx, encodePNG(t, 200, 200))
	if err != nil || none.Success {
		t.Errorf("Expected no face, got %+v, %v", none, err)
	}
	if err := r.Enroll(ctx, "bob", "Bob", encodePNG(t, 200, 200)); !errors.Is(err, ErrNoFace) {
		t.Errorf("Expected ErrNoFace, got %v", err)
	}
}

func TestEmbeddingClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewEmbeddingClient(srv.URL, time.Second).FaceEmbeddings(context.Background(), []byte{0xFF, 0xD8, 0xFF})
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("Expected status in error, got %v", err)
	}
}

func TestDetectMIMEType(t *testing.T) {
	testCases := map[string][]byte{
		"image/jpeg":               {0xFF, 0xD8, 0xFF, 0xE0},
		"image/png":                {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
		"image/webp":               []byte("RIFF\x00\x00\x00\x00WEBPVP8 "),
		"application/octet-stream": []byte("hello"),
	}
	for want, data := range testCases {
		if got := detectMIMEType(data); got != want {
			t.Errorf("Expected %s, got %s", want, got)
		}
	}
}
