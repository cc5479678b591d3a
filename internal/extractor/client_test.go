package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/embedding"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func vec(v float32) []float32 {
	e := make([]float32, embedding.Dim)
	for i := range e {
		e[i] = v
	}
	return e
}

// faceServer returns a server that answers /embed/face with resp and records
// the decoded upload dimensions.
func faceServer(t *testing.T, resp FaceResponse, status int, gotSize *image.Point) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("expected multipart file: %v", err)
		} else if gotSize != nil {
			img, _, err := image.Decode(file)
			if err != nil {
				t.Errorf("decode upload: %v", err)
			} else {
				*gotSize = img.Bounds().Size()
			}
			file.Close()
		}

		if status != http.StatusOK {
			http.Error(w, "boom", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(url string, maxSize int) *Client {
	return NewClient(config.ExtractorConfig{URL: url, MaxImageSize: maxSize})
}

func TestExtractEmbedding_PicksMostConfidentFace(t *testing.T) {
	server := faceServer(t, FaceResponse{
		FacesCount: 2,
		Faces: []FaceDetection{
			{FaceIndex: 0, Dim: embedding.Dim, Embedding: vec(0.1), DetScore: 0.71},
			{FaceIndex: 1, Dim: embedding.Dim, Embedding: vec(0.2), DetScore: 0.98},
		},
	}, http.StatusOK, nil)
	defer server.Close()

	e, ok, err := newTestClient(server.URL, 0).ExtractEmbedding(context.Background(), testPNG(t, 20, 20))
	if err != nil {
		t.Fatalf("ExtractEmbedding: %v", err)
	}
	if !ok {
		t.Fatal("expected a face")
	}
	if e[0] != 0.2 {
		t.Errorf("expected the most confident face, got component %f", e[0])
	}
}

func TestExtractEmbedding_NoFace(t *testing.T) {
	server := faceServer(t, FaceResponse{FacesCount: 0}, http.StatusOK, nil)
	defer server.Close()

	e, ok, err := newTestClient(server.URL, 0).ExtractEmbedding(context.Background(), testPNG(t, 10, 10))
	if err != nil {
		t.Fatalf("expected no error for an image without faces, got %v", err)
	}
	if ok || e != nil {
		t.Error("expected ok=false and nil embedding")
	}
}

func TestExtractEmbedding_EmptyImage(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1", 0)
	if _, ok, err := c.ExtractEmbedding(context.Background(), nil); ok || err != nil {
		t.Errorf("expected ok=false, err=nil; got ok=%v err=%v", ok, err)
	}
}

func TestExtractEmbedding_WrongDimension(t *testing.T) {
	server := faceServer(t, FaceResponse{
		FacesCount: 1,
		Faces:      []FaceDetection{{Dim: 512, Embedding: make([]float32, 512), DetScore: 0.9}},
	}, http.StatusOK, nil)
	defer server.Close()

	_, _, err := newTestClient(server.URL, 0).ExtractEmbedding(context.Background(), testPNG(t, 10, 10))
	if err == nil {
		t.Fatal("expected error for wrong-dimension embedding")
	}
}

func TestExtractEmbedding_ServerError(t *testing.T) {
	server := faceServer(t, FaceResponse{}, http.StatusInternalServerError, nil)
	defer server.Close()

	_, _, err := newTestClient(server.URL, 0).ExtractEmbedding(context.Background(), testPNG(t, 10, 10))
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("expected API error with status, got %v", err)
	}
}

func TestExtractEmbedding_DownscalesBeforeUpload(t *testing.T) {
	var got image.Point
	server := faceServer(t, FaceResponse{}, http.StatusOK, &got)
	defer server.Close()

	if _, _, err := newTestClient(server.URL, 50).ExtractEmbedding(context.Background(), testPNG(t, 200, 100)); err != nil {
		t.Fatalf("ExtractEmbedding: %v", err)
	}
	if got.X != 50 || got.Y != 25 {
		t.Errorf("expected upload of 50x25, got %dx%d", got.X, got.Y)
	}
}

func TestExtractEmbedding_UndecodableImage(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1", 100)
	if _, _, err := c.ExtractEmbedding(context.Background(), []byte("not an image")); err == nil {
		t.Error("expected decode error")
	}
}

func TestDownscale_KeepsSmallImages(t *testing.T) {
	out, err := Downscale(testPNG(t, 30, 40), 100)
	if err != nil {
		t.Fatalf("Downscale: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("expected JPEG output: %v", err)
	}
	if img.Bounds().Dx() != 30 || img.Bounds().Dy() != 40 {
		t.Errorf("expected size unchanged, got %v", img.Bounds())
	}
}

func TestDownscale_Portrait(t *testing.T) {
	out, err := Downscale(testPNG(t, 100, 400), 200)
	if err != nil {
		t.Fatalf("Downscale: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 50 || img.Bounds().Dy() != 200 {
		t.Errorf("expected 50x200, got %v", img.Bounds())
	}
}

func TestRateLimiterHonoursContext(t *testing.T) {
	c := NewClient(config.ExtractorConfig{URL: "http://127.0.0.1:1", RateLimit: 0.001})
	// Drain the single token.
	c.limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.DetectFaces(ctx, []byte{1}); err == nil {
		t.Error("expected error when the context is cancelled while rate limited")
	}
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	if err := newTestClient(server.URL, 0).Ping(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}
	if err := newTestClient(server.URL+"/nope", 0).Ping(context.Background()); err == nil {
		t.Error("expected error for non-200 health")
	}
}
