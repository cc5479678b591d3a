// Package extractor talks to the face embedding server that turns an image
// into a 128-dimensional face descriptor.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"golang.org/x/time/rate"
)

const (
	defaultURL     = "http://localhost:8000"
	defaultTimeout = 30 * time.Second
	facePath       = "/embed/face"
)

// Extractor produces a face embedding from an encoded image. ok is false when
// the image contains no face; that is not an error.
type Extractor interface {
	ExtractEmbedding(ctx context.Context, image []byte) (e embedding.Embedding, ok bool, err error)
}

// FaceDetection is a single face returned by the server.
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse is the body of a face embedding response.
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Client is an HTTP Extractor.
type Client struct {
	baseURL      string
	maxImageSize int
	limiter      *rate.Limiter
	client       *http.Client
}

// NewClient creates a client from config. A rate limit of 0 disables limiting.
func NewClient(cfg config.ExtractorConfig) *Client {
	baseURL := cfg.URL
	if baseURL == "" {
		baseURL = defaultURL
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, int(cfg.RateLimit)))
	}
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		maxImageSize: cfg.MaxImageSize,
		limiter:      limiter,
		client:       &http.Client{Timeout: defaultTimeout},
	}
}

// ExtractEmbedding detects faces and returns the descriptor of the most
// confident one.
func (c *Client) ExtractEmbedding(ctx context.Context, image []byte) (embedding.Embedding, bool, error) {
	if len(image) == 0 {
		return nil, false, nil
	}

	data := image
	if c.maxImageSize > 0 {
		scaled, err := Downscale(image, c.maxImageSize)
		if err != nil {
			return nil, false, err
		}
		data = scaled
	}

	resp, err := c.DetectFaces(ctx, data)
	if err != nil {
		return nil, false, err
	}

	best := -1
	for i, f := range resp.Faces {
		if len(f.Embedding) == 0 {
			continue
		}
		if best < 0 || f.DetScore > resp.Faces[best].DetScore {
			best = i
		}
	}
	if best < 0 {
		return nil, false, nil
	}

	e := embedding.Embedding(resp.Faces[best].Embedding)
	if err := e.Validate(); err != nil {
		return nil, false, fmt.Errorf("extractor returned unusable embedding: %w", err)
	}
	return e, true, nil
}

// DetectFaces posts the image and returns every detected face.
func (c *Client) DetectFaces(ctx context.Context, image []byte) (*FaceResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := c.postMultipartImage(ctx, facePath, image)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &faceResp, nil
}

// Ping checks that the server answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("extractor unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

// postMultipartImage posts imageData as the "file" form field of a multipart request.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", http.DetectContentType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}
