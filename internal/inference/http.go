package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/banshee-data/carputer/internal/httputil"
)

// DefaultTimeout bounds a single prediction request.
const DefaultTimeout = 25 * time.Millisecond

type predictRequest struct {
	Image    []byte  `json:"image"` // PNG, base64 in JSON
	Odometer int64   `json:"odometer"`
	Velocity float64 `json:"velocity"`
}

type predictResponse struct {
	Steering *float64 `json:"steering"`
	Throttle *float64 `json:"throttle"`
}

// HTTPModel talks to a model server exposing POST /predict and GET /healthz.
// The server returns raw regressions centred on zero.
type HTTPModel struct {
	baseURL string
	client  httputil.HTTPClient
}

// NewHTTPModel returns a client for the model server at baseURL.
func NewHTTPModel(baseURL string, timeout time.Duration) *HTTPModel {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPModel{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// WithClient replaces the HTTP client. The client's own timeout then bounds
// each request.
func (m *HTTPModel) WithClient(c httputil.HTTPClient) *HTTPModel {
	m.client = c
	return m
}

// Ping returns ErrUnavailable unless /healthz answers 200.
func (m *HTTPModel) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: healthz returned %s", ErrUnavailable, resp.Status)
	}
	return nil
}

// Predict sends the preprocessed frame with the odometer and velocity inputs.
func (m *HTTPModel) Predict(ctx context.Context, frame image.Image, odometer int64, velocity float64) (float64, float64, error) {
	pngBytes, err := EncodePNG(Preprocess(frame))
	if err != nil {
		return 0, 0, err
	}
	body, err := json.Marshal(predictRequest{Image: pngBytes, Odometer: odometer, Velocity: velocity})
	if err != nil {
		return 0, 0, fmt.Errorf("marshal predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, 0, fmt.Errorf("predict: status %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, 0, fmt.Errorf("decode predict response: %w", err)
	}
	if out.Steering == nil || out.Throttle == nil {
		return 0, 0, fmt.Errorf("predict response missing steering or throttle")
	}
	return *out.Steering + Neutral, *out.Throttle + Neutral, nil
}
