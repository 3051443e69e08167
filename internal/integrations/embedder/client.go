// Package embedder talks to the external face detection/embedding service.
// The model is a black box: one JPEG frame in, zero or more faces with
// fixed-length descriptors out.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"face-gate-go/config"
	"face-gate-go/internal/core/face"

	log "github.com/sirupsen/logrus"
)

var logFields = log.Fields{
	"component": "embedder",
}

// Client implements the HTTP contract of an InsightFace-style service.
type Client struct {
	cfg        config.EmbedderConfig
	httpClient *http.Client
}

type apiInfoResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Backend string `json:"backend"`
}

type apiDetectResponse struct {
	Status     string `json:"status"`
	FacesCount int    `json:"faces_count"`
	Faces      []struct {
		BoundingBox []int     `json:"bbox"`
		Confidence  float64   `json:"confidence"`
		Embedding   []float64 `json:"embedding"`
	} `json:"faces"`
	ProcessTime float64 `json:"process_time"`
}

// NewClient creates an embedder client from configuration.
func NewClient(cfg config.EmbedderConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Ping checks whether the embedding service is reachable.
func (c *Client) Ping(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/info", c.cfg.URL), nil)
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("embedding service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("embedding service returned status %d", resp.StatusCode)
	}

	var info apiInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return false, fmt.Errorf("failed to decode info response: %w", err)
	}
	return info.Status == "ok", nil
}

// Detect sends one JPEG frame and returns the detected faces with their
// embeddings. No ordering is guaranteed across multiple faces.
func (c *Client) Detect(ctx context.Context, frame []byte) ([]face.Detection, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(frame)); err != nil {
		return nil, fmt.Errorf("failed to copy frame data: %w", err)
	}
	if err := writer.WriteField("threshold", fmt.Sprintf("%f", c.cfg.DetProbThreshold)); err != nil {
		return nil, fmt.Errorf("failed to write threshold field: %w", err)
	}
	if err := writer.WriteField("extract_embedding", "true"); err != nil {
		return nil, fmt.Errorf("failed to write extract_embedding field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/detect", c.cfg.URL), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp apiDetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode detect response: %w", err)
	}
	if apiResp.Status != "ok" {
		return nil, fmt.Errorf("embedding service error: %s", apiResp.Status)
	}

	detections := make([]face.Detection, 0, len(apiResp.Faces))
	for _, f := range apiResp.Faces {
		det := face.Detection{
			Confidence: f.Confidence,
			Embedding:  face.Embedding(f.Embedding),
		}
		if len(f.BoundingBox) == 4 {
			copy(det.BoundingBox[:], f.BoundingBox)
		}
		detections = append(detections, det)
	}

	log.WithFields(logFields).Debugf("Detected %d face(s) in %.0f ms", apiResp.FacesCount, apiResp.ProcessTime*1000)
	return detections, nil
}
