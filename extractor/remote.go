package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// RemoteClient delegates feature extraction to an external analysis service.
type RemoteClient struct {
	serviceURL string
	client     *http.Client
}

// featureResponse is the JSON body returned by POST /features.
type featureResponse struct {
	Rhythm           any       `json:"rhythm"`
	Key              string    `json:"key"`
	Scale            string    `json:"scale"`
	KeyStrength      float64   `json:"key_strength"`
	HPCP             []float64 `json:"hpcp"`
	SpectralCentroid []float64 `json:"spectral_centroid"`
	Error            string    `json:"error,omitempty"`
}

// NewRemoteClient creates a client for the feature service at serviceURL.
func NewRemoteClient(serviceURL string, timeout time.Duration) *RemoteClient {
	if serviceURL == "" {
		serviceURL = "http://localhost:5001"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &RemoteClient{
		serviceURL: serviceURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// HealthCheck verifies the feature service is running
func (rc *RemoteClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rc.serviceURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := rc.client.Do(req)
	if err != nil {
		return fmt.Errorf("feature service not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feature service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// Extract uploads the file at path and decodes the returned features.
func (rc *RemoteClient) Extract(ctx context.Context, path string) (*RawFeatures, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to copy file data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rc.serviceURL+"/features", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := rc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feature request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("feature service returned status %d: %s", resp.StatusCode, string(bytes.TrimSpace(bodyBytes)))
	}

	var featResp featureResponse
	if err := json.NewDecoder(resp.Body).Decode(&featResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if featResp.Error != "" {
		return nil, errors.New(featResp.Error)
	}

	hpcp := featResp.HPCP
	if hpcp == nil {
		hpcp = []float64{}
	}

	return &RawFeatures{
		Rhythm:      featResp.Rhythm,
		Key:         featResp.Key,
		Scale:       featResp.Scale,
		KeyStrength: featResp.KeyStrength,
		HPCP:        hpcp,
		Centroids:   featResp.SpectralCentroid,
	}, nil
}
