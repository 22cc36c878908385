package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const defaultHubBaseURL = "https://api.manifesthub1.filegear-sg.me"

// HubClient talks to the manifest-hosting API, which serves raw manifest
// files by depot and manifest ID.
type HubClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewHubClient builds a client against the default endpoint.
func NewHubClient(httpClient *http.Client, apiKey string) *HubClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &HubClient{
		BaseURL:    defaultHubBaseURL,
		APIKey:     apiKey,
		HTTPClient: httpClient,
	}
}

// DownloadManifest fetches the manifest file for a depot into outputDir and
// returns the written path.
//
// The endpoint serves binary manifests but reports errors as JSON bodies
// under a 200 in some deployments, so the content type is checked before the
// payload is trusted.
func (c *HubClient) DownloadManifest(ctx context.Context, depotID, manifestID, outputDir string) (string, error) {
	url := fmt.Sprintf("%s/manifest?apikey=%s&depotid=%s&manifestid=%s",
		c.BaseURL, c.APIKey, depotID, manifestID)

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("manifest hub request for depot %s: %w", depotID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read manifest hub response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("manifest hub error for depot %s: %s %s", depotID, resp.Status, strings.TrimSpace(string(body)))
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body, &e); err == nil {
			if e.Error != "" {
				return "", fmt.Errorf("manifest hub: %s", e.Error)
			}
			if e.Message != "" {
				return "", fmt.Errorf("manifest hub: %s", e.Message)
			}
		}
	}

	filename := fmt.Sprintf("%s_%s.manifest", depotID, manifestID)
	outputPath := filepath.Join(outputDir, filename)
	if err := os.WriteFile(outputPath, body, 0644); err != nil {
		return "", fmt.Errorf("write manifest file: %w", err)
	}

	return outputPath, nil
}
