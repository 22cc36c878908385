package sources

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/h2non/filetype"

	"github.com/depotgrab/depotgrab/internal/keydata"
	"github.com/depotgrab/depotgrab/internal/utils"
)

const defaultBundleBaseURL = "https://kernelosgithub.onrender.com"

// BundleClient talks to the zip-bundle source: it resolves a signed download
// URL for an app, fetches the archive, and mines it for credential files.
type BundleClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewBundleClient builds a client against the default endpoint.
func NewBundleClient(httpClient *http.Client) *BundleClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &BundleClient{
		BaseURL:    defaultBundleBaseURL,
		HTTPClient: httpClient,
	}
}

// BundleResult lists the extracted files and every depot credential parsed
// from the archive's .lua and .st members.
type BundleResult struct {
	Files     []string            `json:"files"`
	TargetDir string              `json:"targetDir"`
	Depots    []keydata.DepotInfo `json:"depots"`
}

// FetchBundle downloads the app's bundle and extracts .lua, .st and
// .manifest members into a per-app directory under outputDir.
func (c *BundleClient) FetchBundle(ctx context.Context, appID string, outputDir string) (BundleResult, error) {
	signedURL, err := c.resolveSignedURL(ctx, appID)
	if err != nil {
		return BundleResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signedURL, nil)
	if err != nil {
		return BundleResult{}, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return BundleResult{}, fmt.Errorf("bundle download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return BundleResult{}, fmt.Errorf("bundle download: %s", resp.Status)
	}

	archive, err := io.ReadAll(resp.Body)
	if err != nil {
		return BundleResult{}, fmt.Errorf("read bundle: %w", err)
	}

	// Servers occasionally return an HTML error page with a 200; check the
	// magic bytes before trusting the payload.
	if !filetype.IsArchive(archive) {
		return BundleResult{}, fmt.Errorf("bundle for app %s is not an archive", appID)
	}

	targetDir := filepath.Join(outputDir, "bundle_"+appID)
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return BundleResult{}, fmt.Errorf("create bundle directory: %w", err)
	}

	files, err := extractBundle(archive, targetDir)
	if err != nil {
		return BundleResult{}, err
	}

	result := BundleResult{TargetDir: targetDir}
	for _, path := range files {
		result.Files = append(result.Files, path)

		switch strings.ToLower(filepath.Ext(path)) {
		case ".lua":
			content, err := os.ReadFile(path)
			if err != nil {
				utils.Debug("bundle: read %s: %v", path, err)
				continue
			}
			result.Depots = append(result.Depots, keydata.ParseLua(string(content)).Depots...)
		case ".st":
			content, err := os.ReadFile(path)
			if err != nil {
				utils.Debug("bundle: read %s: %v", path, err)
				continue
			}
			parsed, err := keydata.ParseST(content)
			if err != nil {
				utils.Debug("bundle: parse %s: %v", path, err)
				continue
			}
			result.Depots = append(result.Depots, parsed.Depots...)
		}
	}

	return result, nil
}

func (c *BundleClient) resolveSignedURL(ctx context.Context, appID string) (string, error) {
	url := fmt.Sprintf("%s/get_signed_url/%s", c.BaseURL, appID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("bundle source request: %w", err)
	}
	defer resp.Body.Close()

	var data struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("decode bundle source response: %w", err)
	}
	if data.URL == "" {
		return "", fmt.Errorf("bundle source returned no download URL for app %s", appID)
	}
	if strings.HasPrefix(data.URL, "/") {
		return c.BaseURL + data.URL, nil
	}
	return data.URL, nil
}

// extractBundle writes .lua, .st and .manifest members flat into targetDir
// and returns the written paths.
func extractBundle(archive []byte, targetDir string) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("open bundle archive: %w", err)
	}

	var written []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}

		switch strings.ToLower(filepath.Ext(f.Name)) {
		case ".lua", ".st", ".manifest":
		default:
			continue
		}

		// Flatten: members are written by base name to avoid archive path
		// traversal.
		outPath := filepath.Join(targetDir, filepath.Base(f.Name))

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("read bundle member %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read bundle member %s: %w", f.Name, err)
		}

		if err := os.WriteFile(outPath, data, 0644); err != nil {
			return nil, fmt.Errorf("write bundle member: %w", err)
		}
		written = append(written, outPath)
	}

	return written, nil
}
