package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/vfaronov/httpheader"

	"github.com/depotgrab/depotgrab/internal/utils"
)

const userAgent = "depotgrab"

// logRetryAfter records the server-advertised backoff on a throttled response.
func logRetryAfter(resp *github.Response) {
	if resp == nil {
		return
	}
	if after, ok := retryAfter(resp.Header); ok {
		utils.Debug("rate limited, server asks to retry after %s", after)
	}
}

func retryAfter(h http.Header) (time.Duration, bool) {
	t := httpheader.RetryAfter(h)
	if t.IsZero() {
		return 0, false
	}
	d := time.Until(t)
	if d < 0 {
		d = 0
	}
	return d, true
}

// DownloadManifest fetches <depotId>_<manifestId>.manifest from a repo branch
// into outputDir and returns the written path. The branch is named after the
// app ID in all known repos.
func (c *RepoClient) DownloadManifest(ctx context.Context, appID, depotID, manifestID, repo string, outputDir string) (string, error) {
	filename := fmt.Sprintf("%s_%s.manifest", depotID, manifestID)
	url := fmt.Sprintf("%s/%s/%s/%s", c.rawBaseURL, repo, appID, filename)

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	body, err := c.fetchRaw(ctx, url, filename)
	if err != nil {
		return "", err
	}

	outputPath := filepath.Join(outputDir, filename)
	if err := os.WriteFile(outputPath, body, 0644); err != nil {
		return "", fmt.Errorf("write manifest file: %w", err)
	}
	return outputPath, nil
}

// DownloadTextFile fetches any text file from a repo branch via the raw host.
func (c *RepoClient) DownloadTextFile(ctx context.Context, repo, branch, filename string) (string, error) {
	url := fmt.Sprintf("%s/%s/%s/%s", c.rawBaseURL, repo, branch, filename)
	body, err := c.fetchRaw(ctx, url, filename)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *RepoClient) fetchRaw(ctx context.Context, url, name string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if after, ok := retryAfter(resp.Header); ok {
			utils.Debug("raw download throttled, retry after %s", after)
		}
		return nil, fmt.Errorf("download %s: %s", name, resp.Status)
	}

	return io.ReadAll(resp.Body)
}
