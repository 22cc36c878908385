package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/depotgrab/depotgrab/internal/utils"
)

const defaultStoreBaseURL = "https://store.steampowered.com"

// GameInfo is the subset of store metadata the pipeline needs.
type GameInfo struct {
	Name        string `json:"name"`
	HeaderImage string `json:"headerImage,omitempty"`
}

// StoreClient looks up app metadata (name, artwork) with a process-lifetime
// in-memory cache, used for download folder naming.
type StoreClient struct {
	BaseURL    string
	HTTPClient *http.Client

	mu    sync.Mutex
	cache map[string]*GameInfo
}

// NewStoreClient builds a client against the default endpoint.
func NewStoreClient(httpClient *http.Client) *StoreClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &StoreClient{
		BaseURL:    defaultStoreBaseURL,
		HTTPClient: httpClient,
		cache:      make(map[string]*GameInfo),
	}
}

// GetGameInfo returns metadata for an app, or nil if the store has none.
// Results, including misses, are cached for the process lifetime.
func (c *StoreClient) GetGameInfo(ctx context.Context, appID string) (*GameInfo, error) {
	c.mu.Lock()
	if info, ok := c.cache[appID]; ok {
		c.mu.Unlock()
		return info, nil
	}
	c.mu.Unlock()

	url := fmt.Sprintf("%s/api/appdetails?appids=%s&filters=basic", c.BaseURL, appID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("store lookup for app %s: %w", appID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("store lookup for app %s: %s", appID, resp.Status)
	}

	var payload map[string]struct {
		Success bool `json:"success"`
		Data    struct {
			Name        string `json:"name"`
			HeaderImage string `json:"header_image"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode store response: %w", err)
	}

	var info *GameInfo
	if entry, ok := payload[appID]; ok && entry.Success {
		info = &GameInfo{
			Name:        entry.Data.Name,
			HeaderImage: entry.Data.HeaderImage,
		}
	}

	c.mu.Lock()
	c.cache[appID] = info
	c.mu.Unlock()

	if info == nil {
		utils.Debug("store lookup: no metadata for app %s", appID)
	}
	return info, nil
}

// FolderName builds the download folder name for an app: the bare ID, or
// "<id> - <sanitized name>" when metadata is available.
func FolderName(appID, gameName string) string {
	sanitized := utils.SanitizeFolderName(gameName)
	if sanitized == "" {
		return appID
	}
	return fmt.Sprintf("%s - %s", appID, sanitized)
}
