package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/depotgrab/depotgrab/internal/keydata"
)

const defaultAltSourceBaseURL = "https://gcore.api.printedwaste.com"

// AltSourceClient talks to the keys-first alternative source: a JSON API
// returning per-depot decryption keys, with manifest IDs often absent.
type AltSourceClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewAltSourceClient builds a client against the default endpoint.
func NewAltSourceClient(httpClient *http.Client) *AltSourceClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &AltSourceClient{
		BaseURL:    defaultAltSourceBaseURL,
		HTTPClient: httpClient,
	}
}

// altDepot tolerates both snake_case and camelCase field spellings, and depot
// IDs delivered as either strings or numbers.
type altDepot struct {
	DepotID       json.RawMessage `json:"depot_id"`
	DepotIDAlt    json.RawMessage `json:"depotId"`
	ManifestID    json.RawMessage `json:"manifest_id"`
	ManifestIDAlt json.RawMessage `json:"manifestId"`
	DepotKey      string          `json:"depot_key"`
	DepotKeyAlt   string          `json:"depotKey"`
	DecryptionKey string          `json:"decryption_key"`
}

// FetchDepots returns the source's depot list for an app.
func (c *AltSourceClient) FetchDepots(ctx context.Context, appID string) ([]keydata.DepotInfo, error) {
	url := fmt.Sprintf("%s/app/%s/depot", c.BaseURL, appID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("alternative source request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alternative source: %s", resp.Status)
	}

	var raw []altDepot
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode alternative source response: %w", err)
	}

	var depots []keydata.DepotInfo
	for _, d := range raw {
		id := rawString(d.DepotID)
		if id == "" {
			id = rawString(d.DepotIDAlt)
		}
		if id == "" {
			continue
		}
		manifest := rawString(d.ManifestID)
		if manifest == "" {
			manifest = rawString(d.ManifestIDAlt)
		}
		key := d.DepotKey
		if key == "" {
			key = d.DepotKeyAlt
		}
		if key == "" {
			key = d.DecryptionKey
		}
		depots = append(depots, keydata.DepotInfo{
			DepotID:    id,
			ManifestID: manifest,
			DepotKey:   key,
		})
	}

	return depots, nil
}

// rawString renders a JSON string or number as its text form.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatUint(n, 10)
	}
	return ""
}
