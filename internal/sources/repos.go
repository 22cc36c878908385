// Package sources holds the stateless clients for the external lookup
// services: the GitHub manifest repos, the keys-first alternative source, the
// zip bundle source, the manifest-hosting API and the game metadata API.
package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v68/github"

	"github.com/depotgrab/depotgrab/internal/keydata"
	"github.com/depotgrab/depotgrab/internal/utils"
)

// KnownRepos is the fixed list of GitHub repos searched for manifest branches.
var KnownRepos = []string{
	"SteamAutoCracks/ManifestHub",
	"Flavor-Flavor/ManifestHub",
	"sean-who/ManifestHub",
	"NearlyTRex/SteamManifests",
	"PrintedWaste/GameManifests",
}

var manifestFileRe = regexp.MustCompile(`^(\d+)_(\d+)\.manifest$`)

// BranchInfo describes one repo branch named after an app ID.
type BranchInfo struct {
	Exists      bool
	SHA         string
	LastUpdated string
	RateLimited bool
}

// RepoResult is one search hit: a repo carrying a branch for the app.
type RepoResult struct {
	Repo       string `json:"repo"`
	Date       string `json:"date,omitempty"`
	SHA        string `json:"sha,omitempty"`
	SourceType string `json:"type"`
}

// SearchResult is the outcome of searching all known repos.
type SearchResult struct {
	Repos             []RepoResult `json:"repos"`
	GithubRateLimited bool         `json:"githubRateLimited"`
}

// ManifestEntry is one <depot>_<manifest>.manifest file in a repo branch.
type ManifestEntry struct {
	DepotID    string `json:"depotId"`
	ManifestID string `json:"manifestId"`
	Filename   string `json:"filename"`
	DepotKey   string `json:"depotKey,omitempty"`
}

// RepoManifests is the parsed content listing of one repo branch.
type RepoManifests struct {
	Manifests      []ManifestEntry   `json:"manifests"`
	HasKeyVDF      bool              `json:"hasKeyVdf"`
	KeyVDFFilename string            `json:"keyVdfFilename,omitempty"`
	LuaFilename    string            `json:"luaFilename,omitempty"`
	Files          []string          `json:"files"`
	DepotKeys      map[string]string `json:"depotKeys"`
}

// RepoClient talks to the GitHub API and the raw file host for the known
// manifest repos.
type RepoClient struct {
	gh         *github.Client
	httpClient *http.Client
	rawBaseURL string
}

// NewRepoClient builds a client. The token may be empty for anonymous access
// (subject to much tighter rate limits).
func NewRepoClient(httpClient *http.Client, token string) *RepoClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	gh := github.NewClient(httpClient)
	if strings.TrimSpace(token) != "" {
		gh = gh.WithAuthToken(token)
	}
	return &RepoClient{
		gh:         gh,
		httpClient: httpClient,
		rawBaseURL: "https://raw.githubusercontent.com",
	}
}

// WithBaseURLs overrides the API and raw-file endpoints, for tests.
func (c *RepoClient) WithBaseURLs(apiBase, rawBase string) *RepoClient {
	if apiBase != "" {
		var err error
		c.gh, err = c.gh.WithEnterpriseURLs(apiBase, apiBase)
		if err != nil {
			utils.Debug("repo client: bad api base %q: %v", apiBase, err)
		}
	}
	if rawBase != "" {
		c.rawBaseURL = strings.TrimRight(rawBase, "/")
	}
	return c
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed repo name %q", repo)
	}
	return parts[0], parts[1], nil
}

// GetBranchInfo checks whether the repo has a branch named after the app ID.
func (c *RepoClient) GetBranchInfo(ctx context.Context, repo, appID string) (BranchInfo, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return BranchInfo{}, err
	}

	branch, resp, err := c.gh.Repositories.GetBranch(ctx, owner, name, appID, 0)
	if err != nil {
		var rateErr *github.RateLimitError
		var abuseErr *github.AbuseRateLimitError
		if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
			logRetryAfter(resp)
			return BranchInfo{RateLimited: true}, nil
		}
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return BranchInfo{}, nil
		}
		return BranchInfo{}, fmt.Errorf("branch lookup for %s in %s: %w", appID, repo, err)
	}

	info := BranchInfo{Exists: true}
	if commit := branch.GetCommit(); commit != nil {
		info.SHA = commit.GetSHA()
		if date := commit.GetCommit().GetCommitter().GetDate(); !date.IsZero() {
			info.LastUpdated = date.Format(time.RFC3339)
		}
	}
	return info, nil
}

// SearchRepos checks every known repo in parallel for a branch matching the
// app ID. Hits are sorted newest first; missing dates sort last.
func (c *RepoClient) SearchRepos(ctx context.Context, appID string) (SearchResult, error) {
	type hit struct {
		result      *RepoResult
		rateLimited bool
	}

	hits := make([]hit, len(KnownRepos))
	var wg sync.WaitGroup

	for i, repo := range KnownRepos {
		wg.Add(1)
		go func(i int, repo string) {
			defer wg.Done()
			info, err := c.GetBranchInfo(ctx, repo, appID)
			if err != nil {
				utils.Debug("repo search: %s: %v", repo, err)
				return
			}
			if info.RateLimited {
				hits[i] = hit{rateLimited: true}
				return
			}
			if info.Exists {
				hits[i] = hit{result: &RepoResult{
					Repo:       repo,
					Date:       info.LastUpdated,
					SHA:        info.SHA,
					SourceType: "github",
				}}
			}
		}(i, repo)
	}
	wg.Wait()

	var result SearchResult
	for _, h := range hits {
		if h.rateLimited {
			result.GithubRateLimited = true
		}
		if h.result != nil {
			result.Repos = append(result.Repos, *h.result)
		}
	}

	sort.SliceStable(result.Repos, func(i, j int) bool {
		a, b := result.Repos[i].Date, result.Repos[j].Date
		if a == "" {
			return false
		}
		if b == "" {
			return true
		}
		return a > b
	})

	return result, nil
}

// GetRepoManifests lists a branch tree and parses out manifest entries,
// Key.vdf and lua credential files, resolving depot keys where possible.
func (c *RepoClient) GetRepoManifests(ctx context.Context, appID, repo, sha string) (RepoManifests, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return RepoManifests{}, err
	}

	tree, _, err := c.gh.Git.GetTree(ctx, owner, name, sha, true)
	if err != nil {
		return RepoManifests{}, fmt.Errorf("tree listing for %s@%s: %w", repo, sha, err)
	}

	result := RepoManifests{DepotKeys: make(map[string]string)}

	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		path := entry.GetPath()
		result.Files = append(result.Files, path)

		lower := strings.ToLower(path)
		if lower == "key.vdf" {
			result.HasKeyVDF = true
			result.KeyVDFFilename = path
			continue
		}
		if strings.HasSuffix(lower, ".lua") {
			result.LuaFilename = path
		}
		if m := manifestFileRe.FindStringSubmatch(path); m != nil {
			result.Manifests = append(result.Manifests, ManifestEntry{
				DepotID:    m[1],
				ManifestID: m[2],
				Filename:   path,
			})
		}
	}

	if result.HasKeyVDF {
		content, err := c.DownloadTextFile(ctx, repo, appID, result.KeyVDFFilename)
		if err != nil {
			utils.Debug("repo manifests: Key.vdf from %s: %v", repo, err)
		} else {
			result.DepotKeys = keydata.ParseKeyVDF(content, repo)
		}
	}

	if result.LuaFilename != "" {
		content, err := c.DownloadTextFile(ctx, repo, appID, result.LuaFilename)
		if err != nil {
			utils.Debug("repo manifests: lua file from %s: %v", repo, err)
		} else {
			for _, d := range keydata.ParseLua(content).Depots {
				if d.DepotKey != "" {
					result.DepotKeys[d.DepotID] = d.DepotKey
				}
			}
		}
	}

	for i := range result.Manifests {
		result.Manifests[i].DepotKey = result.DepotKeys[result.Manifests[i].DepotID]
	}

	return result, nil
}
