package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Settings holds all user-configurable application settings organized by category.
type Settings struct {
	General GeneralSettings `json:"general"`
	Sources SourceSettings  `json:"sources"`
	Tool    ToolSettings    `json:"tool"`
}

// GeneralSettings contains application behavior settings.
type GeneralSettings struct {
	DownloadDir       string `json:"download_dir" env:"DEPOTGRAB_DOWNLOAD_DIR"`
	LogRetentionCount int    `json:"log_retention_count" env:"DEPOTGRAB_LOG_RETENTION"`
	KeepJobMinutes    int    `json:"keep_job_minutes" env:"DEPOTGRAB_KEEP_JOB_MINUTES"`
}

// SourceSettings contains credentials and endpoints for the lookup services.
type SourceSettings struct {
	GithubToken       string `json:"github_token" env:"DEPOTGRAB_GITHUB_TOKEN"`
	ManifestHubAPIKey string `json:"manifest_hub_api_key" env:"DEPOTGRAB_MANIFESTHUB_KEY"`
}

// ToolSettings configures the external depot-fetching tool.
type ToolSettings struct {
	Path      string   `json:"path" env:"DEPOTGRAB_TOOL_PATH"`
	ExtraArgs []string `json:"extra_args" envSeparator:" " env:"DEPOTGRAB_TOOL_ARGS"`
}

// DefaultSettings returns a new Settings instance with sensible defaults.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	defaultDir := filepath.Join(homeDir, "Downloads", "depots")

	return &Settings{
		General: GeneralSettings{
			DownloadDir:       defaultDir,
			LogRetentionCount: 5,
			KeepJobMinutes:    30,
		},
		Tool: ToolSettings{
			ExtraArgs: []string{"-max-downloads", "8", "-verify-all"},
		},
	}
}

// GetSettingsPath returns the path to the settings JSON file.
func GetSettingsPath() string {
	return filepath.Join(GetAppDir(), "settings.json")
}

// LoadSettings loads settings from disk, then applies environment variable
// overrides. Returns defaults if the file doesn't exist.
func LoadSettings() (*Settings, error) {
	settings := DefaultSettings() // Start with defaults to fill any missing fields

	data, err := os.ReadFile(GetSettingsPath())
	if err == nil {
		if err := json.Unmarshal(data, settings); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := env.Parse(settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// SaveSettings saves settings to disk atomically.
func SaveSettings(s *Settings) error {
	path := GetSettingsPath()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: write to temp file, then rename
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}
