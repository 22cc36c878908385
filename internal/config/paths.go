package config

import (
	"os"
	"path/filepath"
)

// GetAppDir returns the per-user application directory (~/.depotgrab),
// creating nothing. All runtime artifacts live under it.
func GetAppDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".depotgrab"
	}
	return filepath.Join(homeDir, ".depotgrab")
}

// GetStateDir returns the directory holding the history database.
func GetStateDir() string {
	return filepath.Join(GetAppDir(), "state")
}

// GetLogsDir returns the directory holding debug logs.
func GetLogsDir() string {
	return filepath.Join(GetAppDir(), "logs")
}

// GetRuntimeDir returns the directory holding the pid, port and lock files.
func GetRuntimeDir() string {
	return GetAppDir()
}
