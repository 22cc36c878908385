package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/depotgrab/depotgrab/internal/config"
	"github.com/depotgrab/depotgrab/internal/core"
	"github.com/depotgrab/depotgrab/internal/utils"
)

var instanceLock *flock.Flock

// AcquireLock takes the single-instance lock. Returns false when another
// daemon already holds it.
func AcquireLock() (bool, error) {
	dir := config.GetRuntimeDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, err
	}
	instanceLock = flock.New(filepath.Join(dir, "depotgrab.lock"))
	return instanceLock.TryLock()
}

// ReleaseLock releases the single-instance lock.
func ReleaseLock() error {
	if instanceLock == nil {
		return nil
	}
	return instanceLock.Unlock()
}

// ensureAuthToken returns the daemon auth token, generating and persisting
// one on first use.
func ensureAuthToken() string {
	tokenFile := filepath.Join(config.GetRuntimeDir(), "token")
	data, err := os.ReadFile(tokenFile)
	if err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token
		}
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		utils.Debug("token generation: %v", err)
		return ""
	}
	token := hex.EncodeToString(buf)

	os.MkdirAll(config.GetRuntimeDir(), 0755)
	if err := os.WriteFile(tokenFile, []byte(token), 0600); err != nil {
		utils.Debug("token persist: %v", err)
	}
	return token
}

// readActivePort reads the port from the port file
func readActivePort() int {
	portFile := filepath.Join(config.GetRuntimeDir(), "port")
	data, err := os.ReadFile(portFile)
	if err != nil {
		return 0
	}
	var port int
	_, _ = fmt.Sscanf(string(data), "%d", &port)
	return port
}

// saveActivePort writes the active port for CLI discovery
func saveActivePort(port int) {
	portFile := filepath.Join(config.GetRuntimeDir(), "port")
	os.WriteFile(portFile, []byte(fmt.Sprintf("%d", port)), 0644)
	utils.Debug("HTTP server listening on port %d", port)
}

// removeActivePort cleans up the port file on exit
func removeActivePort() {
	portFile := filepath.Join(config.GetRuntimeDir(), "port")
	os.Remove(portFile)
}

func resolveLocalToken() string {
	if token := strings.TrimSpace(globalToken); token != "" {
		return token
	}
	if token := strings.TrimSpace(os.Getenv("DEPOTGRAB_TOKEN")); token != "" {
		return token
	}
	return ensureAuthToken()
}

func resolveHostTarget() string {
	if host := strings.TrimSpace(globalHost); host != "" {
		return host
	}
	return strings.TrimSpace(os.Getenv("DEPOTGRAB_HOST"))
}

// resolveAPIConnection finds the daemon to talk to: an explicit --host, or
// the locally discovered port file.
func resolveAPIConnection() (string, string, error) {
	target := resolveHostTarget()
	if target == "" {
		port := readActivePort()
		if port > 0 {
			return fmt.Sprintf("http://127.0.0.1:%d", port), resolveLocalToken(), nil
		}
		return "", "", errors.New("depotgrab daemon is not running locally. start it with 'depotgrab server start' or pass --host (or set DEPOTGRAB_HOST)")
	}

	baseURL := target
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	token := strings.TrimSpace(globalToken)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("DEPOTGRAB_TOKEN"))
	}
	return strings.TrimRight(baseURL, "/"), token, nil
}

// connectService builds a remote service against the resolved daemon.
func connectService() (core.JobService, error) {
	baseURL, token, err := resolveAPIConnection()
	if err != nil {
		return nil, err
	}
	return core.NewRemoteJobService(baseURL, token), nil
}

// resolveJobID resolves a partial job ID (prefix) to a full one by asking
// the daemon for its job list. Returns the input unchanged when nothing
// matches; ambiguous prefixes are an error.
func resolveJobID(svc core.JobService, partialID string) (string, error) {
	if len(partialID) >= 32 {
		return partialID, nil // Already a full UUID
	}

	snaps, err := svc.List()
	if err != nil {
		return "", fmt.Errorf("failed to list jobs: %w", err)
	}

	var matches []string
	for _, s := range snaps {
		if strings.HasPrefix(s.JobID, partialID) {
			matches = append(matches, s.JobID)
		}
	}
	if len(matches) == 1 {
		return matches[0], nil
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("ambiguous job ID prefix '%s' matches %d jobs", partialID, len(matches))
	}
	return partialID, nil // No match, use as-is (will fail with "not found" later)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
