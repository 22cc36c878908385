// Package keyfile writes the depot credentials file consumed by the external
// downloader tool.
package keyfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/depotgrab/depotgrab/internal/resolver"
	"github.com/depotgrab/depotgrab/internal/utils"
)

// FileName is the credentials file name expected by the downloader tool.
const FileName = "steam.keys"

// Write renders one "depotId;manifestId;depotKey" line per depot into
// dir/steam.keys and returns the written path. Depots without a key are
// skipped; missing manifest IDs leave the middle field empty. Each job gets
// its own directory so concurrent jobs never share a credentials file.
func Write(dir string, depots []resolver.DepotTask) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create key file directory: %w", err)
	}

	var b strings.Builder
	written := 0
	for _, d := range depots {
		if d.DepotKey == "" {
			utils.Debug("keyfile: depot %s has no key, skipping", d.DepotID)
			continue
		}
		fmt.Fprintf(&b, "%s;%s;%s\n", d.DepotID, d.ManifestID, d.DepotKey)
		written++
	}

	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("write key file: %w", err)
	}

	utils.Debug("keyfile: wrote %d entries to %s", written, path)
	return path, nil
}
