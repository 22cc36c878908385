// Package keydata parses the depot-credential file formats found in manifest
// repos and alternative-source bundles: lua grant scripts, Key.vdf key files
// and the obfuscated .st container.
package keydata

import (
	"regexp"
	"sort"
	"strconv"
)

// DepotInfo is one depot's worth of credentials, possibly partial: a source
// may supply a key without a manifest ID or vice versa.
type DepotInfo struct {
	DepotID    string `json:"depotId"`
	DepotKey   string `json:"depotKey,omitempty"`
	ManifestID string `json:"manifestId,omitempty"`
}

// LuaResult is the outcome of parsing a lua grant script.
type LuaResult struct {
	MainAppID string      `json:"mainAppId,omitempty"`
	Depots    []DepotInfo `json:"depots"`
}

var (
	// addappid(appId) grants the main app; addappid(depotId, 0, "hexkey")
	// grants a depot together with its decryption key.
	addAppIDRe = regexp.MustCompile(`(?i)addappid\((\d+)(?:\s*,\s*\d+\s*,\s*"([a-fA-F0-9]+)")?\)`)

	// setManifestid(depotId, "manifestId")
	setManifestRe = regexp.MustCompile(`(?i)setmanifestid\((\d+)\s*,\s*"(\d+)"\)`)
)

// ParseLua extracts depot credentials from a lua grant script.
//
// The first addappid call without a key names the main app. Depots seen in
// both addappid and setManifestid calls are merged by depot ID.
func ParseLua(content string) LuaResult {
	var result LuaResult
	depots := make(map[string]*DepotInfo)

	for _, m := range addAppIDRe.FindAllStringSubmatch(content, -1) {
		id, key := m[1], m[2]
		if key == "" {
			if result.MainAppID == "" {
				result.MainAppID = id
			}
			continue
		}
		if d, ok := depots[id]; ok {
			d.DepotKey = key
		} else {
			depots[id] = &DepotInfo{DepotID: id, DepotKey: key}
		}
	}

	for _, m := range setManifestRe.FindAllStringSubmatch(content, -1) {
		id, manifest := m[1], m[2]
		if d, ok := depots[id]; ok {
			d.ManifestID = manifest
		} else {
			depots[id] = &DepotInfo{DepotID: id, ManifestID: manifest}
		}
	}

	ids := make([]string, 0, len(depots))
	for id := range depots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, _ := strconv.ParseUint(ids[i], 10, 64)
		b, _ := strconv.ParseUint(ids[j], 10, 64)
		return a < b
	})

	for _, id := range ids {
		result.Depots = append(result.Depots, *depots[id])
	}

	// Some scripts never grant the main app explicitly; fall back to the
	// smallest depot ID, which is the app's base depot by convention.
	if result.MainAppID == "" && len(result.Depots) > 0 {
		result.MainAppID = result.Depots[0].DepotID
	}

	return result
}
