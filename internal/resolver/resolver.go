// Package resolver turns the per-source depot lists into the final set of
// depot tasks a job will download.
package resolver

import (
	"errors"

	"github.com/depotgrab/depotgrab/internal/keydata"
	"github.com/depotgrab/depotgrab/internal/utils"
)

// ErrNoManifests means resolution finished with no downloadable depot.
var ErrNoManifests = errors.New("no depot manifests could be resolved")

// SourceKind names where a depot list came from.
type SourceKind string

const (
	// SourceEmbedded is credential data supplied with the request itself,
	// parsed from uploaded .lua/.st/.vdf files or a fetched bundle.
	SourceEmbedded SourceKind = "embedded"
	// SourceAlternative is the keys-first JSON API. Its lists usually carry
	// decryption keys but no manifest IDs.
	SourceAlternative SourceKind = "alternative"
	// SourceGeneral is the repo network. Its lists carry manifest IDs and,
	// when a Key.vdf is present, keys as well.
	SourceGeneral SourceKind = "general"
)

// DepotTask is one depot the job will hand to the downloader tool.
type DepotTask struct {
	DepotID    string `json:"depotId"`
	ManifestID string `json:"manifestId"`
	DepotKey   string `json:"depotKey"`

	// ManifestPath points at a locally staged manifest file. Set when the
	// manifest was downloaded ahead of time or supplied by the user.
	ManifestPath string `json:"manifestPath,omitempty"`

	Source SourceKind `json:"source"`
}

// Override is a per-depot user adjustment, applied after all source merging.
type Override struct {
	DepotID              string `json:"depotId"`
	CustomManifestID     string `json:"customManifestId,omitempty"`
	UploadedManifestPath string `json:"uploadedManifestPath,omitempty"`
}

// FromKeydata converts parsed credential entries into depot tasks.
func FromKeydata(depots []keydata.DepotInfo, source SourceKind) []DepotTask {
	tasks := make([]DepotTask, 0, len(depots))
	for _, d := range depots {
		tasks = append(tasks, DepotTask{
			DepotID:    d.DepotID,
			ManifestID: d.ManifestID,
			DepotKey:   d.DepotKey,
			Source:     source,
		})
	}
	return tasks
}

// Merge combines a keys-first primary list with a manifests-first secondary
// list, keyed by depot ID.
//
// The secondary source is consulted only when every primary depot lacks a
// manifest ID. If even one primary depot already names a manifest, the
// primary list is trusted as-is and secondary is ignored entirely. When the
// merge fires, depots present in both get the secondary's manifest ID
// (never overwriting one already set), and depots present only in the
// secondary are appended as keyless tasks.
func Merge(primary, secondary []DepotTask) []DepotTask {
	for _, d := range primary {
		if d.ManifestID != "" {
			return primary
		}
	}

	manifests := make(map[string]string, len(secondary))
	for _, d := range secondary {
		if d.ManifestID != "" {
			manifests[d.DepotID] = d.ManifestID
		}
	}

	merged := make([]DepotTask, len(primary))
	copy(merged, primary)
	seen := make(map[string]bool, len(merged))
	for i := range merged {
		seen[merged[i].DepotID] = true
		if merged[i].ManifestID != "" {
			continue
		}
		if m, ok := manifests[merged[i].DepotID]; ok {
			merged[i].ManifestID = m
		}
	}

	for _, d := range secondary {
		if seen[d.DepotID] || d.ManifestID == "" {
			continue
		}
		seen[d.DepotID] = true
		merged = append(merged, DepotTask{
			DepotID:    d.DepotID,
			ManifestID: d.ManifestID,
			Source:     d.Source,
		})
	}
	return merged
}

// ApplyOverrides rewrites tasks with the user's per-depot adjustments. A
// custom manifest ID replaces whatever resolution produced; an uploaded
// manifest path pins the task to a user-supplied file. Overrides for depot
// IDs not in the task list are ignored.
func ApplyOverrides(tasks []DepotTask, overrides []Override) []DepotTask {
	if len(overrides) == 0 {
		return tasks
	}

	byDepot := make(map[string]Override, len(overrides))
	for _, o := range overrides {
		byDepot[o.DepotID] = o
	}

	out := make([]DepotTask, len(tasks))
	copy(out, tasks)
	for i := range out {
		o, ok := byDepot[out[i].DepotID]
		if !ok {
			continue
		}
		if o.CustomManifestID != "" {
			out[i].ManifestID = o.CustomManifestID
		}
		if o.UploadedManifestPath != "" {
			out[i].ManifestPath = o.UploadedManifestPath
		}
	}
	return out
}

// Finalize validates the resolved list. An empty list is a resolution
// failure. Tasks that still lack a manifest ID are passed through unchanged;
// the downloader tool rejects them per depot, which keeps such a failure
// task-level instead of job-fatal.
func Finalize(tasks []DepotTask) ([]DepotTask, error) {
	if len(tasks) == 0 {
		return nil, ErrNoManifests
	}
	for _, t := range tasks {
		if t.ManifestID == "" && t.ManifestPath == "" {
			utils.Debug("resolver: depot %s has no manifest, passing through", t.DepotID)
		}
	}
	return tasks, nil
}

// dedupe collapses duplicate depot IDs. The first occurrence wins its place
// in the list; later duplicates only fill in fields it was missing. Depot IDs
// must be unique within a job, but caller-supplied lists built from several
// credential files can overlap.
func dedupe(tasks []DepotTask) []DepotTask {
	index := make(map[string]int, len(tasks))
	out := make([]DepotTask, 0, len(tasks))
	for _, t := range tasks {
		i, ok := index[t.DepotID]
		if !ok {
			index[t.DepotID] = len(out)
			out = append(out, t)
			continue
		}
		utils.Debug("resolver: merging duplicate entry for depot %s", t.DepotID)
		if out[i].ManifestID == "" {
			out[i].ManifestID = t.ManifestID
		}
		if out[i].DepotKey == "" {
			out[i].DepotKey = t.DepotKey
		}
		if out[i].ManifestPath == "" {
			out[i].ManifestPath = t.ManifestPath
		}
	}
	return out
}

// Resolve runs the full pipeline: collapse duplicate depot entries, merge
// primary with secondary (when the merge trigger fires), apply user
// overrides, then validate.
func Resolve(primary, secondary []DepotTask, overrides []Override) ([]DepotTask, error) {
	merged := Merge(dedupe(primary), secondary)
	merged = ApplyOverrides(merged, overrides)
	return Finalize(merged)
}
