// Package events defines the typed progress event protocol emitted by a
// download job. Each event kind is its own struct; the UI layer type-switches
// on them, and the HTTP layer maps each type to an SSE event name.
package events

import (
	"encoding/json"
	"fmt"
)

// Pipeline step identifiers carried by StatusMsg.
const (
	StepDiskSpace          = "disk_space"
	StepCheckingBranch     = "checking_branch"
	StepBranchFound        = "branch_found"
	StepResolvingDepots    = "resolving_depots"
	StepDownloadingMeta    = "downloading_manifests"
	StepDownloadingOne     = "downloading_manifest"
	StepGeneratingKeys     = "generating_keys"
	StepKeysGenerated      = "keys_generated"
	StepStartingDownloader = "starting_downloader"
	StepRunningDownloader  = "running_downloader"
)

// StatusMsg marks a pipeline stage transition. Only the fields relevant to
// the given Step are set.
type StatusMsg struct {
	JobID       string  `json:"jobId"`
	Step        string  `json:"step"`
	AppID       string  `json:"appId,omitempty"`
	DepotID     string  `json:"depotId,omitempty"`
	ManifestID  string  `json:"manifestId,omitempty"`
	Filename    string  `json:"filename,omitempty"`
	Current     int     `json:"current,omitempty"`
	Total       int     `json:"total,omitempty"`
	DepotCount  int     `json:"depotCount,omitempty"`
	Command     string  `json:"command,omitempty"`
	FreeGB      float64 `json:"freeGB,omitempty"`
	Drive       string  `json:"drive,omitempty"`
	LastUpdated string  `json:"lastUpdated,omitempty"`
	Message     string  `json:"message,omitempty"`
}

// OutputMsg carries one raw line from the external tool.
type OutputMsg struct {
	JobID   string  `json:"jobId"`
	DepotID string  `json:"depotId,omitempty"`
	Stream  string  `json:"stream"` // "stdout" or "stderr"
	Text    string  `json:"text"`
	Percent float64 `json:"percent,omitempty"` // latest parsed progress, advisory
}

// DepotCompleteMsg signals that one depot finished (success or handled failure).
type DepotCompleteMsg struct {
	JobID   string `json:"jobId"`
	DepotID string `json:"depotId"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

// DepotResult is one entry of CompleteMsg.Results.
type DepotResult struct {
	DepotID string `json:"depotId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// CompleteMsg signals that the job reached Completed.
type CompleteMsg struct {
	JobID   string        `json:"jobId"`
	Message string        `json:"message"`
	Results []DepotResult `json:"results"`
}

// ErrorMsg is a depot-level error (DepotID set) or a fatal pipeline error
// (DepotID empty, job becomes Failed).
type ErrorMsg struct {
	JobID   string `json:"jobId"`
	DepotID string `json:"depotId,omitempty"`
	Message string `json:"message"`
}

// CancelledMsg signals that the job reached Cancelled.
type CancelledMsg struct {
	JobID   string `json:"jobId"`
	Message string `json:"message"`
}

// Kind returns the wire name for a message, used as the SSE event type.
func Kind(msg any) string {
	switch msg.(type) {
	case StatusMsg, *StatusMsg:
		return "status"
	case OutputMsg, *OutputMsg:
		return "output"
	case DepotCompleteMsg, *DepotCompleteMsg:
		return "depot_complete"
	case CompleteMsg, *CompleteMsg:
		return "complete"
	case ErrorMsg, *ErrorMsg:
		return "error"
	case CancelledMsg, *CancelledMsg:
		return "cancelled"
	}
	return ""
}

// Decode parses a wire event back into its typed message.
func Decode(kind string, data []byte) (any, error) {
	switch kind {
	case "status":
		var m StatusMsg
		return m, json.Unmarshal(data, &m)
	case "output":
		var m OutputMsg
		return m, json.Unmarshal(data, &m)
	case "depot_complete":
		var m DepotCompleteMsg
		return m, json.Unmarshal(data, &m)
	case "complete":
		var m CompleteMsg
		return m, json.Unmarshal(data, &m)
	case "error":
		var m ErrorMsg
		return m, json.Unmarshal(data, &m)
	case "cancelled":
		var m CancelledMsg
		return m, json.Unmarshal(data, &m)
	}
	return nil, fmt.Errorf("unknown event kind %q", kind)
}

// JobID extracts the job identifier from any event message.
func JobID(msg any) string {
	switch m := msg.(type) {
	case StatusMsg:
		return m.JobID
	case OutputMsg:
		return m.JobID
	case DepotCompleteMsg:
		return m.JobID
	case CompleteMsg:
		return m.JobID
	case ErrorMsg:
		return m.JobID
	case CancelledMsg:
		return m.JobID
	}
	return ""
}
