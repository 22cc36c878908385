package core

import (
	"context"

	"github.com/depotgrab/depotgrab/internal/history"
	"github.com/depotgrab/depotgrab/internal/orchestrator"
	"github.com/depotgrab/depotgrab/internal/sources"
)

// JobService defines the interface for interacting with the download
// orchestrator. This abstraction lets the CLI switch between a local
// embedded backend and a remote daemon connection.
type JobService interface {
	// Submit queues a new download job and returns its ID immediately.
	Submit(req orchestrator.DownloadRequest) (string, error)

	// Cancel requests cancellation of an active job.
	Cancel(jobID string) error

	// Status returns the current snapshot of one job.
	Status(jobID string) (orchestrator.JobSnapshot, error)

	// List returns snapshots of all registered jobs.
	List() ([]orchestrator.JobSnapshot, error)

	// History returns finished jobs from the durable store.
	History(limit int) ([]history.Entry, error)

	// Search checks the known manifest repos for the app.
	Search(ctx context.Context, appID string) (sources.SearchResult, error)

	// StreamEvents returns a live event feed, filtered to one job when
	// jobID is non-empty. For local mode this is a direct channel; for
	// remote mode it is sourced from SSE.
	StreamEvents(ctx context.Context, jobID string) (<-chan any, func(), error)

	// Shutdown handles graceful shutdown of the service.
	Shutdown() error
}
