// Package orchestrator owns the download jobs: the registry, the per-job
// pipeline worker and the event broadcaster.
package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/depotgrab/depotgrab/internal/config"
	"github.com/depotgrab/depotgrab/internal/keydata"
	"github.com/depotgrab/depotgrab/internal/runner"
	"github.com/depotgrab/depotgrab/internal/sources"
	"github.com/depotgrab/depotgrab/internal/utils"
)

// Registry errors returned by Cancel and Status.
var (
	ErrJobNotFound   = errors.New("job not found")
	ErrJobNotRunning = errors.New("job already finished")
)

// RepoSource is the manifest repo network: branch lookup, tree listing and
// raw manifest download.
type RepoSource interface {
	SearchRepos(ctx context.Context, appID string) (sources.SearchResult, error)
	GetBranchInfo(ctx context.Context, repo, appID string) (sources.BranchInfo, error)
	GetRepoManifests(ctx context.Context, appID, repo, sha string) (sources.RepoManifests, error)
	DownloadManifest(ctx context.Context, appID, depotID, manifestID, repo, outputDir string) (string, error)
}

// DepotSource is a keys-first lookup service.
type DepotSource interface {
	FetchDepots(ctx context.Context, appID string) ([]keydata.DepotInfo, error)
}

// GameInfoSource resolves app metadata for folder naming.
type GameInfoSource interface {
	GetGameInfo(ctx context.Context, appID string) (*sources.GameInfo, error)
}

// ManifestHost serves raw manifest files by depot and manifest ID, used as a
// staging fallback when no repo branch carries the file.
type ManifestHost interface {
	DownloadManifest(ctx context.Context, depotID, manifestID, outputDir string) (string, error)
}

// BundleSource serves zip bundles of credential files.
type BundleSource interface {
	FetchBundle(ctx context.Context, appID string, outputDir string) (sources.BundleResult, error)
}

// ToolRunner drives the external downloader tool for one depot.
type ToolRunner interface {
	CommandString(run runner.DepotRun) string
	Run(ctx context.Context, run runner.DepotRun, onOutput runner.OutputFunc) error
}

// HistorySink receives terminal job snapshots for durable storage.
type HistorySink interface {
	RecordJob(snap JobSnapshot) error
}

// Options wires the orchestrator's collaborators. Repos and Runner are
// required; the rest degrade gracefully when nil.
type Options struct {
	Settings  *config.Settings
	Repos     RepoSource
	AltSource DepotSource
	Bundle    BundleSource
	Hub       ManifestHost
	Store     GameInfoSource
	Runner    ToolRunner
	History   HistorySink
}

// Orchestrator is the job registry. Submit is non-blocking; each job runs
// its pipeline on its own goroutine. The registry mutex is the single
// serialization point between submitters, cancellers and status readers.
type Orchestrator struct {
	opts        Options
	broadcaster *Broadcaster
	keepFor     time.Duration

	mu   sync.Mutex
	jobs map[string]*Job
}

// New builds an orchestrator around its collaborators.
func New(opts Options) *Orchestrator {
	keep := 30 * time.Minute
	if opts.Settings != nil && opts.Settings.General.KeepJobMinutes > 0 {
		keep = time.Duration(opts.Settings.General.KeepJobMinutes) * time.Minute
	}
	return &Orchestrator{
		opts:        opts,
		broadcaster: NewBroadcaster(),
		keepFor:     keep,
		jobs:        make(map[string]*Job),
	}
}

// Broadcaster exposes the event fan-out for the transport layer.
func (o *Orchestrator) Broadcaster() *Broadcaster {
	return o.broadcaster
}

// Submit registers a new job and starts its pipeline. Returns immediately
// with the job ID; progress is observed through events and Status. A new job
// supersedes any terminal job retained for the same app ID.
func (o *Orchestrator) Submit(req DownloadRequest) (string, error) {
	if req.AppID == "" {
		return "", errors.New("request has no app id")
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := newJob(uuid.NewString(), req, cancel)

	o.mu.Lock()
	o.sweepLocked()
	for id, other := range o.jobs {
		if other.Request.AppID == req.AppID && other.Snapshot().Status.Terminal() {
			delete(o.jobs, id)
		}
	}
	o.jobs[job.ID] = job
	o.mu.Unlock()

	utils.Debug("orchestrator: job %s submitted for app %s", job.ID, req.AppID)
	go o.runPipeline(ctx, job)
	return job.ID, nil
}

// Cancel requests cancellation of a job. The running subprocess is killed
// and no further depots are started; the job reaches Cancelled shortly
// after. Fails with ErrJobNotFound for unknown IDs and ErrJobNotRunning for
// jobs already in a terminal state.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	o.mu.Unlock()

	if !ok {
		return ErrJobNotFound
	}
	if !job.requestCancel() {
		return ErrJobNotRunning
	}
	utils.Debug("orchestrator: cancel requested for job %s", jobID)
	return nil
}

// Status returns a snapshot of one job.
func (o *Orchestrator) Status(jobID string) (JobSnapshot, error) {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	o.mu.Unlock()

	if !ok {
		return JobSnapshot{}, ErrJobNotFound
	}
	return job.Snapshot(), nil
}

// List returns snapshots of every registered job, newest first.
func (o *Orchestrator) List() []JobSnapshot {
	o.mu.Lock()
	o.sweepLocked()
	snaps := make([]JobSnapshot, 0, len(o.jobs))
	for _, job := range o.jobs {
		snaps = append(snaps, job.Snapshot())
	}
	o.mu.Unlock()

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps
}

// sweepLocked evicts terminal jobs older than the retention window. Caller
// holds o.mu.
func (o *Orchestrator) sweepLocked() {
	cutoff := time.Now().Add(-o.keepFor)
	for id, job := range o.jobs {
		snap := job.Snapshot()
		if snap.Status.Terminal() && !snap.FinishedAt.IsZero() && snap.FinishedAt.Before(cutoff) {
			delete(o.jobs, id)
		}
	}
}

// recordHistory hands a terminal snapshot to the history store, if any.
func (o *Orchestrator) recordHistory(job *Job) {
	if o.opts.History == nil {
		return
	}
	if err := o.opts.History.RecordJob(job.Snapshot()); err != nil {
		utils.Debug("orchestrator: record history for job %s: %v", job.ID, err)
	}
}
