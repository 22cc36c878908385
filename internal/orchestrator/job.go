package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/depotgrab/depotgrab/internal/events"
	"github.com/depotgrab/depotgrab/internal/resolver"
)

// JobStatus is a job's position in its lifecycle.
type JobStatus string

const (
	StatusPending        JobStatus = "pending"
	StatusResolving      JobStatus = "resolving_manifests"
	StatusGeneratingKeys JobStatus = "generating_keys"
	StatusRunning        JobStatus = "running"
	StatusCancelling     JobStatus = "cancelling"
	StatusCompleted      JobStatus = "completed"
	StatusFailed         JobStatus = "failed"
	StatusCancelled      JobStatus = "cancelled"
)

// statusRank orders statuses so transitions can be checked for monotonicity.
// Terminal states share the top rank; Cancelling may interrupt any earlier
// non-terminal stage.
var statusRank = map[JobStatus]int{
	StatusPending:        0,
	StatusResolving:      1,
	StatusGeneratingKeys: 2,
	StatusRunning:        3,
	StatusCancelling:     4,
	StatusCompleted:      5,
	StatusFailed:         5,
	StatusCancelled:      5,
}

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// DownloadRequest is a caller's ask: download an app's depots.
type DownloadRequest struct {
	AppID string `json:"appId"`

	// Repo pins the manifest repo branch to use. Empty means search the
	// known repos and take the freshest hit.
	Repo string `json:"repo,omitempty"`

	// Depots carries credential data the caller already has (parsed from
	// an uploaded file or a bundle). When set it is the primary source;
	// when empty the alternative source is queried instead.
	Depots []resolver.DepotTask `json:"depots,omitempty"`

	// Overrides are per-depot user adjustments, applied after merging.
	Overrides []resolver.Override `json:"overrides,omitempty"`

	// DownloadDir overrides the configured download directory.
	DownloadDir string `json:"downloadDir,omitempty"`

	// GameName, when known, feeds the download folder name. Looked up from
	// the store API when empty.
	GameName string `json:"gameName,omitempty"`
}

// Job is the registry's record of one download. All mutable fields are
// guarded by mu; the worker and the API surface both go through it.
type Job struct {
	ID      string
	Request DownloadRequest

	mu              sync.Mutex
	status          JobStatus
	cancelRequested bool
	cancel          context.CancelFunc
	tasks           []resolver.DepotTask
	currentTask     int
	results         []events.DepotResult
	errMsg          string
	createdAt       time.Time
	finishedAt      time.Time
}

// JobSnapshot is an immutable copy of a job's state.
type JobSnapshot struct {
	JobID           string               `json:"jobId"`
	AppID           string               `json:"appId"`
	Status          JobStatus            `json:"status"`
	CancelRequested bool                 `json:"cancelRequested"`
	Tasks           []resolver.DepotTask `json:"tasks,omitempty"`
	CurrentTask     int                  `json:"currentTask"`
	Results         []events.DepotResult `json:"results,omitempty"`
	Error           string               `json:"error,omitempty"`
	CreatedAt       time.Time            `json:"createdAt"`
	FinishedAt      time.Time            `json:"finishedAt,omitempty"`
}

func newJob(id string, req DownloadRequest, cancel context.CancelFunc) *Job {
	return &Job{
		ID:          id,
		Request:     req,
		status:      StatusPending,
		cancel:      cancel,
		currentTask: -1,
		createdAt:   time.Now(),
	}
}

// transition moves the job forward. Moves to an earlier or equal-rank
// non-terminal stage are refused, which keeps the lifecycle monotonic even
// if the worker and a cancel race.
func (j *Job) transition(to JobStatus) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.Terminal() {
		return false
	}
	if statusRank[to] < statusRank[j.status] {
		return false
	}
	j.status = to
	if to.Terminal() {
		j.finishedAt = time.Now()
	}
	return true
}

// requestCancel flips cancelRequested and fires the context. Idempotent;
// returns false when the job is already terminal.
func (j *Job) requestCancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.Terminal() {
		return false
	}
	if !j.cancelRequested {
		j.cancelRequested = true
		if j.cancel != nil {
			j.cancel()
		}
	}
	j.status = StatusCancelling
	return true
}

func (j *Job) cancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelRequested
}

func (j *Job) setTasks(tasks []resolver.DepotTask) {
	j.mu.Lock()
	j.tasks = tasks
	j.mu.Unlock()
}

func (j *Job) setCurrentTask(i int) {
	j.mu.Lock()
	j.currentTask = i
	j.mu.Unlock()
}

func (j *Job) appendResult(r events.DepotResult) {
	j.mu.Lock()
	j.results = append(j.results, r)
	j.mu.Unlock()
}

func (j *Job) setError(msg string) {
	j.mu.Lock()
	j.errMsg = msg
	j.mu.Unlock()
}

// Snapshot copies the job's current state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	snap := JobSnapshot{
		JobID:           j.ID,
		AppID:           j.Request.AppID,
		Status:          j.status,
		CancelRequested: j.cancelRequested,
		CurrentTask:     j.currentTask,
		Error:           j.errMsg,
		CreatedAt:       j.createdAt,
		FinishedAt:      j.finishedAt,
	}
	snap.Tasks = make([]resolver.DepotTask, len(j.tasks))
	copy(snap.Tasks, j.tasks)
	snap.Results = make([]events.DepotResult, len(j.results))
	copy(snap.Results, j.results)
	return snap
}
