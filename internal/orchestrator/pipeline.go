package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/depotgrab/depotgrab/internal/config"
	"github.com/depotgrab/depotgrab/internal/events"
	"github.com/depotgrab/depotgrab/internal/keyfile"
	"github.com/depotgrab/depotgrab/internal/resolver"
	"github.com/depotgrab/depotgrab/internal/runner"
	"github.com/depotgrab/depotgrab/internal/sources"
	"github.com/depotgrab/depotgrab/internal/utils"
)

// runPipeline executes one job from resolution through the sequential depot
// downloads. It is the only goroutine that advances the job; cancellation
// reaches it through the job context and the cancelRequested flag.
func (o *Orchestrator) runPipeline(ctx context.Context, job *Job) {
	appID := job.Request.AppID
	pub := o.broadcaster.Publish

	fail := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		utils.Debug("pipeline %s: fatal: %s", job.ID, msg)
		job.setError(msg)
		job.transition(StatusFailed)
		pub(events.ErrorMsg{JobID: job.ID, Message: msg})
		o.recordHistory(job)
	}
	finishCancelled := func() {
		job.transition(StatusCancelled)
		pub(events.CancelledMsg{JobID: job.ID, Message: "download cancelled"})
		o.recordHistory(job)
	}

	baseDir := job.Request.DownloadDir
	if baseDir == "" && o.opts.Settings != nil {
		baseDir = o.opts.Settings.General.DownloadDir
	}
	baseDir = utils.EnsureAbsPath(baseDir)

	if status, err := probeDisk(baseDir); err != nil {
		utils.Debug("pipeline %s: disk probe: %v", job.ID, err)
	} else {
		pub(events.StatusMsg{
			JobID:  job.ID,
			Step:   events.StepDiskSpace,
			AppID:  appID,
			FreeGB: status.FreeGB,
			Drive:  status.Drive,
		})
	}

	gameName := job.Request.GameName
	if gameName == "" && o.opts.Store != nil {
		if info, err := o.opts.Store.GetGameInfo(ctx, appID); err != nil {
			utils.Debug("pipeline %s: game info lookup: %v", job.ID, err)
		} else if info != nil {
			gameName = info.Name
		}
	}
	outputDir := filepath.Join(baseDir, sources.FolderName(appID, gameName))

	// Resolution.
	job.transition(StatusResolving)
	pub(events.StatusMsg{JobID: job.ID, Step: events.StepResolvingDepots, AppID: appID})

	if job.cancelled() {
		finishCancelled()
		return
	}

	workDir := filepath.Join(config.GetAppDir(), "jobs", job.ID)

	tasks, repo, err := o.resolveTasks(ctx, job, workDir)
	if err != nil {
		if job.cancelled() {
			finishCancelled()
			return
		}
		fail("manifest resolution for app %s: %v", appID, err)
		return
	}

	tasks = o.stageManifests(ctx, job, tasks, repo, workDir)
	job.setTasks(tasks)

	if job.cancelled() {
		finishCancelled()
		return
	}

	// Credentials file.
	job.transition(StatusGeneratingKeys)
	pub(events.StatusMsg{JobID: job.ID, Step: events.StepGeneratingKeys, AppID: appID, DepotCount: len(tasks)})

	keyPath, err := keyfile.Write(workDir, tasks)
	if err != nil {
		fail("key file for app %s: %v", appID, err)
		return
	}
	pub(events.StatusMsg{JobID: job.ID, Step: events.StepKeysGenerated, AppID: appID, Filename: keyPath})

	// Sequential depot downloads.
	job.transition(StatusRunning)
	total := len(tasks)

	for i, task := range tasks {
		if job.cancelled() {
			finishCancelled()
			return
		}
		job.setCurrentTask(i)

		run := runner.DepotRun{
			AppID:       appID,
			Depot:       task,
			KeyFilePath: keyPath,
			OutputDir:   outputDir,
		}
		pub(events.StatusMsg{
			JobID:   job.ID,
			Step:    events.StepStartingDownloader,
			AppID:   appID,
			DepotID: task.DepotID,
			Current: i + 1,
			Total:   total,
			Command: o.opts.Runner.CommandString(run),
		})

		// The tool is considered running once it produces its first line of
		// output. Lines arrive from both stream goroutines, hence the Once.
		var started sync.Once
		err := o.opts.Runner.Run(ctx, run, func(stream, text string, percent float64, hasPercent bool) {
			started.Do(func() {
				pub(events.StatusMsg{
					JobID:   job.ID,
					Step:    events.StepRunningDownloader,
					AppID:   appID,
					DepotID: task.DepotID,
					Current: i + 1,
					Total:   total,
				})
			})
			msg := events.OutputMsg{
				JobID:   job.ID,
				DepotID: task.DepotID,
				Stream:  stream,
				Text:    text,
			}
			if hasPercent {
				msg.Percent = percent
			}
			pub(msg)
		})

		if errors.Is(err, runner.ErrCancelled) {
			finishCancelled()
			return
		}
		if err != nil {
			job.appendResult(events.DepotResult{DepotID: task.DepotID, Success: false, Error: err.Error()})
			pub(events.ErrorMsg{JobID: job.ID, DepotID: task.DepotID, Message: err.Error()})
		} else {
			job.appendResult(events.DepotResult{DepotID: task.DepotID, Success: true})
		}
		pub(events.DepotCompleteMsg{JobID: job.ID, DepotID: task.DepotID, Current: i + 1, Total: total})
	}

	if job.cancelled() {
		finishCancelled()
		return
	}

	job.transition(StatusCompleted)
	snap := job.Snapshot()
	pub(events.CompleteMsg{
		JobID:   job.ID,
		Message: fmt.Sprintf("finished %d depot(s) for app %s", total, appID),
		Results: snap.Results,
	})
	o.recordHistory(job)
}

// resolveTasks produces the job's depot tasks. The primary list comes from
// the request's embedded credentials, or the alternative source when the
// request carries none; the secondary list comes from the best manifest repo
// branch. Returns the chosen repo so manifests can be staged from it.
func (o *Orchestrator) resolveTasks(ctx context.Context, job *Job, workDir string) ([]resolver.DepotTask, string, error) {
	appID := job.Request.AppID
	pub := o.broadcaster.Publish

	primary := job.Request.Depots
	if len(primary) == 0 && o.opts.AltSource != nil {
		depots, err := o.opts.AltSource.FetchDepots(ctx, appID)
		if err != nil {
			utils.Debug("pipeline %s: alternative source: %v", job.ID, err)
		} else {
			primary = resolver.FromKeydata(depots, resolver.SourceAlternative)
		}
	}
	if len(primary) == 0 && o.opts.Bundle != nil {
		bundle, err := o.opts.Bundle.FetchBundle(ctx, appID, workDir)
		if err != nil {
			utils.Debug("pipeline %s: bundle source: %v", job.ID, err)
		} else {
			primary = resolver.FromKeydata(bundle.Depots, resolver.SourceEmbedded)
		}
	}

	repo, sha := job.Request.Repo, ""
	if repo == "" {
		pub(events.StatusMsg{JobID: job.ID, Step: events.StepCheckingBranch, AppID: appID})
		result, err := o.opts.Repos.SearchRepos(ctx, appID)
		if err != nil {
			utils.Debug("pipeline %s: repo search: %v", job.ID, err)
		} else if len(result.Repos) > 0 {
			repo, sha = result.Repos[0].Repo, result.Repos[0].SHA
		}
	} else {
		pub(events.StatusMsg{JobID: job.ID, Step: events.StepCheckingBranch, AppID: appID, Message: repo})
		info, err := o.opts.Repos.GetBranchInfo(ctx, repo, appID)
		if err != nil || !info.Exists {
			utils.Debug("pipeline %s: branch lookup in %s failed (err=%v)", job.ID, repo, err)
			repo = ""
		} else {
			sha = info.SHA
		}
	}

	var secondary []resolver.DepotTask
	if repo != "" {
		pub(events.StatusMsg{JobID: job.ID, Step: events.StepBranchFound, AppID: appID, Message: repo})
		manifests, err := o.opts.Repos.GetRepoManifests(ctx, appID, repo, sha)
		if err != nil {
			utils.Debug("pipeline %s: repo manifests from %s: %v", job.ID, repo, err)
			repo = ""
		} else {
			for _, m := range manifests.Manifests {
				secondary = append(secondary, resolver.DepotTask{
					DepotID:    m.DepotID,
					ManifestID: m.ManifestID,
					DepotKey:   m.DepotKey,
					Source:     resolver.SourceGeneral,
				})
			}
		}
	}

	// With no primary at all, the repo listing is the task list.
	if len(primary) == 0 {
		primary, secondary = secondary, nil
	}

	tasks, err := resolver.Resolve(primary, secondary, job.Request.Overrides)
	if err != nil {
		return nil, "", err
	}
	return tasks, repo, nil
}

// stageManifests downloads each task's manifest file into the job work
// directory and returns the updated task list. The repo branch is tried
// first, then the manifest host. Failures are per-depot and non-fatal; the
// tool falls back to fetching the manifest itself.
func (o *Orchestrator) stageManifests(ctx context.Context, job *Job, tasks []resolver.DepotTask, repo, workDir string) []resolver.DepotTask {
	if repo == "" && o.opts.Hub == nil {
		return tasks
	}

	appID := job.Request.AppID
	pub := o.broadcaster.Publish

	manifestDir := filepath.Join(workDir, "manifests")
	total := 0
	for _, t := range tasks {
		if t.ManifestID != "" && t.ManifestPath == "" {
			total++
		}
	}
	if total == 0 {
		return tasks
	}

	pub(events.StatusMsg{JobID: job.ID, Step: events.StepDownloadingMeta, AppID: appID, DepotCount: total})

	current := 0
	for i := range tasks {
		if job.cancelled() || ctx.Err() != nil {
			return tasks
		}
		t := &tasks[i]
		if t.ManifestID == "" || t.ManifestPath != "" {
			continue
		}
		current++
		pub(events.StatusMsg{
			JobID:      job.ID,
			Step:       events.StepDownloadingOne,
			AppID:      appID,
			DepotID:    t.DepotID,
			ManifestID: t.ManifestID,
			Current:    current,
			Total:      total,
		})

		var path string
		var err error
		if repo != "" {
			path, err = o.opts.Repos.DownloadManifest(ctx, appID, t.DepotID, t.ManifestID, repo, manifestDir)
			if err != nil {
				utils.Debug("pipeline %s: stage manifest for depot %s from %s: %v", job.ID, t.DepotID, repo, err)
			}
		}
		if path == "" && o.opts.Hub != nil {
			path, err = o.opts.Hub.DownloadManifest(ctx, t.DepotID, t.ManifestID, manifestDir)
			if err != nil {
				utils.Debug("pipeline %s: stage manifest for depot %s from hub: %v", job.ID, t.DepotID, err)
			}
		}
		if path == "" {
			continue
		}
		t.ManifestPath = path
	}
	return tasks
}
