package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/depotgrab/depotgrab/internal/config"
	"github.com/depotgrab/depotgrab/internal/events"
	"github.com/depotgrab/depotgrab/internal/keydata"
	"github.com/depotgrab/depotgrab/internal/resolver"
	"github.com/depotgrab/depotgrab/internal/runner"
	"github.com/depotgrab/depotgrab/internal/sources"
)

type fakeRepos struct {
	search    sources.SearchResult
	manifests sources.RepoManifests
	branch    sources.BranchInfo
}

func (f *fakeRepos) SearchRepos(ctx context.Context, appID string) (sources.SearchResult, error) {
	return f.search, nil
}

func (f *fakeRepos) GetBranchInfo(ctx context.Context, repo, appID string) (sources.BranchInfo, error) {
	return f.branch, nil
}

func (f *fakeRepos) GetRepoManifests(ctx context.Context, appID, repo, sha string) (sources.RepoManifests, error) {
	return f.manifests, nil
}

func (f *fakeRepos) DownloadManifest(ctx context.Context, appID, depotID, manifestID, repo, outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(outputDir, depotID+"_"+manifestID+".manifest")
	return path, os.WriteFile(path, []byte("manifest"), 0644)
}

type fakeAlt struct {
	depots []keydata.DepotInfo
	err    error
}

func (f *fakeAlt) FetchDepots(ctx context.Context, appID string) ([]keydata.DepotInfo, error) {
	return f.depots, f.err
}

type fakeBundle struct {
	result sources.BundleResult
	err    error
}

func (f *fakeBundle) FetchBundle(ctx context.Context, appID string, outputDir string) (sources.BundleResult, error) {
	return f.result, f.err
}

type fakeHub struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeHub) DownloadManifest(ctx context.Context, depotID, manifestID, outputDir string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(outputDir, depotID+"_"+manifestID+".manifest")
	return path, os.WriteFile(path, []byte("hub manifest"), 0644)
}

type fakeRunner struct {
	mu         sync.Mutex
	calls      []string
	failDepots map[string]bool
	block      bool
	started    chan string
}

func (f *fakeRunner) CommandString(run runner.DepotRun) string {
	return "fake-tool -depot " + run.Depot.DepotID
}

func (f *fakeRunner) Run(ctx context.Context, run runner.DepotRun, onOutput runner.OutputFunc) error {
	f.mu.Lock()
	f.calls = append(f.calls, run.Depot.DepotID)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- run.Depot.DepotID
	}
	if f.block {
		<-ctx.Done()
		return runner.ErrCancelled
	}
	if onOutput != nil {
		onOutput(runner.StreamStdout, "50.00% depots", 50, true)
		onOutput(runner.StreamStdout, "verifying", 0, false)
	}
	if f.failDepots[run.Depot.DepotID] {
		return fmt.Errorf("downloader tool exited with code 1")
	}
	return nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	s := config.DefaultSettings()
	s.General.DownloadDir = t.TempDir()
	s.General.KeepJobMinutes = 30
	return s
}

// repoWithManifests builds a fake repo source serving manifests (no keys)
// for the given depots.
func repoWithManifests(depots map[string]string) *fakeRepos {
	f := &fakeRepos{
		search: sources.SearchResult{Repos: []sources.RepoResult{
			{Repo: "example/ManifestHub", SHA: "abc", SourceType: "github"},
		}},
		manifests: sources.RepoManifests{DepotKeys: map[string]string{}},
	}
	for depot, manifest := range depots {
		f.manifests.Manifests = append(f.manifests.Manifests, sources.ManifestEntry{
			DepotID:    depot,
			ManifestID: manifest,
			Filename:   depot + "_" + manifest + ".manifest",
		})
	}
	return f
}

// waitTerminal polls until the job leaves the active states.
func waitTerminal(t *testing.T, o *Orchestrator, jobID string) JobSnapshot {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := o.Status(jobID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if snap.Status.Terminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state")
	return JobSnapshot{}
}

// drainUntil reads events until pred returns true or the timeout fires,
// returning everything read.
func drainUntil(t *testing.T, ch <-chan any, pred func(any) bool) []any {
	t.Helper()
	var got []any
	timeout := time.After(10 * time.Second)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed early, got %d events", len(got))
			}
			got = append(got, msg)
			if pred(msg) {
				return got
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event, got %v", got)
		}
	}
}

func TestJobCompletesWithMixedResults(t *testing.T) {
	settings := testSettings(t)
	fr := &fakeRunner{failDepots: map[string]bool{"102": true}}

	o := New(Options{
		Settings: settings,
		Repos:    repoWithManifests(map[string]string{"101": "m101", "102": "m102"}),
		AltSource: &fakeAlt{depots: []keydata.DepotInfo{
			{DepotID: "101", DepotKey: "key101"},
			{DepotID: "102", DepotKey: "key102"},
		}},
		Runner: fr,
	})

	ch, cancel := o.Broadcaster().Subscribe("")
	defer cancel()

	jobID, err := o.Submit(DownloadRequest{AppID: "440"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got := drainUntil(t, ch, func(msg any) bool {
		_, ok := msg.(events.CompleteMsg)
		return ok
	})

	var depotCompletes, completes, running int
	var final events.CompleteMsg
	for _, msg := range got {
		switch m := msg.(type) {
		case events.StatusMsg:
			if m.Step == events.StepRunningDownloader {
				running++
			}
		case events.DepotCompleteMsg:
			depotCompletes++
		case events.CompleteMsg:
			completes++
			final = m
		}
	}
	if depotCompletes != 2 {
		t.Errorf("got %d depot_complete events, want 2", depotCompletes)
	}
	if running != 2 {
		t.Errorf("got %d running_downloader events, want one per depot", running)
	}
	if completes != 1 {
		t.Errorf("got %d complete events, want exactly 1", completes)
	}
	if len(final.Results) != 2 {
		t.Fatalf("complete carries %d results, want 2", len(final.Results))
	}
	if !final.Results[0].Success || final.Results[1].Success {
		t.Errorf("results = %+v, want 101 ok and 102 failed", final.Results)
	}

	snap := waitTerminal(t, o, jobID)
	if snap.Status != StatusCompleted {
		t.Errorf("status = %s, want completed (single depot failure is not fatal)", snap.Status)
	}
	if len(snap.Results) != len(snap.Tasks) {
		t.Errorf("results (%d) must match tasks (%d) on completion", len(snap.Results), len(snap.Tasks))
	}
	// The keys-only primary merged with the manifests-only secondary.
	for _, task := range snap.Tasks {
		if task.ManifestID == "" || task.DepotKey == "" {
			t.Errorf("task %+v not fully merged", task)
		}
	}
}

func TestNoDepotsFailsBeforeRunning(t *testing.T) {
	settings := testSettings(t)
	fr := &fakeRunner{}

	o := New(Options{
		Settings:  settings,
		Repos:     &fakeRepos{},
		AltSource: &fakeAlt{},
		Runner:    fr,
	})

	ch, cancel := o.Broadcaster().Subscribe("")
	defer cancel()

	jobID, err := o.Submit(DownloadRequest{AppID: "440"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	drainUntil(t, ch, func(msg any) bool {
		m, ok := msg.(events.ErrorMsg)
		return ok && m.DepotID == ""
	})

	snap := waitTerminal(t, o, jobID)
	if snap.Status != StatusFailed {
		t.Errorf("status = %s, want failed", snap.Status)
	}
	if fr.callCount() != 0 {
		t.Errorf("runner was invoked %d times for an empty resolution", fr.callCount())
	}
	if len(snap.Results) != 0 {
		t.Errorf("results = %+v, want empty", snap.Results)
	}
}

func TestCancelStopsFurtherDepots(t *testing.T) {
	settings := testSettings(t)
	fr := &fakeRunner{block: true, started: make(chan string, 1)}

	o := New(Options{
		Settings: settings,
		Repos:    repoWithManifests(map[string]string{"101": "m101", "102": "m102", "103": "m103"}),
		AltSource: &fakeAlt{depots: []keydata.DepotInfo{
			{DepotID: "101", DepotKey: "k1"},
			{DepotID: "102", DepotKey: "k2"},
			{DepotID: "103", DepotKey: "k3"},
		}},
		Runner: fr,
	})

	ch, cancel := o.Broadcaster().Subscribe("")
	defer cancel()

	jobID, err := o.Submit(DownloadRequest{AppID: "440"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Wait for the first depot's process to start, then cancel.
	select {
	case <-fr.started:
	case <-time.After(10 * time.Second):
		t.Fatal("first depot never started")
	}
	if err := o.Cancel(jobID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	drainUntil(t, ch, func(msg any) bool {
		_, ok := msg.(events.CancelledMsg)
		return ok
	})

	snap := waitTerminal(t, o, jobID)
	if snap.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", snap.Status)
	}
	if !snap.CancelRequested {
		t.Error("cancelRequested must remain set")
	}
	// Depots not yet started are absent from results.
	if len(snap.Results) >= len(snap.Tasks) {
		t.Errorf("results (%d) should be shorter than tasks (%d) after cancel", len(snap.Results), len(snap.Tasks))
	}
	if fr.callCount() != 1 {
		t.Errorf("runner started %d depots after cancel, want 1", fr.callCount())
	}
}

func TestCancelErrors(t *testing.T) {
	settings := testSettings(t)
	o := New(Options{
		Settings: settings,
		Repos:    repoWithManifests(map[string]string{"101": "m101"}),
		AltSource: &fakeAlt{depots: []keydata.DepotInfo{
			{DepotID: "101", DepotKey: "k1"},
		}},
		Runner: &fakeRunner{},
	})

	if err := o.Cancel("no-such-job"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Cancel(unknown) = %v, want ErrJobNotFound", err)
	}

	jobID, err := o.Submit(DownloadRequest{AppID: "440"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, o, jobID)

	if err := o.Cancel(jobID); !errors.Is(err, ErrJobNotRunning) {
		t.Errorf("Cancel(terminal) = %v, want ErrJobNotRunning", err)
	}
}

func TestSubmitSupersedesTerminalJobForSameApp(t *testing.T) {
	settings := testSettings(t)
	mk := func() *Orchestrator {
		return New(Options{
			Settings: settings,
			Repos:    repoWithManifests(map[string]string{"101": "m101"}),
			AltSource: &fakeAlt{depots: []keydata.DepotInfo{
				{DepotID: "101", DepotKey: "k1"},
			}},
			Runner: &fakeRunner{},
		})
	}
	o := mk()

	first, err := o.Submit(DownloadRequest{AppID: "440"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, o, first)

	second, err := o.Submit(DownloadRequest{AppID: "440"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, err := o.Status(first); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("superseded job still present: %v", err)
	}
	if _, err := o.Status(second); err != nil {
		t.Errorf("new job missing: %v", err)
	}
}

func TestBundleAndHubFallbacks(t *testing.T) {
	settings := testSettings(t)
	fr := &fakeRunner{}
	hub := &fakeHub{}

	// No alt-source data and no repo hit: credentials come from the bundle,
	// manifest files from the hub.
	o := New(Options{
		Settings:  settings,
		Repos:     &fakeRepos{},
		AltSource: &fakeAlt{err: errors.New("unreachable")},
		Bundle: &fakeBundle{result: sources.BundleResult{Depots: []keydata.DepotInfo{
			{DepotID: "101", DepotKey: "k1", ManifestID: "m101"},
			{DepotID: "102", DepotKey: "k2", ManifestID: "m102"},
		}}},
		Hub:    hub,
		Runner: fr,
	})

	jobID, err := o.Submit(DownloadRequest{AppID: "440"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := waitTerminal(t, o, jobID)
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", snap.Status, snap.Error)
	}
	if len(snap.Tasks) != 2 {
		t.Fatalf("tasks = %d, want 2 from the bundle", len(snap.Tasks))
	}
	for _, task := range snap.Tasks {
		if task.ManifestPath == "" {
			t.Errorf("task %s has no staged manifest", task.DepotID)
		}
	}
	if hub.calls != 2 {
		t.Errorf("hub served %d manifests, want 2", hub.calls)
	}
}

func TestOverridesReachTheRunner(t *testing.T) {
	settings := testSettings(t)
	fr := &fakeRunner{}

	o := New(Options{
		Settings: settings,
		Repos:    repoWithManifests(map[string]string{"101": "m101"}),
		AltSource: &fakeAlt{depots: []keydata.DepotInfo{
			{DepotID: "101", DepotKey: "k1"},
		}},
		Runner: fr,
	})

	jobID, err := o.Submit(DownloadRequest{
		AppID:     "440",
		Overrides: []resolver.Override{{DepotID: "101", CustomManifestID: "user-manifest"}},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := waitTerminal(t, o, jobID)
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s", snap.Status)
	}
	if snap.Tasks[0].ManifestID != "user-manifest" {
		t.Errorf("manifest = %q, want the user override", snap.Tasks[0].ManifestID)
	}
}
