package core

import (
	"context"

	"github.com/depotgrab/depotgrab/internal/history"
	"github.com/depotgrab/depotgrab/internal/orchestrator"
	"github.com/depotgrab/depotgrab/internal/sources"
)

// LocalJobService implements JobService against an in-process orchestrator.
type LocalJobService struct {
	Orchestrator *orchestrator.Orchestrator
	Repos        orchestrator.RepoSource
	Store        *history.Store
}

// NewLocalJobService wraps an orchestrator and its collaborators.
func NewLocalJobService(o *orchestrator.Orchestrator, repos orchestrator.RepoSource, store *history.Store) *LocalJobService {
	return &LocalJobService{Orchestrator: o, Repos: repos, Store: store}
}

func (s *LocalJobService) Submit(req orchestrator.DownloadRequest) (string, error) {
	return s.Orchestrator.Submit(req)
}

func (s *LocalJobService) Cancel(jobID string) error {
	return s.Orchestrator.Cancel(jobID)
}

func (s *LocalJobService) Status(jobID string) (orchestrator.JobSnapshot, error) {
	return s.Orchestrator.Status(jobID)
}

func (s *LocalJobService) List() ([]orchestrator.JobSnapshot, error) {
	return s.Orchestrator.List(), nil
}

func (s *LocalJobService) History(limit int) ([]history.Entry, error) {
	if s.Store == nil {
		return nil, nil
	}
	return s.Store.List(limit)
}

func (s *LocalJobService) Search(ctx context.Context, appID string) (sources.SearchResult, error) {
	return s.Repos.SearchRepos(ctx, appID)
}

func (s *LocalJobService) StreamEvents(ctx context.Context, jobID string) (<-chan any, func(), error) {
	ch, cancel := s.Orchestrator.Broadcaster().Subscribe(jobID)
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return ch, cancel, nil
}

func (s *LocalJobService) Shutdown() error {
	if s.Store != nil {
		return s.Store.Close()
	}
	return nil
}
