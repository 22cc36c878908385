package core

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/depotgrab/depotgrab/internal/events"
	"github.com/depotgrab/depotgrab/internal/history"
	"github.com/depotgrab/depotgrab/internal/orchestrator"
	"github.com/depotgrab/depotgrab/internal/sources"
)

// RemoteJobService implements JobService against a running daemon.
type RemoteJobService struct {
	BaseURL   string
	Token     string
	Client    *http.Client
	SSEClient *http.Client
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewRemoteJobService creates a new remote service instance.
func NewRemoteJobService(baseURL string, token string) *RemoteJobService {
	ctx, cancel := context.WithCancel(context.Background())
	return &RemoteJobService{
		BaseURL:   baseURL,
		Token:     token,
		Client:    &http.Client{Timeout: 30 * time.Second},
		SSEClient: &http.Client{},
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *RemoteJobService) doRequest(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(s.ctx, method, s.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+s.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		// Limit error body read to 1KB to prevent DoS
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	return resp, nil
}

// Submit queues a new download job on the daemon.
func (s *RemoteJobService) Submit(req orchestrator.DownloadRequest) (string, error) {
	resp, err := s.doRequest("POST", "/download", req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var result map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result["jobId"], nil
}

// Cancel requests cancellation of an active job.
func (s *RemoteJobService) Cancel(jobID string) error {
	resp, err := s.doRequest("POST", "/cancel?id="+url.QueryEscape(jobID), nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return nil
}

// Status returns a snapshot for a single job by id.
func (s *RemoteJobService) Status(jobID string) (orchestrator.JobSnapshot, error) {
	resp, err := s.doRequest("GET", "/job?id="+url.QueryEscape(jobID), nil)
	if err != nil {
		return orchestrator.JobSnapshot{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var snap orchestrator.JobSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return orchestrator.JobSnapshot{}, err
	}
	return snap, nil
}

// List returns the status of all registered jobs.
func (s *RemoteJobService) List() ([]orchestrator.JobSnapshot, error) {
	resp, err := s.doRequest("GET", "/list", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var snaps []orchestrator.JobSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

// History returns finished jobs.
func (s *RemoteJobService) History(limit int) ([]history.Entry, error) {
	resp, err := s.doRequest("GET", fmt.Sprintf("/history?limit=%d", limit), nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var entries []history.Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Search checks the known manifest repos for the app.
func (s *RemoteJobService) Search(ctx context.Context, appID string) (sources.SearchResult, error) {
	resp, err := s.doRequest("GET", "/search?app="+url.QueryEscape(appID), nil)
	if err != nil {
		return sources.SearchResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var result sources.SearchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return sources.SearchResult{}, err
	}
	return result, nil
}

// Shutdown stops the service.
func (s *RemoteJobService) Shutdown() error {
	s.cancel()
	return nil
}

// StreamEvents returns a channel that receives real-time job events via SSE.
func (s *RemoteJobService) StreamEvents(ctx context.Context, jobID string) (<-chan any, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ch := make(chan any, 100)
	go s.streamWithReconnect(ctx, jobID, ch)
	return ch, func() {}, nil
}

func (s *RemoteJobService) streamWithReconnect(ctx context.Context, jobID string, ch chan any) {
	defer close(ch)
	backoff := 1 * time.Second
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ctx.Done():
			return
		default:
		}

		err := s.connectSSE(ctx, jobID, ch)
		if err == nil {
			return // Clean shutdown (server closed stream or context canceled)
		}
		// Check context again before sleeping
		select {
		case <-s.ctx.Done():
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			// Continue
		}

		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *RemoteJobService) connectSSE(ctx context.Context, jobID string, ch chan any) error {
	endpoint := s.BaseURL + "/events"
	if jobID != "" {
		endpoint += "?job=" + url.QueryEscape(jobID)
	}
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+s.Token)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Connection", "keep-alive")

	resp, err := s.SSEClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != 200 {
		return fmt.Errorf("failed to connect to event stream: %s", resp.Status)
	}

	reader := bufio.NewReader(resp.Body)
	for {
		eventType := ""
		var dataLines []string

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return err
			}
			line = strings.TrimRight(line, "\r\n")

			// Blank line dispatches event
			if line == "" {
				break
			}
			// Comment/heartbeat
			if strings.HasPrefix(line, ":") {
				continue
			}
			if strings.HasPrefix(line, "event:") {
				eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if strings.HasPrefix(line, "data:") {
				dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
				continue
			}
		}

		if eventType == "" || len(dataLines) == 0 {
			continue
		}
		jsonData := strings.Join(dataLines, "\n")

		msg, err := events.Decode(eventType, []byte(jsonData))
		if err != nil {
			continue
		}

		// Non-blocking send
		select {
		case ch <- msg:
		default:
			// Drop message if channel is full to prevent blocking the reader
		}
	}
}
