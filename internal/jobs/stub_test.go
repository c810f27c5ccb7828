package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"genserver/internal/comfy"
	"genserver/internal/domain"
	"genserver/internal/events"
	"genserver/internal/infra"
)

func discardLogger() infra.Logger {
	return zerolog.New(io.Discard)
}

func testConfig() *infra.Config {
	return &infra.Config{
		ComfySubmitTimeout: time.Second,
		ImageMaxAttempts:   300,
		VideoMaxAttempts:   600,
		PollInterval:       time.Millisecond,
		WebhookBaseURL:     "http://api.local",
	}
}

// stubJobs is an in-memory JobRepository with the same conditional
// transition semantics as the Postgres adapter.
type stubJobs struct {
	mu        sync.Mutex
	jobs      map[string]*domain.Job
	createErr error
	getErr    error
	markErr   error
}

func newStubJobs() *stubJobs {
	return &stubJobs{jobs: make(map[string]*domain.Job)}
}

func (s *stubJobs) Create(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	clone := *job
	now := time.Now()
	clone.CreatedAt = now
	clone.UpdatedAt = now
	s.jobs[job.ID] = &clone
	return nil
}

func (s *stubJobs) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *job
	return &clone, nil
}

func (s *stubJobs) GetByPromptID(ctx context.Context, promptID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.PromptID == promptID {
			clone := *job
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *stubJobs) MarkProcessing(ctx context.Context, jobID, promptID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return false, s.markErr
	}
	job, ok := s.jobs[jobID]
	if !ok || job.Status != domain.JobStatusPending {
		return false, nil
	}
	job.Status = domain.JobStatusProcessing
	job.PromptID = promptID
	job.UpdatedAt = time.Now()
	return true, nil
}

func (s *stubJobs) MarkCompleted(ctx context.Context, jobID string, resultURLs []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return false, s.markErr
	}
	job, ok := s.jobs[jobID]
	if !ok || job.Status != domain.JobStatusProcessing {
		return false, nil
	}
	job.Status = domain.JobStatusCompleted
	job.Progress = 100
	job.ResultURLs = append([]string(nil), resultURLs...)
	job.UpdatedAt = time.Now()
	return true, nil
}

func (s *stubJobs) MarkFailed(ctx context.Context, jobID, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return false, s.markErr
	}
	job, ok := s.jobs[jobID]
	if !ok || job.Status.Terminal() {
		return false, nil
	}
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now()
	return true, nil
}

func (s *stubJobs) UpdateProgress(ctx context.Context, jobID string, progress int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != domain.JobStatusProcessing {
		return false, nil
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	job.UpdatedAt = time.Now()
	return true, nil
}

func (s *stubJobs) ClaimDue(ctx context.Context, backend domain.JobBackend, interval time.Duration) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-interval)
	for _, job := range s.jobs {
		if job.Status == domain.JobStatusProcessing && job.Backend == backend && !job.LastCheckedAt.After(cutoff) {
			job.Attempts++
			job.LastCheckedAt = time.Now()
			clone := *job
			return &clone, nil
		}
	}
	return nil, domain.ErrNoJobAvailable
}

// stubBackend fakes the queue backend.
type stubBackend struct {
	mu sync.Mutex

	submitID  string
	submitErr error
	clientIDs []string

	running    []string
	queueErr   error
	history    map[string]comfy.HistoryEntry
	historyErr error

	outputs    map[string][]byte
	fetchErrs  map[string]error
	fetchCalls int
}

func newStubBackend() *stubBackend {
	return &stubBackend{
		submitID: "prompt-1",
		outputs:  make(map[string][]byte),
	}
}

func (b *stubBackend) SubmitPrompt(ctx context.Context, workflow json.RawMessage, clientID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.submitErr != nil {
		return "", b.submitErr
	}
	b.clientIDs = append(b.clientIDs, clientID)
	return b.submitID, nil
}

func (b *stubBackend) RunningPromptIDs(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queueErr != nil {
		return nil, b.queueErr
	}
	return append([]string(nil), b.running...), nil
}

func (b *stubBackend) History(ctx context.Context) (map[string]comfy.HistoryEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.historyErr != nil {
		return nil, b.historyErr
	}
	return b.history, nil
}

func (b *stubBackend) ViewURL(d comfy.OutputDescriptor) string {
	return fmt.Sprintf("http://comfy.local/view?filename=%s&subfolder=%s&type=%s", d.Filename, d.Subfolder, d.Type)
}

func (b *stubBackend) FetchOutput(ctx context.Context, d comfy.OutputDescriptor) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetchCalls++
	if err, ok := b.fetchErrs[d.Filename]; ok {
		return nil, err
	}
	data, ok := b.outputs[d.Filename]
	if !ok {
		return nil, fmt.Errorf("no such output %q", d.Filename)
	}
	return data, nil
}

// stubServerless fakes the webhook-capable provider.
type stubServerless struct {
	runID      string
	runErr     error
	gotWebhook string
}

func (s *stubServerless) Run(ctx context.Context, input json.RawMessage, webhookURL string) (string, error) {
	if s.runErr != nil {
		return "", s.runErr
	}
	s.gotWebhook = webhookURL
	return s.runID, nil
}

// stubArtifacts is an in-memory ArtifactRepository.
type stubArtifacts struct {
	mu        sync.Mutex
	items     []domain.Artifact
	insertErr error
}

func (s *stubArtifacts) Insert(ctx context.Context, artifact *domain.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.items = append(s.items, *artifact)
	return nil
}

func (s *stubArtifacts) ListByJob(ctx context.Context, jobID, userID string) ([]domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Artifact
	for _, a := range s.items {
		if a.JobID == jobID && a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

// stubStore fakes the artifact byte store.
type stubStore struct {
	mu       sync.Mutex
	written  map[string][]byte
	writeErr map[string]error
}

func newStubStore() *stubStore {
	return &stubStore{written: make(map[string][]byte), writeErr: make(map[string]error)}
}

func (s *stubStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for fragment, err := range s.writeErr {
		if fragment != "" && strings.Contains(key, fragment) {
			return "", err
		}
	}
	s.written[key] = append([]byte(nil), data...)
	return key, nil
}

// stubUsage records model usage increments.
type stubUsage struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
}

func newStubUsage() *stubUsage {
	return &stubUsage{counts: make(map[string]int)}
}

func (s *stubUsage) IncrementUsage(ctx context.Context, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.counts[modelID]++
	return nil
}

// capturePublisher records published job events.
type capturePublisher struct {
	mu     sync.Mutex
	events []events.JobEvent
}

func (p *capturePublisher) PublishJobEvent(ctx context.Context, event events.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) byStatus(status domain.JobStatus) []events.JobEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.JobEvent
	for _, e := range p.events {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

var errBoom = errors.New("boom")
