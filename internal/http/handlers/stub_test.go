package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"genserver/internal/comfy"
	"genserver/internal/domain"
	"genserver/internal/infra"
	"genserver/internal/jobs"
)

func discardLogger() infra.Logger {
	return zerolog.Nop()
}

func testConfig() *infra.Config {
	return &infra.Config{
		JWTSecret:          "handler-test-secret",
		ComfySubmitTimeout: 15 * time.Second,
		ComfyPollTimeout:   5 * time.Second,
		PollInterval:       2 * time.Second,
		ImageMaxAttempts:   300,
		VideoMaxAttempts:   600,
	}
}

type stubJobs struct {
	mu    sync.Mutex
	items map[string]*domain.Job
}

func newStubJobs() *stubJobs {
	return &stubJobs{items: map[string]*domain.Job{}}
}

func (s *stubJobs) Create(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	s.items[job.ID] = &cp
	return nil
}

func (s *stubJobs) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.items[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *stubJobs) GetByPromptID(_ context.Context, promptID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.items {
		if job.PromptID == promptID {
			cp := *job
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *stubJobs) MarkProcessing(_ context.Context, jobID, promptID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.items[jobID]
	if !ok || job.Status != domain.JobStatusPending {
		return false, nil
	}
	job.Status = domain.JobStatusProcessing
	job.PromptID = promptID
	return true, nil
}

func (s *stubJobs) MarkCompleted(_ context.Context, jobID string, resultURLs []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.items[jobID]
	if !ok || job.Status.Terminal() {
		return false, nil
	}
	job.Status = domain.JobStatusCompleted
	job.Progress = 100
	job.ResultURLs = resultURLs
	return true, nil
}

func (s *stubJobs) MarkFailed(_ context.Context, jobID, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.items[jobID]
	if !ok || job.Status.Terminal() {
		return false, nil
	}
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = errMsg
	return true, nil
}

func (s *stubJobs) UpdateProgress(_ context.Context, jobID string, progress int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.items[jobID]
	if !ok || job.Status != domain.JobStatusProcessing {
		return false, nil
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	return true, nil
}

func (s *stubJobs) ClaimDue(context.Context, domain.JobBackend, time.Duration) (*domain.Job, error) {
	return nil, domain.ErrNoJobAvailable
}

func (s *stubJobs) seed(job *domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.items[job.ID] = &cp
}

type stubArtifacts struct {
	mu    sync.Mutex
	items []domain.Artifact
}

func (s *stubArtifacts) Insert(_ context.Context, artifact *domain.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, *artifact)
	return nil
}

func (s *stubArtifacts) ListByJob(_ context.Context, jobID, userID string) ([]domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Artifact
	for _, art := range s.items {
		if art.JobID == jobID && art.UserID == userID {
			out = append(out, art)
		}
	}
	return out, nil
}

type stubComfy struct {
	submitID  string
	submitErr error
}

func (s *stubComfy) SubmitPrompt(context.Context, json.RawMessage, string) (string, error) {
	if s.submitErr != nil {
		return "", s.submitErr
	}
	if s.submitID == "" {
		return "prompt-1", nil
	}
	return s.submitID, nil
}

func (s *stubComfy) RunningPromptIDs(context.Context) ([]string, error) { return nil, nil }

func (s *stubComfy) History(context.Context) (map[string]comfy.HistoryEntry, error) {
	return map[string]comfy.HistoryEntry{}, nil
}

func (s *stubComfy) ViewURL(d comfy.OutputDescriptor) string {
	return "http://comfy.local/view?filename=" + d.Filename
}

func (s *stubComfy) FetchOutput(context.Context, comfy.OutputDescriptor) ([]byte, error) {
	return []byte("bytes"), nil
}

type stubServerless struct {
	runID  string
	runErr error
}

func (s *stubServerless) Run(context.Context, json.RawMessage, string) (string, error) {
	if s.runErr != nil {
		return "", s.runErr
	}
	if s.runID == "" {
		return "run-1", nil
	}
	return s.runID, nil
}

type stubStore struct{}

func (stubStore) Write(_ context.Context, key string, _ []byte) (string, error) {
	return key, nil
}

type stubFiles struct {
	data map[string][]byte
}

func (s *stubFiles) Read(_ context.Context, key string) ([]byte, error) {
	if b, ok := s.data[key]; ok {
		return b, nil
	}
	return nil, domain.ErrNotFound
}

type testApp struct {
	app        *App
	jobs       *stubJobs
	artifacts  *stubArtifacts
	comfy      *stubComfy
	serverless *stubServerless
	files      *stubFiles
}

func newTestApp() *testApp {
	cfg := testConfig()
	repo := newStubJobs()
	artifacts := &stubArtifacts{}
	comfyStub := &stubComfy{}
	serverlessStub := &stubServerless{}
	files := &stubFiles{data: map[string][]byte{}}
	logger := discardLogger()

	service := jobs.NewService(jobs.ServiceOptions{
		Jobs:       repo,
		Comfy:      comfyStub,
		Serverless: serverlessStub,
		Config:     cfg,
		Logger:     logger,
	})
	finalizer := jobs.NewFinalizer(repo, artifacts, stubStore{}, comfyStub, nil, logger)

	return &testApp{
		app: &App{
			Jobs:      service,
			JobRepo:   repo,
			Artifacts: artifacts,
			Finalizer: finalizer,
			Files:     files,
			Logger:    logger,
		},
		jobs:       repo,
		artifacts:  artifacts,
		comfy:      comfyStub,
		serverless: serverlessStub,
		files:      files,
	}
}
