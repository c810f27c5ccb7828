package domain

import (
	"encoding/json"
	"time"
)

// JobType enumerates supported generation job categories.
type JobType string

const (
	JobTypeImage JobType = "image"
	JobTypeVideo JobType = "video"
)

// JobBackend enumerates execution backends a job can be dispatched to.
type JobBackend string

const (
	// BackendComfy is the self-hosted queue pipeline; it exposes no push
	// mechanism, so completion is detected by polling.
	BackendComfy JobBackend = "comfy"
	// BackendServerless is the hosted GPU provider; completions arrive via
	// webhook and no poller runs for these jobs.
	BackendServerless JobBackend = "serverless"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job encapsulates the lifecycle of one asynchronous generation request.
// Params is an opaque bag to the lifecycle logic; only backend clients
// interpret it.
type Job struct {
	ID            string
	UserID        string
	Type          JobType
	Backend       JobBackend
	Status        JobStatus
	Progress      int
	Params        json.RawMessage
	PromptID      string
	ResultURLs    []string
	ErrorMessage  string
	Attempts      int
	MaxAttempts   int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastCheckedAt time.Time
}
