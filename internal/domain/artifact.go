package domain

import "time"

// Artifact is one produced output of a completed job. Rows are insert-only;
// JobID is a weak back-reference, not an ownership relation.
type Artifact struct {
	ID         string
	UserID     string
	JobID      string
	StorageKey string
	SourceURL  string
	MIME       string
	Width      int
	Height     int
	Metadata   map[string]any
	CreatedAt  time.Time
}
