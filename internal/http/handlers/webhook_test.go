package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"genserver/internal/domain"
)

func serverlessJob(ta *testApp, id, promptID string) *domain.Job {
	job := &domain.Job{
		ID:          id,
		UserID:      "user-1",
		Type:        domain.JobTypeImage,
		Backend:     domain.BackendServerless,
		Status:      domain.JobStatusProcessing,
		PromptID:    promptID,
		MaxAttempts: 300,
	}
	ta.jobs.seed(job)
	return job
}

func postWebhook(t *testing.T, ta *testApp, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/serverless", strings.NewReader(body))
	rec := httptest.NewRecorder()
	ta.app.ServerlessWebhook(rec, req)
	return rec
}

func TestServerlessWebhookCompletesJob(t *testing.T) {
	ta := newTestApp()
	serverlessJob(ta, "job-1", "run-42")

	rec := postWebhook(t, ta, `{"id":"run-42","status":"COMPLETED","output":{"images":["https://cdn.example/a.png","https://cdn.example/b.png"]}}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	job, err := ta.jobs.GetByID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want %s", job.Status, domain.JobStatusCompleted)
	}
	if len(job.ResultURLs) != 2 {
		t.Fatalf("result urls = %v", job.ResultURLs)
	}
	arts, _ := ta.artifacts.ListByJob(context.Background(), "job-1", "user-1")
	if len(arts) != 2 {
		t.Fatalf("artifacts = %d, want 2", len(arts))
	}
	for _, art := range arts {
		if art.SourceURL == "" || art.StorageKey != "" {
			t.Fatalf("artifact = %+v, want source url only", art)
		}
	}
}

func TestServerlessWebhookBareURLArray(t *testing.T) {
	ta := newTestApp()
	serverlessJob(ta, "job-1", "run-7")

	rec := postWebhook(t, ta, `{"id":"run-7","status":"COMPLETED","output":["https://cdn.example/a.mp4"]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	job, _ := ta.jobs.GetByID(context.Background(), "job-1")
	if job.Status != domain.JobStatusCompleted || len(job.ResultURLs) != 1 {
		t.Fatalf("job = %s urls %v", job.Status, job.ResultURLs)
	}
}

func TestServerlessWebhookFailureMarksFailed(t *testing.T) {
	ta := newTestApp()
	serverlessJob(ta, "job-1", "run-9")

	rec := postWebhook(t, ta, `{"id":"run-9","status":"FAILED","error":"worker crashed"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	job, _ := ta.jobs.GetByID(context.Background(), "job-1")
	if job.Status != domain.JobStatusFailed || job.ErrorMessage != "worker crashed" {
		t.Fatalf("job = %s %q", job.Status, job.ErrorMessage)
	}
}

func TestServerlessWebhookCompletedWithoutOutputsFails(t *testing.T) {
	ta := newTestApp()
	serverlessJob(ta, "job-1", "run-3")

	postWebhook(t, ta, `{"id":"run-3","status":"COMPLETED"}`)

	job, _ := ta.jobs.GetByID(context.Background(), "job-1")
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want %s", job.Status, domain.JobStatusFailed)
	}
	if job.ErrorMessage != "backend completed without outputs" {
		t.Fatalf("error = %q", job.ErrorMessage)
	}
}

func TestServerlessWebhookUnknownIDAcked(t *testing.T) {
	ta := newTestApp()

	rec := postWebhook(t, ta, `{"id":"run-unknown","status":"COMPLETED","output":["https://cdn.example/a.png"]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestServerlessWebhookIdempotentForTerminalJob(t *testing.T) {
	ta := newTestApp()
	job := serverlessJob(ta, "job-1", "run-5")
	job.Status = domain.JobStatusCompleted
	ta.jobs.seed(job)

	postWebhook(t, ta, `{"id":"run-5","status":"COMPLETED","output":["https://cdn.example/a.png"]}`)

	arts, _ := ta.artifacts.ListByJob(context.Background(), "job-1", "user-1")
	if len(arts) != 0 {
		t.Fatalf("terminal job grew artifacts: %d", len(arts))
	}
}

func TestServerlessWebhookProgressNotificationIgnored(t *testing.T) {
	ta := newTestApp()
	serverlessJob(ta, "job-1", "run-6")

	rec := postWebhook(t, ta, `{"id":"run-6","status":"IN_PROGRESS"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	job, _ := ta.jobs.GetByID(context.Background(), "job-1")
	if job.Status != domain.JobStatusProcessing {
		t.Fatalf("status = %s, want processing", job.Status)
	}
}

func TestServerlessWebhookRejectsMissingID(t *testing.T) {
	ta := newTestApp()

	rec := postWebhook(t, ta, `{"status":"COMPLETED"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
