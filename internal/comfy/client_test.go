package comfy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSubmitPrompt(t *testing.T) {
	var gotBody promptRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/prompt" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"prompt_id": "prompt-123", "number": 1})
	}))
	defer server.Close()

	client, err := NewClient(Options{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	promptID, err := client.SubmitPrompt(context.Background(), json.RawMessage(`{"3":{"class_type":"KSampler"}}`), "job-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if promptID != "prompt-123" {
		t.Fatalf("prompt id = %q, want prompt-123", promptID)
	}
	if gotBody.ClientID != "job-1" {
		t.Fatalf("client id = %q, want job-1", gotBody.ClientID)
	}
	if len(gotBody.Prompt) == 0 {
		t.Fatalf("expected workflow to be forwarded")
	}
}

func TestSubmitPromptRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid workflow"}`))
	}))
	defer server.Close()

	client, err := NewClient(Options{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.SubmitPrompt(context.Background(), json.RawMessage(`{}`), ""); err == nil {
		t.Fatalf("expected error for rejected submission")
	}
}

func TestRunningPromptIDs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/queue" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"queue_running":[[0,"prompt-a",{},{"client_id":"job-a"}]],"queue_pending":[[1,"prompt-b",{},{}]]}`))
	}))
	defer server.Close()

	client, err := NewClient(Options{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ids, err := client.RunningPromptIDs(context.Background())
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(ids) != 1 || ids[0] != "prompt-a" {
		t.Fatalf("running ids = %v, want [prompt-a]", ids)
	}
}

func TestHistoryEntryMatching(t *testing.T) {
	payload := `{
		"prompt-xyz": {
			"prompt": [0, "prompt-xyz", {}, {"client_id": "job-42"}],
			"outputs": {"9": {"images": [{"filename": "ComfyUI_001.png", "subfolder": "", "type": "output"}]}},
			"status": {"status_str": "success", "completed": true}
		}
	}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/history" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(payload))
	}))
	defer server.Close()

	client, err := NewClient(Options{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	history, err := client.History(context.Background())
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	entry, ok := history["prompt-xyz"]
	if !ok {
		t.Fatalf("missing history entry")
	}
	if entry.ClientID() != "job-42" {
		t.Fatalf("client id = %q, want job-42", entry.ClientID())
	}
	descriptors := entry.Descriptors()
	if len(descriptors) != 1 {
		t.Fatalf("descriptors = %d, want 1", len(descriptors))
	}
	if descriptors[0].Filename != "ComfyUI_001.png" {
		t.Fatalf("filename = %q", descriptors[0].Filename)
	}
	if !entry.Status.Completed || entry.Status.StatusStr != "success" {
		t.Fatalf("unexpected status %+v", entry.Status)
	}
}

func TestViewURL(t *testing.T) {
	client, err := NewClient(Options{BaseURL: "http://comfy:8188/"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	got := client.ViewURL(OutputDescriptor{Filename: "a b.png", Subfolder: "sub", Type: "output"})
	if !strings.HasPrefix(got, "http://comfy:8188/view?") {
		t.Fatalf("url = %q", got)
	}
	if !strings.Contains(got, "filename=a+b.png") || !strings.Contains(got, "subfolder=sub") || !strings.Contains(got, "type=output") {
		t.Fatalf("url missing params: %q", got)
	}
}
