package meili

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/asmelnikov/docstream/internal/core/domain"
)

func writeTask(w http.ResponseWriter, uid int64) {
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, `{"taskUid":%d}`, uid)
}

func writeTaskStatus(w http.ResponseWriter, status string) {
	fmt.Fprintf(w, `{"status":%q}`, status)
}

func TestUpsertCreatesIndexOnceAndSendsDocument(t *testing.T) {
	var createCalls, settingsCalls, upsertCalls int
	var settingsBody, lastBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/indexes":
			createCalls++
			writeTask(w, 1)
		case r.Method == http.MethodPatch && r.URL.Path == "/indexes/documents/settings":
			settingsCalls++
			settingsBody, _ = io.ReadAll(r.Body)
			writeTask(w, 2)
		case r.Method == http.MethodPost && r.URL.Path == "/indexes/documents/documents":
			upsertCalls++
			lastBody, _ = io.ReadAll(r.Body)
			writeTask(w, 3)
		case strings.HasPrefix(r.URL.Path, "/tasks/"):
			writeTaskStatus(w, "succeeded")
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	client := New(server.URL, "documents", "", nil)
	entry := domain.IndexEntry{DocumentID: "doc-1", Title: "Report", Slug: "report-doc-1", Text: "body"}
	if err := client.Upsert(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := client.Upsert(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if createCalls != 1 {
		t.Fatalf("index create calls = %d, want 1", createCalls)
	}
	if settingsCalls != 1 {
		t.Fatalf("settings calls = %d, want 1", settingsCalls)
	}
	if upsertCalls != 2 {
		t.Fatalf("upsert calls = %d, want 2", upsertCalls)
	}
	var settings map[string][]string
	if err := json.Unmarshal(settingsBody, &settings); err != nil {
		t.Fatalf("unmarshal settings: %v", err)
	}
	if got := settings["filterableAttributes"]; len(got) != 1 || got[0] != "id" {
		t.Fatalf("filterableAttributes = %v, want [id]", got)
	}
	var sent []map[string]any
	if err := json.Unmarshal(lastBody, &sent); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if len(sent) != 1 || sent[0]["id"] != "doc-1" {
		t.Fatalf("payload = %s", lastBody)
	}
}

func TestUpsertToleratesExistingIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/indexes":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"code":"index_already_exists"}`))
		case strings.HasPrefix(r.URL.Path, "/tasks/"):
			writeTaskStatus(w, "succeeded")
		default:
			writeTask(w, 1)
		}
	}))
	defer server.Close()

	client := New(server.URL, "documents", "", nil)
	err := client.Upsert(context.Background(), domain.IndexEntry{DocumentID: "doc-1", Text: "body"})
	if err != nil {
		t.Fatalf("existing index must not fail the upsert, got %v", err)
	}
}

func TestDeleteByDocumentDeclaresFilterThenSendsIDFilter(t *testing.T) {
	var settingsCalls int
	var gotFilter string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/indexes":
			writeTask(w, 1)
		case r.Method == http.MethodPatch && r.URL.Path == "/indexes/documents/settings":
			settingsCalls++
			writeTask(w, 2)
		case strings.HasSuffix(r.URL.Path, "/documents/delete"):
			var payload map[string]string
			_ = json.NewDecoder(r.Body).Decode(&payload)
			gotFilter = payload["filter"]
			writeTask(w, 3)
		case strings.HasPrefix(r.URL.Path, "/tasks/"):
			writeTaskStatus(w, "succeeded")
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	client := New(server.URL, "documents", "", nil)
	if err := client.DeleteByDocument(context.Background(), "doc-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settingsCalls != 1 {
		t.Fatal("id must be declared filterable before a delete-by-filter")
	}
	if !strings.Contains(gotFilter, `"doc-1"`) {
		t.Fatalf("filter = %q", gotFilter)
	}
}

func TestUpsertWaitsForTaskCompletion(t *testing.T) {
	var taskPolls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/indexes" || strings.HasSuffix(r.URL.Path, "/settings"):
			writeTask(w, 1)
		case strings.HasSuffix(r.URL.Path, "/documents"):
			writeTask(w, 9)
		case r.URL.Path == "/tasks/9":
			taskPolls++
			if taskPolls < 3 {
				writeTaskStatus(w, "processing")
				return
			}
			writeTaskStatus(w, "succeeded")
		case strings.HasPrefix(r.URL.Path, "/tasks/"):
			writeTaskStatus(w, "succeeded")
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	client := New(server.URL, "documents", "", nil)
	client.taskPoll = time.Millisecond
	err := client.Upsert(context.Background(), domain.IndexEntry{DocumentID: "doc-1", Text: "body"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if taskPolls != 3 {
		t.Fatalf("task polls = %d, want 3", taskPolls)
	}
}

func TestUpsertReportsFailedTask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/indexes" || strings.HasSuffix(r.URL.Path, "/settings"):
			writeTask(w, 1)
		case strings.HasSuffix(r.URL.Path, "/documents"):
			writeTask(w, 9)
		case r.URL.Path == "/tasks/9":
			fmt.Fprint(w, `{"status":"failed","error":{"code":"invalid_document_fields","message":"bad field"}}`)
		case strings.HasPrefix(r.URL.Path, "/tasks/"):
			writeTaskStatus(w, "succeeded")
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	client := New(server.URL, "documents", "", nil)
	err := client.Upsert(context.Background(), domain.IndexEntry{DocumentID: "doc-1", Text: "body"})
	if err == nil {
		t.Fatal("a failed task must not be reported as success")
	}
	if !strings.Contains(err.Error(), "invalid_document_fields") {
		t.Fatalf("error = %v, want the task failure code", err)
	}
}

func TestUpsertMapsServerErrorToTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(server.URL, "documents", "", nil)
	err := client.Upsert(context.Background(), domain.IndexEntry{DocumentID: "doc-1", Text: "body"})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}
