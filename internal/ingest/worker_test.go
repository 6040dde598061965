package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/finch/internal/storage"
	"github.com/kalambet/finch/internal/vectorindex"
)

type mockJobStore struct {
	job *storage.Job
	doc storage.Document

	completed []string
	failed    map[string]string
	statuses  map[string]string
	errors    map[string]string
}

func newMockJobStore() *mockJobStore {
	return &mockJobStore{
		failed:   map[string]string{},
		statuses: map[string]string{},
		errors:   map[string]string{},
	}
}

func (m *mockJobStore) ClaimNextJob(types []string) (*storage.Job, error) {
	j := m.job
	m.job = nil
	return j, nil
}

func (m *mockJobStore) CompleteJob(id string) error {
	m.completed = append(m.completed, id)
	return nil
}

func (m *mockJobStore) FailJob(id string, errMsg string) error {
	m.failed[id] = errMsg
	return nil
}

func (m *mockJobStore) GetDocument(id, ownerID string) (storage.Document, error) {
	if m.doc.ID != id || m.doc.OwnerID != ownerID {
		return storage.Document{}, storage.ErrNotFound
	}
	return m.doc, nil
}

func (m *mockJobStore) UpdateDocumentStatus(id, status, lastError string) error {
	m.statuses[id] = status
	m.errors[id] = lastError
	return nil
}

type mockIndexer struct {
	gotUser string
	gotDoc  string
	chunks  []vectorindex.Chunk
}

func (m *mockIndexer) IndexChunks(ctx context.Context, userID, documentID string, chunks []vectorindex.Chunk) error {
	m.gotUser = userID
	m.gotDoc = documentID
	m.chunks = chunks
	return nil
}

func TestNewJobPayload(t *testing.T) {
	job, err := NewJob("doc-1", "user-1")
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	if job.Type != JobTypeDocumentIngest || job.ID == "" {
		t.Errorf("job = %+v", job)
	}

	var p Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.DocumentID != "doc-1" || p.OwnerID != "user-1" {
		t.Errorf("payload = %+v", p)
	}
}

func TestRunOnceNoJobs(t *testing.T) {
	w := NewWorker(newMockJobStore(), &mockIndexer{}, 0)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("RunOnce reported work with an empty queue")
	}
}

func TestRunOnceFetchFailureMarksDocumentFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newMockJobStore()
	job, err := NewJob("doc-1", "user-1")
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	store.job = &job
	store.doc = storage.Document{ID: "doc-1", OwnerID: "user-1", URL: srv.URL, Status: "processing"}

	w := NewWorker(store, &mockIndexer{}, 0)
	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("RunOnce should report the claimed job as processed")
	}

	if _, ok := store.failed[job.ID]; !ok {
		t.Error("job was not marked failed")
	}
	if store.statuses["doc-1"] != "failed" {
		t.Errorf("document status = %q, want failed", store.statuses["doc-1"])
	}
	if store.errors["doc-1"] == "" {
		t.Error("document last_error should carry the failure reason")
	}
	if len(store.completed) != 0 {
		t.Errorf("job unexpectedly completed: %v", store.completed)
	}
}

func TestChunksPagePrefix(t *testing.T) {
	pages := []Page{
		{Number: 1, Text: "Revenue grew 12% year over year."},
		{Number: 3, Text: "Net debt declined."},
	}

	chunks := Chunks("doc-1", pages)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if !strings.HasPrefix(chunks[0].Text, "[page 1]\n") || chunks[0].Page != 1 {
		t.Errorf("chunk 0 = %+v", chunks[0])
	}
	if !strings.HasPrefix(chunks[1].Text, "[page 3]\n") || chunks[1].Page != 3 {
		t.Errorf("chunk 1 = %+v", chunks[1])
	}
	if chunks[0].ID == chunks[1].ID {
		t.Error("chunk ids must be unique")
	}
}

func TestSplitTextWordBoundaries(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("alpha beta gamma ", 200))
	parts := splitText(text, maxChunkChars)

	if len(parts) < 2 {
		t.Fatalf("expected multiple parts, got %d", len(parts))
	}
	for _, p := range parts {
		if len(p) > maxChunkChars {
			t.Errorf("part exceeds max: %d chars", len(p))
		}
		for _, w := range strings.Fields(p) {
			if w != "alpha" && w != "beta" && w != "gamma" {
				t.Fatalf("word split across chunks: %q", w)
			}
		}
	}
}
