// Package ingest turns uploaded PDF documents into per-user vector
// index entries via a SQLite-backed background job queue.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/finch/internal/storage"
	"github.com/kalambet/finch/internal/vectorindex"
)

// JobTypeDocumentIngest is the queue job type the worker claims.
const JobTypeDocumentIngest = "document_ingest"

// maxPDFBytes bounds how much of a document URL the worker will read.
const maxPDFBytes = 50 << 20

// JobStore abstracts the job queue and document bookkeeping operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetDocument(id, ownerID string) (storage.Document, error)
	UpdateDocumentStatus(id, status, lastError string) error
}

// ChunkIndexer inserts chunks into the per-user vector index.
type ChunkIndexer interface {
	IndexChunks(ctx context.Context, userID, documentID string, chunks []vectorindex.Chunk) error
}

// Payload is the queue job payload for document ingestion.
type Payload struct {
	DocumentID string `json:"document_id"`
	OwnerID    string `json:"owner_id"`
}

// NewJob builds a queue job for ingesting the given document.
func NewJob(documentID, ownerID string) (storage.Job, error) {
	payload, err := json.Marshal(Payload{DocumentID: documentID, OwnerID: ownerID})
	if err != nil {
		return storage.Job{}, fmt.Errorf("encoding payload: %w", err)
	}
	return storage.Job{
		ID:          uuid.New().String(),
		Type:        JobTypeDocumentIngest,
		PayloadJSON: string(payload),
	}, nil
}

// Worker processes document_ingest jobs from the SQLite job queue.
type Worker struct {
	store  JobStore
	index  ChunkIndexer
	client *http.Client
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, index ChunkIndexer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		index:  index,
		client: &http.Client{Timeout: 60 * time.Second},
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single document_ingest job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeDocumentIngest})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	doc, err := w.store.GetDocument(payload.DocumentID, payload.OwnerID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", payload.DocumentID, err)
	}

	if err := w.ingest(ctx, doc); err != nil {
		if statusErr := w.store.UpdateDocumentStatus(doc.ID, "failed", err.Error()); statusErr != nil {
			w.logger.Error("failed to mark document as failed", "document_id", doc.ID, "error", statusErr)
		}
		return err
	}

	if err := w.store.UpdateDocumentStatus(doc.ID, "completed", ""); err != nil {
		return fmt.Errorf("marking document completed: %w", err)
	}
	w.logger.Info("document ingested", "document_id", doc.ID, "owner_id", doc.OwnerID)
	return nil
}

func (w *Worker) ingest(ctx context.Context, doc storage.Document) error {
	raw, err := w.fetch(ctx, doc.URL)
	if err != nil {
		return fmt.Errorf("fetching document: %w", err)
	}

	pages, err := ExtractPages(raw)
	if err != nil {
		return err
	}

	chunks := Chunks(doc.ID, pages)
	if err := w.index.IndexChunks(ctx, doc.OwnerID, doc.ID, chunks); err != nil {
		return fmt.Errorf("indexing chunks: %w", err)
	}
	return nil
}

func (w *Worker) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPDFBytes))
}
