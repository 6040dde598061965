// Package vectorindex provides per-user semantic search over document
// chunks, backed by chromem-go with disk persistence.
package vectorindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"golang.org/x/sync/errgroup"
)

// Chunk is one indexable fragment of a document.
type Chunk struct {
	ID   string
	Text string
	Page int
}

// Hit is a single semantic-search result.
type Hit struct {
	DocumentID string
	Text       string
	Page       int
	Score      float32
}

// Index wraps chromem-go with one collection per user, so a search can
// only ever see the requesting user's documents.
type Index struct {
	mu      sync.RWMutex
	db      *chromem.DB
	embedFn chromem.EmbeddingFunc
}

// Open creates (or opens) the persistent index at dataDir/vectors.
// embedFn generates embeddings; pass chromem.NewEmbeddingFuncOpenAICompat
// pointed at the configured embeddings endpoint.
func Open(dataDir string, embedFn chromem.EmbeddingFunc) (*Index, error) {
	dir := filepath.Join(dataDir, "vectors")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating vector index directory: %w", err)
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("opening vector index: %w", err)
	}
	return &Index{db: db, embedFn: embedFn}, nil
}

// NewInMemory creates a non-persistent index (used by tests).
func NewInMemory(embedFn chromem.EmbeddingFunc) *Index {
	return &Index{db: chromem.NewDB(), embedFn: embedFn}
}

func collectionName(userID string) string {
	return "user_" + userID + "_documents"
}

func (x *Index) collection(userID string) (*chromem.Collection, error) {
	col := x.db.GetCollection(collectionName(userID), x.embedFn)
	if col != nil {
		return col, nil
	}
	col, err := x.db.CreateCollection(collectionName(userID), nil, x.embedFn)
	if err != nil {
		return nil, fmt.Errorf("creating collection for user %s: %w", userID, err)
	}
	return col, nil
}

// IndexChunks embeds and stores a document's chunks in the owner's
// collection. Embedding runs concurrently, bounded to avoid overwhelming
// the embeddings endpoint.
func (x *Index) IndexChunks(ctx context.Context, userID, documentID string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	col, err := x.collection(userID)
	if err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, ch := range chunks {
		g.Go(func() error {
			doc := chromem.Document{
				ID:      ch.ID,
				Content: ch.Text,
				Metadata: map[string]string{
					"document_id": documentID,
					"page":        strconv.Itoa(ch.Page),
				},
			}
			if err := col.AddDocument(gCtx, doc); err != nil {
				return fmt.Errorf("indexing chunk %s: %w", ch.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Search returns the top-k chunks most similar to query among the given
// user's documents. Other users' collections are never consulted.
func (x *Index) Search(ctx context.Context, userID, query string, k int) ([]Hit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	col := x.db.GetCollection(collectionName(userID), x.embedFn)
	if col == nil {
		return nil, nil
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	// chromem-go occasionally rejects nResults despite the Count check.
	// Step k down until the query succeeds.
	var results []chromem.Result
	var err error
	for attemptK := k; attemptK > 0; attemptK-- {
		results, err = col.Query(ctx, query, attemptK, nil, nil)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("querying index for user %s: %w", userID, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		page, _ := strconv.Atoi(r.Metadata["page"])
		hits = append(hits, Hit{
			DocumentID: r.Metadata["document_id"],
			Text:       r.Content,
			Page:       page,
			Score:      r.Similarity,
		})
	}
	return hits, nil
}

// DeleteDocument removes every chunk of the given document from the
// owner's collection.
func (x *Index) DeleteDocument(ctx context.Context, userID, documentID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	col := x.db.GetCollection(collectionName(userID), x.embedFn)
	if col == nil {
		return nil
	}
	if err := col.Delete(ctx, map[string]string{"document_id": documentID}, nil); err != nil {
		return fmt.Errorf("deleting document %s: %w", documentID, err)
	}
	return nil
}
