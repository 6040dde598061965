package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/kalambet/finch/internal/model"
	"github.com/kalambet/finch/internal/vectorindex"
)

// DocumentSearcher is the slice of the vector index the document tool
// needs. Implemented by vectorindex.Index.
type DocumentSearcher interface {
	Search(ctx context.Context, userID, query string, k int) ([]vectorindex.Hit, error)
}

// DocumentSearch retrieves chunks from the owning user's uploaded
// documents. The scope user id is bound at construction and is the only
// id ever used — an id supplied by the model in the arguments is
// discarded, so retrieval cannot cross user boundaries.
type DocumentSearch struct {
	index  DocumentSearcher
	userID string
}

// NewDocumentSearch creates the document search tool scoped to userID.
func NewDocumentSearch(index DocumentSearcher, userID string) *DocumentSearch {
	return &DocumentSearch{index: index, userID: userID}
}

func (d *DocumentSearch) Name() string { return "document_search" }

func (d *DocumentSearch) Definition() model.ToolDef {
	return model.NewToolDef(
		"document_search",
		"Search the user's uploaded documents for relevant passages. Each passage carries its page number.",
		map[string]any{
			"query":       map[string]any{"type": "string", "description": "The search query to execute"},
			"num_results": map[string]any{"type": "integer", "description": "Number of passages to return (default 5)"},
		},
		[]string{"query"},
	)
}

type documentSearchArgs struct {
	Query      string `json:"query"`
	NumResults int    `json:"num_results"`
}

// Call searches the scoped user's documents. Failures degrade to an
// empty result.
func (d *DocumentSearch) Call(ctx context.Context, argsJSON string) Result {
	var args documentSearchArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil || args.Query == "" {
		slog.Warn("document search: invalid arguments", "args", argsJSON, "error", err)
		return EmptyResult()
	}
	if args.NumResults <= 0 || args.NumResults > maxNumResults {
		args.NumResults = defaultNumResults
	}

	hits, err := d.index.Search(ctx, d.userID, args.Query, args.NumResults)
	if err != nil {
		slog.Warn("document search failed, continuing ungrounded", "user", d.userID, "error", err)
		return EmptyResult()
	}
	if len(hits) == 0 {
		return EmptyResult()
	}

	var sb strings.Builder
	for i, h := range hits {
		if i > 0 {
			sb.WriteString("\n\n---\n\n")
		}
		sb.WriteString(h.Text)
	}
	return Result{Content: sb.String()}
}
