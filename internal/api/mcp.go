package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/finch/internal/storage"
	"github.com/kalambet/finch/internal/vectorindex"
)

// MCPSearcher abstracts scoped document search for the MCP layer.
type MCPSearcher interface {
	Search(ctx context.Context, userID, query string, k int) ([]vectorindex.Hit, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store *storage.Store
	Index MCPSearcher
}

// NewMCPServer creates an MCP server exposing the document search tool
// and the recent-threads resource over stdio.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"finch",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("finch — financial analyst chat over web search and your uploaded documents."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_documents",
			mcp.WithDescription("Semantically search a user's uploaded documents and return matching passages with page numbers."),
			mcp.WithString("user_id", mcp.Description("Id of the user whose documents to search"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of passages (default 5)")),
		),
		mcpSearchDocuments(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"finch://threads/recent",
			"Recent Threads",
			mcp.WithResourceDescription("The 10 most recent conversation threads"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentThreads(deps),
	)

	return s
}

func mcpSearchDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		hits, err := deps.Index.Search(ctx, userID, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(hits) == 0 {
			return mcpText("[]"), nil
		}

		type hitResult struct {
			DocumentID string  `json:"document_id"`
			Page       int     `json:"page"`
			Text       string  `json:"text"`
			Score      float32 `json:"score"`
		}
		results := make([]hitResult, len(hits))
		for i, h := range hits {
			results[i] = hitResult{
				DocumentID: h.DocumentID,
				Page:       h.Page,
				Text:       h.Text,
				Score:      h.Score,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecentThreads(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		threads, err := deps.Store.RecentThreads(10)
		if err != nil {
			return nil, fmt.Errorf("failed to list recent threads: %w", err)
		}

		type threadSummary struct {
			ID         string `json:"id"`
			OwnerID    string `json:"owner_id"`
			FirstQuery string `json:"first_query"`
			TurnCount  int    `json:"turn_count"`
			CreatedAt  string `json:"created_at"`
		}
		summaries := make([]threadSummary, len(threads))
		for i, t := range threads {
			summaries[i] = threadSummary{
				ID:         t.ID,
				OwnerID:    t.OwnerID,
				FirstQuery: t.FirstQuery,
				TurnCount:  t.TurnCount,
				CreatedAt:  t.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal threads: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
