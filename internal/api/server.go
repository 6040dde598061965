// Package api exposes the HTTP surface: the streaming chat endpoint,
// user/thread/document management, and the MCP server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/finch/internal/chat"
	"github.com/kalambet/finch/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// DocumentVectors abstracts vector cleanup for document deletion.
type DocumentVectors interface {
	DeleteDocument(ctx context.Context, userID, documentID string) error
}

// Deps holds the handler dependencies.
type Deps struct {
	Store      *storage.Store
	Controller *chat.Controller
	Vectors    DocumentVectors // optional; if nil, vector cleanup is skipped on delete
	Token      string          // management bearer token; empty disables auth
}

// NewHandler returns the service's HTTP handler.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/v1/chat", handleChat(deps))

	r.Group(func(g chi.Router) {
		if deps.Token != "" {
			g.Use(BearerAuth(deps.Token))
		}
		g.Post("/users", handleCreateUser(deps))
		g.Get("/threads", handleListThreads(deps))
		g.Get("/threads/{id}", handleGetThread(deps))
		g.Post("/documents", handleCreateDocument(deps))
		g.Get("/documents", handleListDocuments(deps))
		g.Delete("/documents/{id}", handleDeleteDocument(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
