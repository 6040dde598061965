package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/finch/internal/ingest"
	"github.com/kalambet/finch/internal/storage"
)

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func handleCreateUser(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req createUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Email == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "email is required")
			return
		}

		// Password is stored opaque; hashing schemes are not this
		// service's concern.
		u, err := deps.Store.CreateUser(req.Email, req.Password)
		if errors.Is(err, storage.ErrAlreadyExists) {
			httpError(w, http.StatusConflict, "invalid_request_error", "email already registered")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "creating user: %v", err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{
			"id":    u.ID,
			"email": u.Email,
		})
	}
}

// requireUserID resolves the acting user from the user_id query
// parameter. Returns "" after writing the error response.
func requireUserID(w http.ResponseWriter, r *http.Request) string {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id query parameter is required")
	}
	return userID
}

func handleListThreads(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := requireUserID(w, r)
		if userID == "" {
			return
		}

		summaries, err := deps.Store.ListThreads(userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing threads: %v", err)
			return
		}

		type threadView struct {
			ID         string `json:"id"`
			FirstQuery string `json:"first_query"`
			TurnCount  int    `json:"turn_count"`
			CreatedAt  string `json:"created_at"`
		}
		views := make([]threadView, len(summaries))
		for i, s := range summaries {
			views[i] = threadView{
				ID:         s.ID,
				FirstQuery: s.FirstQuery,
				TurnCount:  s.TurnCount,
				CreatedAt:  s.CreatedAt.Format(time.RFC3339),
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"threads": views})
	}
}

func handleGetThread(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := requireUserID(w, r)
		if userID == "" {
			return
		}
		threadID := chi.URLParam(r, "id")

		thread, err := deps.Store.GetThread(threadID, userID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "invalid_request_error", "thread not found")
			return
		}
		if errors.Is(err, storage.ErrAccessDenied) {
			httpError(w, http.StatusForbidden, "invalid_request_error", "thread belongs to another user")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading thread: %v", err)
			return
		}

		turns, err := deps.Store.ListTurns(thread.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading turns: %v", err)
			return
		}

		type turnView struct {
			ID        string `json:"id"`
			Query     string `json:"query"`
			Response  string `json:"response"`
			CreatedAt string `json:"created_at"`
		}
		views := make([]turnView, len(turns))
		for i, t := range turns {
			views[i] = turnView{
				ID:        t.ID,
				Query:     t.Query,
				Response:  t.Response,
				CreatedAt: t.CreatedAt.Format(time.RFC3339),
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":    thread.ID,
			"turns": views,
		})
	}
}

type createDocumentRequest struct {
	UserID   string `json:"user_id"`
	URL      string `json:"url"`
	FileName string `json:"file_name"`
}

func handleCreateDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req createDocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" || req.URL == "" || req.FileName == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id, url, and file_name are required")
			return
		}
		if _, err := deps.Store.GetUser(req.UserID); err != nil {
			httpError(w, http.StatusNotFound, "invalid_request_error", "user not found")
			return
		}

		doc, err := deps.Store.CreateDocument(req.UserID, req.FileName, req.URL)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "creating document: %v", err)
			return
		}

		job, err := ingest.NewJob(doc.ID, doc.OwnerID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "queueing ingest: %v", err)
			return
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "queueing ingest: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"id":     doc.ID,
			"status": doc.Status,
		})
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := requireUserID(w, r)
		if userID == "" {
			return
		}

		docs, err := deps.Store.ListDocuments(userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing documents: %v", err)
			return
		}

		type docView struct {
			ID        string `json:"id"`
			FileName  string `json:"file_name"`
			Status    string `json:"status"`
			CreatedAt string `json:"created_at"`
		}
		views := make([]docView, len(docs))
		for i, d := range docs {
			views[i] = docView{
				ID:        d.ID,
				FileName:  d.FileName,
				Status:    d.Status,
				CreatedAt: d.CreatedAt.Format(time.RFC3339),
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": views})
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := requireUserID(w, r)
		if userID == "" {
			return
		}
		docID := chi.URLParam(r, "id")

		err := deps.Store.DeleteDocument(docID, userID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "invalid_request_error", "document not found")
			return
		}
		if errors.Is(err, storage.ErrAccessDenied) {
			httpError(w, http.StatusForbidden, "invalid_request_error", "document belongs to another user")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "deleting document: %v", err)
			return
		}

		if deps.Vectors != nil {
			if err := deps.Vectors.DeleteDocument(r.Context(), userID, docID); err != nil {
				// Row is gone; orphaned vectors are only a space leak.
				slog.Warn("vector cleanup failed", "document_id", docID, "error", err)
			}
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
