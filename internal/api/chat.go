package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kalambet/finch/internal/agent"
	"github.com/kalambet/finch/internal/chat"
)

// ChatRequest is the body of POST /v1/chat. When DocumentSearch is set
// it takes precedence over WebSearch for the turn.
type ChatRequest struct {
	UserID         string `json:"user_id"`
	Query          string `json:"query"`
	ThreadID       string `json:"thread_id,omitempty"`
	WebSearch      bool   `json:"web_search"`
	DocumentSearch bool   `json:"document_search"`
}

func (r ChatRequest) mode() agent.Mode {
	switch {
	case r.DocumentSearch:
		return agent.ModeDocumentSearch
	case r.WebSearch:
		return agent.ModeWebSearch
	default:
		return agent.ModePlainChat
	}
}

// handleChat streams one conversation turn as server-sent events, one
// JSON object per event: {"type": ..., "content": ...}.
func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" || req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id and query are required")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		emit := func(ev chat.Event) error {
			payload, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		}

		// Turn-level failures surface as error events inside the stream;
		// the returned error only reports a gone client.
		deps.Controller.HandleTurn(r.Context(), chat.Request{
			UserID:   req.UserID,
			Query:    req.Query,
			ThreadID: req.ThreadID,
			Mode:     req.mode(),
		}, emit)
	}
}
