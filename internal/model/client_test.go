package model

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func sseServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClientWithBaseURL("test-key", srv.URL)
}

func TestClient_Stream(t *testing.T) {
	c := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q, want bearer test-key", auth)
		}
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if !req.Stream {
			t.Error("stream flag not set on upstream request")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	s, err := c.Stream(context.Background(), ChatRequest{
		Model:    "test-model",
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	defer s.Close()

	chunk, err := s.Next()
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if chunk.Content != "hi" {
		t.Errorf("content = %q, want %q", chunk.Content, "hi")
	}
	if _, err := s.Next(); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestClient_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	s, err := c.Stream(context.Background(), ChatRequest{Model: "test-model"})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	s.Close()

	if got := calls.Load(); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
}

func TestClient_UpstreamFailure(t *testing.T) {
	c := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad model"}`, http.StatusBadRequest)
	})

	if _, err := c.Stream(context.Background(), ChatRequest{Model: "nope"}); err == nil {
		t.Fatal("Stream() succeeded, want error on HTTP 400")
	}
}
