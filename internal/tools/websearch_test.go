package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func searchServer(t *testing.T, handler http.HandlerFunc) *WebSearch {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewWebSearchWithBaseURL("test-key", srv.URL)
}

func TestWebSearch_Call(t *testing.T) {
	w := searchServer(t, func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			http.NotFound(rw, r)
			return
		}
		var req tavilyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.Query != "nifty 50 performance" {
			t.Errorf("query = %q, want %q", req.Query, "nifty 50 performance")
		}
		if req.MaxResults != 3 {
			t.Errorf("max_results = %d, want 3", req.MaxResults)
		}
		json.NewEncoder(rw).Encode(map[string]any{
			"results": []map[string]string{
				{"title": "Nifty 50", "url": "https://example.com/nifty", "content": "The index rose 2%."},
			},
		})
	})

	res := w.Call(context.Background(), `{"query":"nifty 50 performance","num_results":3}`)
	if res.Empty {
		t.Fatal("result is empty, want one hit")
	}

	var hits []WebResult
	if err := json.Unmarshal([]byte(res.Content), &hits); err != nil {
		t.Fatalf("result content is not JSON: %v", err)
	}
	if len(hits) != 1 || hits[0].Link != "https://example.com/nifty" {
		t.Errorf("hits = %+v, want one hit with example link", hits)
	}
}

func TestWebSearch_FailsOpenOnUpstreamError(t *testing.T) {
	w := searchServer(t, func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "boom", http.StatusInternalServerError)
	})

	res := w.Call(context.Background(), `{"query":"anything"}`)
	if !res.Empty {
		t.Errorf("result = %+v, want empty on upstream failure", res)
	}
}

func TestWebSearch_FailsOpenOnBadArguments(t *testing.T) {
	w := searchServer(t, func(rw http.ResponseWriter, r *http.Request) {
		t.Error("upstream called despite invalid arguments")
	})

	for _, args := range []string{"{not json", `{"num_results":5}`} {
		if res := w.Call(context.Background(), args); !res.Empty {
			t.Errorf("Call(%q) = %+v, want empty", args, res)
		}
	}
}

func TestWebSearch_MissingAPIKey(t *testing.T) {
	w := NewWebSearch("")
	if res := w.Call(context.Background(), `{"query":"rates"}`); !res.Empty {
		t.Errorf("result = %+v, want empty when no API key is configured", res)
	}
}
