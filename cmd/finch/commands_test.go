package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:      ts.server.URL,
		token:        "test-token",
		httpClient:   ts.server.Client(),
		streamClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestUsersCreate(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /users": `{"id":"u_abc","email":"ana@example.com"}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/users", map[string]string{
		"email":    "ana@example.com",
		"password": "hunter2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["id"] != "u_abc" {
		t.Errorf("id = %q, want u_abc", result["id"])
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["email"] != "ana@example.com" {
		t.Errorf("body.email = %q, want ana@example.com", body["email"])
	}
}

func TestDocumentsAdd(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /documents": `{"id":"doc_123","status":"processing"}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/documents", map[string]string{
		"user_id":   "u_abc",
		"url":       "https://example.com/report.pdf",
		"file_name": "report.pdf",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["status"] != "processing" {
		t.Errorf("status = %q, want processing", result["status"])
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["url"] != "https://example.com/report.pdf" {
		t.Errorf("body.url = %q", body["url"])
	}
}

func TestChatCommand_MissingUser(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"chat", "some question"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error when --user is missing")
	}
	if !strings.Contains(err.Error(), "--user is required") {
		t.Errorf("error = %q, want it to mention --user", err.Error())
	}
}

func TestStreamChat_ContentAndDone(t *testing.T) {
	stream := strings.Join([]string{
		`data: {"type":"thread_id","content":"t_1"}`,
		``,
		`data: {"type":"content","content":"Markets closed "}`,
		``,
		`data: {"type":"content","content":"higher today."}`,
		``,
		`data: {"type":"done","content":""}`,
		``,
	}, "\n")

	if err := streamChat(strings.NewReader(stream)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStreamChat_ErrorBeforeDone(t *testing.T) {
	stream := strings.Join([]string{
		`data: {"type":"content","content":"partial"}`,
		``,
		`data: {"type":"error","content":"generation failed"}`,
		``,
		`data: {"type":"done","content":""}`,
		``,
	}, "\n")

	err := streamChat(strings.NewReader(stream))
	if err == nil {
		t.Fatal("expected error from error event")
	}
	if !strings.Contains(err.Error(), "generation failed") {
		t.Errorf("error = %q, want it to carry the server message", err.Error())
	}
}

func TestStreamChat_TruncatedStream(t *testing.T) {
	stream := `data: {"type":"content","content":"partial"}` + "\n"

	err := streamChat(strings.NewReader(stream))
	if err == nil {
		t.Fatal("expected error for stream without done event")
	}
	if !strings.Contains(err.Error(), "done") {
		t.Errorf("error = %q, want it to mention the missing done event", err.Error())
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestThreadsList_Decode(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /threads": `{"threads":[{"id":"t_1","first_query":"AAPL revenue?","turn_count":3,"created_at":"2025-01-01T00:00:00Z"}]}`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/threads?user_id=u_abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Threads []struct {
			ID        string `json:"id"`
			TurnCount int    `json:"turn_count"`
		} `json:"threads"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(result.Threads) != 1 || result.Threads[0].ID != "t_1" {
		t.Fatalf("threads = %+v, want one thread t_1", result.Threads)
	}
	if got := ts.requests[0].Path; got != "/threads?user_id=u_abc" {
		t.Errorf("path = %q, want /threads?user_id=u_abc", got)
	}
}
