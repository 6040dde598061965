package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/finch/internal/model"
	"github.com/kalambet/finch/internal/tools"
	"github.com/kalambet/finch/internal/vectorindex"
)

type stubSearcher struct{}

func (stubSearcher) Search(ctx context.Context, userID, query string, k int) ([]vectorindex.Hit, error) {
	return []vectorindex.Hit{{DocumentID: "doc-1", Text: "stub hit", Page: 1}}, nil
}

func newTestDriver(t *testing.T, baseURL string) *Driver {
	t.Helper()
	client := model.NewClientWithBaseURL("test-key", baseURL)
	search := tools.NewWebSearchWithBaseURL("tavily-key", baseURL)
	return NewDriver(client, "test-model", search, stubSearcher{})
}

func TestConfigureModes(t *testing.T) {
	d := newTestDriver(t, "http://unused.local")

	cfg, err := d.Configure(ModePlainChat, "")
	if err != nil {
		t.Fatalf("plain chat: %v", err)
	}
	if len(cfg.Tools) != 0 {
		t.Errorf("plain chat should carry no tools, got %d", len(cfg.Tools))
	}
	if cfg.SystemPrompt == "" {
		t.Error("plain chat missing system prompt")
	}

	cfg, err = d.Configure(ModeWebSearch, "")
	if err != nil {
		t.Fatalf("web search: %v", err)
	}
	if len(cfg.Tools) != 1 || cfg.Tools[0].Name() != "web_search" {
		t.Errorf("web search tools = %v", cfg.Tools)
	}

	cfg, err = d.Configure(ModeDocumentSearch, "user-42")
	if err != nil {
		t.Fatalf("document search: %v", err)
	}
	if len(cfg.Tools) != 1 || cfg.Tools[0].Name() != "document_search" {
		t.Errorf("document search tools = %v", cfg.Tools)
	}
	if !strings.Contains(cfg.SystemPrompt, "user-42") {
		t.Error("document search prompt should name the scope user")
	}
	if cfg.ScopeUserID != "user-42" {
		t.Errorf("ScopeUserID = %q", cfg.ScopeUserID)
	}
}

func TestConfigureDocumentSearchRequiresScope(t *testing.T) {
	d := newTestDriver(t, "http://unused.local")
	if _, err := d.Configure(ModeDocumentSearch, ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestConfigureMissingCredentials(t *testing.T) {
	d := &Driver{}
	if _, err := d.Configure(ModePlainChat, ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	d = &Driver{client: model.NewClient("k")}
	if _, err := d.Configure(ModePlainChat, ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured for empty model name, got %v", err)
	}
}

// sseChunk writes one streaming completion chunk in wire format.
func sseChunk(w io.Writer, delta map[string]any, finish string) {
	choice := map[string]any{"delta": delta}
	if finish != "" {
		choice["finish_reason"] = finish
	}
	b, _ := json.Marshal(map[string]any{"choices": []any{choice}})
	fmt.Fprintf(w, "data: %s\n\n", b)
}

func collect(t *testing.T, es EventStream) []Event {
	t.Helper()
	defer es.Close()
	var events []Event
	for {
		ev, err := es.Next()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		events = append(events, ev)
	}
}

func TestRunPlainTurn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sseChunk(w, map[string]any{"content": "Hello"}, "")
		sseChunk(w, map[string]any{"content": " there."}, "stop")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	d := newTestDriver(t, srv.URL)
	cfg, err := d.Configure(ModePlainChat, "")
	if err != nil {
		t.Fatal(err)
	}

	es, err := d.Run(context.Background(), cfg, "hi")
	if err != nil {
		t.Fatal(err)
	}
	events := collect(t, es)

	want := []Event{
		{Type: EventTextDelta, Text: "Hello"},
		{Type: EventTextDelta, Text: " there."},
		{Type: EventEndOfTurn},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, ev := range events {
		if ev != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, ev, want[i])
		}
	}

	// Next after EndOfTurn keeps returning io.EOF.
	if _, err := es.Next(); err != io.EOF {
		t.Errorf("Next after end of turn: %v, want io.EOF", err)
	}
}

func TestRunToolCallRoundTrip(t *testing.T) {
	var round int
	var toolCalled bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/search" {
			// Tavily endpoint.
			toolCalled = true
			var req map[string]any
			json.NewDecoder(r.Body).Decode(&req)
			if req["query"] != "AAPL revenue 2024" {
				t.Errorf("tool query = %v", req["query"])
			}
			json.NewEncoder(w).Encode(map[string]any{
				"results": []map[string]any{
					{"title": "Apple 10-K", "url": "https://example.com", "content": "Revenue was $391B"},
				},
			})
			return
		}

		round++
		w.Header().Set("Content-Type", "text/event-stream")
		switch round {
		case 1:
			sseChunk(w, map[string]any{"tool_calls": []map[string]any{{
				"index": 0, "id": "call_1", "type": "function",
				"function": map[string]any{"name": "web_search", "arguments": `{"query":`},
			}}}, "")
			sseChunk(w, map[string]any{"tool_calls": []map[string]any{{
				"index":    0,
				"function": map[string]any{"arguments": `"AAPL revenue 2024"}`},
			}}}, "tool_calls")
			fmt.Fprint(w, "data: [DONE]\n\n")
		default:
			// Second round sees the tool result in the history.
			var req model.ChatRequest
			json.NewDecoder(r.Body).Decode(&req)
			last := req.Messages[len(req.Messages)-1]
			if last.Role != "tool" || !strings.Contains(last.Content, "Revenue was $391B") {
				t.Errorf("final round missing tool message, got %+v", last)
			}
			sseChunk(w, map[string]any{"content": "Apple's revenue was $391B."}, "stop")
			fmt.Fprint(w, "data: [DONE]\n\n")
		}
	}))
	defer srv.Close()

	d := newTestDriver(t, srv.URL)
	cfg, err := d.Configure(ModeWebSearch, "")
	if err != nil {
		t.Fatal(err)
	}

	es, err := d.Run(context.Background(), cfg, "What was Apple's 2024 revenue?")
	if err != nil {
		t.Fatal(err)
	}
	events := collect(t, es)

	if !toolCalled {
		t.Fatal("web search tool was never invoked")
	}

	var types []EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []EventType{EventToolCall, EventToolResult, EventTextDelta, EventEndOfTurn}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event types = %v, want %v", types, want)
		}
	}

	if events[0].ToolName != "web_search" || !strings.Contains(events[0].ToolArgs, "AAPL revenue 2024") {
		t.Errorf("tool call event = %+v", events[0])
	}
	if !strings.Contains(events[1].ToolResult, "Revenue was $391B") {
		t.Errorf("tool result event = %+v", events[1])
	}
}

func TestRunRoundLimit(t *testing.T) {
	// Model asks for a tool on every round; the driver must stop after
	// maxRounds instead of looping forever.
	var rounds int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/search" {
			json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{}})
			return
		}
		rounds++
		w.Header().Set("Content-Type", "text/event-stream")
		sseChunk(w, map[string]any{"tool_calls": []map[string]any{{
			"index": 0, "id": fmt.Sprintf("call_%d", rounds), "type": "function",
			"function": map[string]any{"name": "web_search", "arguments": `{"query":"q"}`},
		}}}, "tool_calls")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	d := newTestDriver(t, srv.URL)
	d.maxRounds = 2
	cfg, err := d.Configure(ModeWebSearch, "")
	if err != nil {
		t.Fatal(err)
	}

	es, err := d.Run(context.Background(), cfg, "loop")
	if err != nil {
		t.Fatal(err)
	}
	events := collect(t, es)

	if rounds != 2 {
		t.Errorf("model rounds = %d, want 2", rounds)
	}
	if len(events) == 0 || events[len(events)-1].Type != EventEndOfTurn {
		t.Errorf("turn must end with EventEndOfTurn, got %+v", events)
	}
}

func TestRunUpstreamFailureMidTurn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sseChunk(w, map[string]any{"content": "partial"}, "")
		fmt.Fprint(w, `data: {"error": {"message": "upstream exploded"}}`+"\n\n")
	}))
	defer srv.Close()

	d := newTestDriver(t, srv.URL)
	cfg, err := d.Configure(ModePlainChat, "")
	if err != nil {
		t.Fatal(err)
	}

	es, err := d.Run(context.Background(), cfg, "hi")
	if err != nil {
		t.Fatal(err)
	}
	defer es.Close()

	ev, err := es.Next()
	if err != nil || ev.Type != EventTextDelta || ev.Text != "partial" {
		t.Fatalf("first event = %+v, %v", ev, err)
	}
	if _, err := es.Next(); err == nil || err == io.EOF {
		t.Fatalf("expected upstream error, got %v", err)
	}
}
