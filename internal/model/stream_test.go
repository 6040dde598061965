package model

import (
	"io"
	"strings"
	"testing"
)

func streamFrom(s string) *Stream {
	return newStream(io.NopCloser(strings.NewReader(s)))
}

func TestStream_TextDeltas(t *testing.T) {
	raw := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: [DONE]\n\n"

	s := streamFrom(raw)
	defer s.Close()

	var text string
	var finish string
	for {
		chunk, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		text += chunk.Content
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}

	if text != "Hello" {
		t.Errorf("text = %q, want %q", text, "Hello")
	}
	if finish != "stop" {
		t.Errorf("finish reason = %q, want %q", finish, "stop")
	}
}

func TestStream_ToolCallDeltas(t *testing.T) {
	raw := "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"function\":{\"name\":\"web_search\",\"arguments\":\"\"}}]}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"{\\\"query\\\":\"}}]}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"\\\"rates\\\"}\"}}]}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n\n" +
		"data: [DONE]\n\n"

	s := streamFrom(raw)
	defer s.Close()

	var name, args string
	var finish string
	for {
		chunk, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		for _, tc := range chunk.ToolCalls {
			if tc.Name != "" {
				name = tc.Name
			}
			args += tc.Arguments
		}
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}

	if name != "web_search" {
		t.Errorf("tool name = %q, want %q", name, "web_search")
	}
	if args != `{"query":"rates"}` {
		t.Errorf("arguments = %q, want %q", args, `{"query":"rates"}`)
	}
	if finish != "tool_calls" {
		t.Errorf("finish reason = %q, want %q", finish, "tool_calls")
	}
}

func TestStream_SkipsCommentsAndBlankLines(t *testing.T) {
	raw := ": keep-alive\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n" +
		"data: [DONE]\n\n"

	s := streamFrom(raw)
	defer s.Close()

	chunk, err := s.Next()
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if chunk.Content != "ok" {
		t.Errorf("content = %q, want %q", chunk.Content, "ok")
	}
	if _, err := s.Next(); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestStream_UpstreamErrorPayload(t *testing.T) {
	raw := "data: {\"error\":{\"message\":\"model overloaded\"}}\n\n"

	s := streamFrom(raw)
	defer s.Close()

	_, err := s.Next()
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("err = %v, want upstream error with message", err)
	}
}

func TestStream_NextAfterDone(t *testing.T) {
	s := streamFrom("data: [DONE]\n\n")
	defer s.Close()

	if _, err := s.Next(); err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Fatalf("err after EOF = %v, want io.EOF", err)
	}
}
