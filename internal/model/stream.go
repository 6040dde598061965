package model

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Chunk is one parsed server-sent event from a streaming completion.
type Chunk struct {
	// Content is the text delta, possibly empty.
	Content string
	// ToolCalls are incremental fragments of function invocations; the
	// consumer accumulates them by Index until the finish reason lands.
	ToolCalls []ToolCallDelta
	// FinishReason is "" until the final chunk of a round, then "stop"
	// or "tool_calls".
	FinishReason string
}

// ToolCallDelta is an incremental fragment of one tool call.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Stream reads chunks from an SSE response body. It is consumed once,
// in order, by a single goroutine.
type Stream struct {
	rc     io.ReadCloser
	reader *bufio.Reader
	done   bool
}

func newStream(rc io.ReadCloser) *Stream {
	return &Stream{rc: rc, reader: bufio.NewReader(rc)}
}

// Next returns the next chunk. It returns io.EOF after the upstream
// [DONE] marker or when the body ends.
func (s *Stream) Next() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.done = true
			if err == io.EOF {
				return Chunk{}, io.EOF
			}
			return Chunk{}, fmt.Errorf("reading stream: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		// Skip blank keep-alives and SSE comments.
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if payload == "[DONE]" {
			s.done = true
			return Chunk{}, io.EOF
		}

		chunk, err := parseChunk([]byte(payload))
		if err != nil {
			s.done = true
			return Chunk{}, err
		}
		return chunk, nil
	}
}

// Close releases the underlying response body.
func (s *Stream) Close() error {
	return s.rc.Close()
}

// chunkPayload mirrors the provider's streaming chunk JSON.
type chunkPayload struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func parseChunk(data []byte) (Chunk, error) {
	var p chunkPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Chunk{}, fmt.Errorf("decoding chunk: %w", err)
	}
	if p.Error != nil {
		return Chunk{}, fmt.Errorf("upstream error: %s", p.Error.Message)
	}
	if len(p.Choices) == 0 {
		return Chunk{}, nil
	}

	choice := p.Choices[0]
	chunk := Chunk{
		Content:      choice.Delta.Content,
		FinishReason: choice.FinishReason,
	}
	for _, tc := range choice.Delta.ToolCalls {
		chunk.ToolCalls = append(chunk.ToolCalls, ToolCallDelta{
			Index:     tc.Index,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return chunk, nil
}
