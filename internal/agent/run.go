package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/kalambet/finch/internal/model"
	"github.com/kalambet/finch/internal/tools"
)

// defaultMaxRounds caps the number of model rounds (tool-use iterations)
// per turn.
const defaultMaxRounds = 6

// Run starts one agent turn with the given configuration and formatted
// prompt. The returned stream yields the turn's raw events in order and
// is consumed exactly once.
func (d *Driver) Run(ctx context.Context, cfg Config, prompt string) (EventStream, error) {
	if d.client == nil || d.modelName == "" {
		return nil, fmt.Errorf("%w: driver missing model client or name", ErrNotConfigured)
	}

	r := &run{
		ctx:    ctx,
		driver: d,
		cfg:    cfg,
		messages: []model.Message{
			{Role: "system", Content: cfg.SystemPrompt},
			{Role: "user", Content: prompt},
		},
	}
	if err := r.startRound(); err != nil {
		return nil, err
	}
	return r, nil
}

// pendingCall accumulates the streamed fragments of one tool call.
type pendingCall struct {
	id   string
	name string
	args string
}

// run is the per-turn state machine behind EventStream. It reads the
// model stream synchronously from Next, executing tools between rounds.
type run struct {
	ctx      context.Context
	driver   *Driver
	cfg      Config
	messages []model.Message

	stream    *model.Stream
	round     int
	roundText string
	calls     []pendingCall
	queue     []Event
	done      bool
}

func (r *run) startRound() error {
	r.round++
	r.roundText = ""
	r.calls = nil

	var defs []model.ToolDef
	for _, t := range r.cfg.Tools {
		defs = append(defs, t.Definition())
	}

	s, err := r.driver.client.Stream(r.ctx, model.ChatRequest{
		Model:    r.driver.modelName,
		Messages: r.messages,
		Tools:    defs,
	})
	if err != nil {
		return fmt.Errorf("starting model round %d: %w", r.round, err)
	}
	r.stream = s
	return nil
}

func (r *run) Next() (Event, error) {
	for {
		if len(r.queue) > 0 {
			ev := r.queue[0]
			r.queue = r.queue[1:]
			if ev.Type == EventEndOfTurn {
				r.done = true
			}
			return ev, nil
		}
		if r.done {
			return Event{}, io.EOF
		}

		chunk, err := r.stream.Next()
		if err == io.EOF {
			// Upstream ended without an explicit finish reason.
			r.endTurn()
			continue
		}
		if err != nil {
			r.stream.Close()
			return Event{}, err
		}

		if chunk.Content != "" {
			r.roundText += chunk.Content
			r.queue = append(r.queue, Event{Type: EventTextDelta, Text: chunk.Content})
		}
		for _, tc := range chunk.ToolCalls {
			r.accumulate(tc)
		}

		switch chunk.FinishReason {
		case "":
			// Round still in progress.
		case "tool_calls":
			r.stream.Close()
			if err := r.runTools(); err != nil {
				return Event{}, err
			}
		default:
			r.endTurn()
		}
	}
}

// Close releases the current model stream. Safe to call at any point.
func (r *run) Close() error {
	r.done = true
	if r.stream == nil {
		return nil
	}
	return r.stream.Close()
}

func (r *run) endTurn() {
	r.stream.Close()
	r.queue = append(r.queue, Event{Type: EventEndOfTurn})
}

func (r *run) accumulate(tc model.ToolCallDelta) {
	for len(r.calls) <= tc.Index {
		r.calls = append(r.calls, pendingCall{})
	}
	c := &r.calls[tc.Index]
	if tc.ID != "" {
		c.id = tc.ID
	}
	if tc.Name != "" {
		c.name = tc.Name
	}
	c.args += tc.Arguments
}

// runTools executes the round's accumulated tool calls, appends the
// exchange to the message history, queues the corresponding events, and
// starts the next model round.
func (r *run) runTools() error {
	// Some models repeat a tool call id within one response; keep the
	// first occurrence only.
	var calls []pendingCall
	seen := make(map[string]bool)
	for _, c := range r.calls {
		if c.id != "" && seen[c.id] {
			continue
		}
		seen[c.id] = true
		calls = append(calls, c)
	}

	if len(calls) == 0 || r.round >= r.driver.maxRounds {
		if len(calls) > 0 {
			slog.Warn("agent tool rounds exhausted", "round", r.round, "dropped_calls", len(calls))
		}
		r.queue = append(r.queue, Event{Type: EventEndOfTurn})
		return nil
	}

	byName := make(map[string]tools.Tool, len(r.cfg.Tools))
	for _, t := range r.cfg.Tools {
		byName[t.Name()] = t
	}

	assistant := model.Message{Role: "assistant", Content: r.roundText}
	for _, c := range calls {
		assistant.ToolCalls = append(assistant.ToolCalls, model.ToolCall{
			ID:       c.id,
			Type:     "function",
			Function: model.FunctionCall{Name: c.name, Arguments: c.args},
		})
	}
	r.messages = append(r.messages, assistant)

	for _, c := range calls {
		r.queue = append(r.queue, Event{Type: EventToolCall, ToolName: c.name, ToolArgs: c.args})

		var content string
		if t, ok := byName[c.name]; ok {
			res := t.Call(r.ctx, c.args)
			content = res.Content
		} else {
			slog.Warn("model requested unknown tool", "tool", c.name)
			content = "Unknown tool: " + c.name
		}

		r.queue = append(r.queue, Event{Type: EventToolResult, ToolName: c.name, ToolResult: content})
		r.messages = append(r.messages, model.Message{
			Role:       "tool",
			ToolCallID: c.id,
			Content:    content,
		})
	}

	return r.startRound()
}
