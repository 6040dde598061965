package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/kalambet/finch/internal/agent"
	"github.com/kalambet/finch/internal/delta"
	"github.com/kalambet/finch/internal/storage"
)

// defaultHistoryTurns is how many prior turns are folded into the
// prompt when the request continues an existing thread.
const defaultHistoryTurns = 2

// Store is the slice of the conversation store the controller needs.
// Implemented by storage.Store.
type Store interface {
	GetUser(id string) (storage.User, error)
	GetThread(id, ownerID string) (storage.Thread, error)
	CreateThread(ownerID string) (storage.Thread, error)
	CreateTurn(threadID, query string) (storage.Turn, error)
	UpdateTurnResponse(turnID, response string) error
	RecentTurns(threadID string, limit int) ([]storage.Turn, error)
}

// AgentRunner configures and runs one agent turn. Implemented by
// agent.Driver.
type AgentRunner interface {
	Configure(mode agent.Mode, scopeUserID string) (agent.Config, error)
	Run(ctx context.Context, cfg agent.Config, prompt string) (agent.EventStream, error)
}

// Request is one turn request as resolved from the transport layer.
type Request struct {
	UserID   string
	Query    string
	ThreadID string // empty starts a new thread
	Mode     agent.Mode
}

// Emit delivers one wire event to the client. An error means the
// client is gone; the controller stops emitting but still finishes
// persistence.
type Emit func(Event) error

// Controller runs turns. One Controller is shared by all concurrent
// requests; per-turn state lives on the stack of HandleTurn.
type Controller struct {
	store        Store
	runner       AgentRunner
	historyTurns int
}

// NewController creates a Controller. historyTurns <= 0 selects the
// default window.
func NewController(store Store, runner AgentRunner, historyTurns int) *Controller {
	if historyTurns <= 0 {
		historyTurns = defaultHistoryTurns
	}
	return &Controller{store: store, runner: runner, historyTurns: historyTurns}
}

// HandleTurn runs one conversation turn, emitting wire events in order:
// exactly one thread_id first, zero or more content events, then
// exactly one done, optionally preceded by error. The draft turn is
// persisted before streaming begins; on mid-stream failure or client
// disconnect the accumulated partial text is still written to the turn.
// The returned error reports a client disconnect only; turn-level
// failures are delivered as error events.
func (c *Controller) HandleTurn(ctx context.Context, req Request, emit Emit) error {
	sink := &eventSink{emit: emit}

	turnID, failure := c.runTurn(ctx, req, sink)

	if failure != nil {
		slog.Error("turn failed", "user", req.UserID, "turn", turnID, "error", failure)
		sink.send(Event{Type: EventError, Content: failure.Error()})
	}
	sink.send(Event{Type: EventDone})
	return sink.err
}

// runTurn executes the turn up to (but excluding) the terminal events.
// It returns the draft turn id (empty if never created) and the failure
// to surface as an error event, if any.
func (c *Controller) runTurn(ctx context.Context, req Request, sink *eventSink) (string, error) {
	// Resolve user and thread.
	if _, err := c.store.GetUser(req.UserID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("user %s not found", req.UserID)
		}
		return "", fmt.Errorf("looking up user: %w", err)
	}

	var thread storage.Thread
	var history []storage.Turn
	if req.ThreadID != "" {
		var err error
		thread, err = c.store.GetThread(req.ThreadID, req.UserID)
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrAccessDenied) {
			return "", fmt.Errorf("thread %s not found", req.ThreadID)
		}
		if err != nil {
			return "", fmt.Errorf("looking up thread: %w", err)
		}
		history, err = c.store.RecentTurns(thread.ID, c.historyTurns)
		if err != nil {
			return "", fmt.Errorf("loading history: %w", err)
		}
	} else {
		var err error
		thread, err = c.store.CreateThread(req.UserID)
		if err != nil {
			return "", fmt.Errorf("creating thread: %w", err)
		}
	}

	sink.send(Event{Type: EventThreadID, Content: thread.ID})

	// Persist the draft before any model output so the turn exists even
	// if streaming fails.
	turn, err := c.store.CreateTurn(thread.ID, req.Query)
	if err != nil {
		return "", fmt.Errorf("creating turn: %w", err)
	}

	cfg, err := c.runner.Configure(req.Mode, req.UserID)
	if err != nil {
		return turn.ID, fmt.Errorf("configuring agent: %w", err)
	}

	stream, err := c.runner.Run(ctx, cfg, formatPrompt(history, req.Query))
	if err != nil {
		return turn.ID, fmt.Errorf("starting agent: %w", err)
	}
	defer stream.Close()

	reassembler := delta.New()
	var streamErr error
	for {
		ev, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			streamErr = err
			break
		}
		if ev.Type == agent.EventEndOfTurn {
			break
		}
		if ev.Type != agent.EventTextDelta {
			continue
		}
		for _, d := range reassembler.Push(ev.Text) {
			sink.send(Event{Type: EventContent, Content: d})
		}
	}

	// Flush pending buffered text. On a clean turn the tail deltas go to
	// the client; after a failure they are persisted but not emitted.
	for _, d := range reassembler.Flush() {
		if d == "" {
			continue // terminal marker
		}
		if streamErr == nil {
			sink.send(Event{Type: EventContent, Content: d})
		}
	}

	// Finalize: single write of the full accumulated text, kept even
	// when the stream failed part-way.
	if err := c.store.UpdateTurnResponse(turn.ID, reassembler.Text()); err != nil {
		if streamErr == nil {
			streamErr = fmt.Errorf("persisting response: %w", err)
		} else {
			slog.Error("persisting partial response failed", "turn", turn.ID, "error", err)
		}
	}

	if streamErr != nil {
		return turn.ID, fmt.Errorf("generation failed: %w", streamErr)
	}
	return turn.ID, nil
}

// eventSink forwards events to the client until the first emit failure,
// then swallows the rest so persistence can still run.
type eventSink struct {
	emit Emit
	err  error
}

func (s *eventSink) send(ev Event) {
	if s.err != nil || s.emit == nil {
		return
	}
	if err := s.emit(ev); err != nil {
		slog.Warn("client disconnected mid-stream", "error", err)
		s.err = err
	}
}

// formatPrompt folds the recent history into the user prompt. With no
// history the query is passed through verbatim.
func formatPrompt(history []storage.Turn, query string) string {
	if len(history) == 0 {
		return query
	}
	var b strings.Builder
	b.WriteString("Previous conversation:\n")
	for _, t := range history {
		b.WriteString("User: ")
		b.WriteString(t.Query)
		b.WriteString("\n")
		b.WriteString("Assistant: ")
		b.WriteString(t.Response)
		b.WriteString("\n")
	}
	b.WriteString("\nCurrent query: ")
	b.WriteString(query)
	return b.String()
}
