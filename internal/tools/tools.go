// Package tools implements the retrieval tools the agent can call:
// web search and user-scoped document search.
package tools

import (
	"context"

	"github.com/kalambet/finch/internal/model"
)

// Result is the outcome of a tool invocation. An empty result set is a
// normal outcome (nothing relevant found, or the backend failed and the
// tool degraded), distinct from an execution error — tools fail open so
// a grounding failure never aborts the turn.
type Result struct {
	// Content is the text handed back to the model.
	Content string
	// Empty reports that no results were found.
	Empty bool
}

// EmptyResult is returned when a tool found nothing or degraded.
func EmptyResult() Result {
	return Result{Content: "No results found.", Empty: true}
}

// Tool is a callable retrieval tool exposed to the agent.
type Tool interface {
	Name() string
	Definition() model.ToolDef
	// Call executes the tool with the model-supplied JSON arguments.
	// It never returns an error for retrieval failures; those degrade
	// to an empty Result.
	Call(ctx context.Context, argsJSON string) Result
}
