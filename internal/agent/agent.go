// Package agent configures and drives one conversational turn of the
// tool-augmented financial analyst.
package agent

import (
	"errors"
	"fmt"

	"github.com/kalambet/finch/internal/model"
	"github.com/kalambet/finch/internal/tools"
)

// ErrNotConfigured is returned when required model credentials or
// identifiers are missing. It is fatal for the turn; no partial agent
// run is attempted.
var ErrNotConfigured = errors.New("agent not configured")

// Mode selects the grounding strategy for a turn.
type Mode int

const (
	// ModePlainChat answers from general knowledge, no external grounding.
	ModePlainChat Mode = iota
	// ModeWebSearch grounds answers in web search results.
	ModeWebSearch
	// ModeDocumentSearch grounds answers in the user's uploaded documents.
	ModeDocumentSearch
)

func (m Mode) String() string {
	switch m {
	case ModeWebSearch:
		return "web_search"
	case ModeDocumentSearch:
		return "document_search"
	default:
		return "plain_chat"
	}
}

// Config is one turn's immutable agent setup: system prompt and toolset
// selected by mode. Built fresh per turn, never persisted.
type Config struct {
	Mode         Mode
	SystemPrompt string
	ScopeUserID  string
	Tools        []tools.Tool
}

const plainChatPrompt = `You are an expert financial analyst engaging in a conversation about financial topics.
Your role is to provide clear, accurate, and helpful responses based on your existing knowledge.
When the conversation history contains relevant information, use it to stay contextual, but make sure every response stands on its own.
You can't ask for clarifications; understand the question and answer it yourself.`

const webSearchPrompt = `You are an expert financial analyst. You are given a question regarding financial data.
Use the web_search tool: write good web queries, find the data, and return it in a structured format.
When the conversation history contains relevant information, use it to stay contextual, but make sure every response stands on its own.
You can't ask for clarifications; understand the question and answer it yourself.
Always cite the website source of the information you provide.`

const documentSearchPrompt = `You are an expert financial analyst engaging in a conversation about financial topics.
Use the document_search tool to look up information in the documents the user has uploaded.
Answer only from the retrieved document text; do not add your own interpretation beyond it.
Always cite the page number the information came from.
When the conversation history contains relevant information, use it to stay contextual, but make sure every response stands on its own.
You can't ask for clarifications; understand the question and answer it yourself.
Document search is restricted to the documents of user %s; results for any other user must never appear.`

// Driver builds per-turn configurations and runs agent turns against
// the model client. One Driver is shared by all concurrent turns; it
// holds no per-turn state.
type Driver struct {
	client    *model.Client
	modelName string
	search    *tools.WebSearch
	index     tools.DocumentSearcher
	maxRounds int
}

// NewDriver creates a Driver. search and index may be nil when the
// corresponding mode is never used.
func NewDriver(client *model.Client, modelName string, search *tools.WebSearch, index tools.DocumentSearcher) *Driver {
	return &Driver{
		client:    client,
		modelName: modelName,
		search:    search,
		index:     index,
		maxRounds: defaultMaxRounds,
	}
}

// Configure builds the immutable per-turn configuration for the given
// mode. For ModeDocumentSearch the scope user id is bound into the tool
// itself and echoed in the system prompt; a missing scope id is a
// configuration error, not a silently unscoped search.
func (d *Driver) Configure(mode Mode, scopeUserID string) (Config, error) {
	if d.client == nil {
		return Config{}, fmt.Errorf("%w: missing model client", ErrNotConfigured)
	}
	if d.modelName == "" {
		return Config{}, fmt.Errorf("%w: missing model name", ErrNotConfigured)
	}

	switch mode {
	case ModeWebSearch:
		if d.search == nil {
			return Config{}, fmt.Errorf("%w: web search tool unavailable", ErrNotConfigured)
		}
		return Config{
			Mode:         mode,
			SystemPrompt: webSearchPrompt,
			Tools:        []tools.Tool{d.search},
		}, nil

	case ModeDocumentSearch:
		if d.index == nil {
			return Config{}, fmt.Errorf("%w: document index unavailable", ErrNotConfigured)
		}
		if scopeUserID == "" {
			return Config{}, fmt.Errorf("%w: document search requires a scope user id", ErrNotConfigured)
		}
		return Config{
			Mode:         mode,
			SystemPrompt: fmt.Sprintf(documentSearchPrompt, scopeUserID),
			ScopeUserID:  scopeUserID,
			Tools:        []tools.Tool{tools.NewDocumentSearch(d.index, scopeUserID)},
		}, nil

	default:
		return Config{
			Mode:         ModePlainChat,
			SystemPrompt: plainChatPrompt,
		}, nil
	}
}
