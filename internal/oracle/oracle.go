// Package oracle turns a natural-language query into an untrusted intent
// proposal. Nothing it returns is safe to act on before validation.
package oracle

import (
	"context"
	"encoding/json"
	"strings"

	"kit-notes-server/internal/domain"
)

// DefaultResponseText is used when the model answered with an action block
// only.
const DefaultResponseText = "Okay, I'll take care of that."

// IntentOracle interprets one query in the context of the conversation so far.
type IntentOracle interface {
	Interpret(ctx context.Context, query string, history []domain.ChatTurn) (*Interpretation, error)
}

// Interpretation is the parsed model output. Intent is empty when the
// model replied conversationally without proposing an action.
type Interpretation struct {
	Intent         string
	Entities       map[string]any
	ResponseText   string
	ActionFeedback string
}

func (i *Interpretation) HasAction() bool {
	return i.Intent != ""
}

type actionBlock struct {
	Intent         string         `json:"intent"`
	Entities       map[string]any `json:"entities"`
	ResponseText   string         `json:"response_text"`
	ActionFeedback string         `json:"action_feedback"`
}

const (
	fenceOpen  = "```json"
	fenceClose = "```"
)

// ParseReply splits a model reply into conversational text and the optional
// fenced JSON action block that follows it.
func ParseReply(raw string) (*Interpretation, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &domain.OracleError{Message: "empty reply"}
	}

	start := strings.Index(raw, fenceOpen)
	if start < 0 {
		return &Interpretation{ResponseText: raw, Entities: map[string]any{}}, nil
	}

	body := raw[start+len(fenceOpen):]
	end := strings.Index(body, fenceClose)
	if end < 0 {
		return nil, &domain.OracleError{Message: "unterminated json block"}
	}

	var block actionBlock
	if err := json.Unmarshal([]byte(strings.TrimSpace(body[:end])), &block); err != nil {
		return nil, &domain.OracleError{Message: "malformed json block", Err: err}
	}
	if strings.TrimSpace(block.Intent) == "" {
		return nil, &domain.OracleError{Message: "json block has no intent"}
	}
	if block.Entities == nil {
		block.Entities = map[string]any{}
	}

	text := strings.TrimSpace(raw[:start])
	if text == "" {
		text = strings.TrimSpace(block.ResponseText)
	}
	if text == "" {
		text = DefaultResponseText
	}

	return &Interpretation{
		Intent:         strings.TrimSpace(block.Intent),
		Entities:       block.Entities,
		ResponseText:   text,
		ActionFeedback: block.ActionFeedback,
	}, nil
}
