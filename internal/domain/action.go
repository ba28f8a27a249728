package domain

import "time"

type FailureEntry struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// TagSuggestion is a tag proposed for a note, scored from 0 to 1.
type TagSuggestion struct {
	Tag        string  `json:"tag"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
	Source     string  `json:"source"`
}

// NoteExport is a portable snapshot of every lineage, deleted ones included.
type NoteExport struct {
	FormatVersion string          `json:"format_version"`
	ExportedAt    time.Time       `json:"exported_at"`
	Tags          []string        `json:"tags"`
	Notes         []*NoteResponse `json:"notes"`
}

// ActionResult is the outcome of one dispatched intent.
type ActionResult struct {
	ActionType   Intent
	Notes        []*NoteVersion
	FeedbackText string
	Succeeded    []string
	Failed       []FailureEntry
	Tags         []string
	Suggestions  []TagSuggestion
	Export       *NoteExport
}

// ActionData is the wire form of an ActionResult.
type ActionData struct {
	ActionType  Intent          `json:"action_type"`
	QueryText   string          `json:"query_text,omitempty"`
	Notes       []*NoteResponse `json:"notes"`
	Succeeded   []string        `json:"succeeded,omitempty"`
	Failed      []FailureEntry  `json:"failed,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Suggestions []TagSuggestion `json:"suggestions,omitempty"`
	Export      *NoteExport     `json:"export,omitempty"`
}

func (r *ActionResult) ToData(queryText string) *ActionData {
	return &ActionData{
		ActionType:  r.ActionType,
		QueryText:   queryText,
		Notes:       ToResponses(r.Notes),
		Succeeded:   r.Succeeded,
		Failed:      r.Failed,
		Tags:        r.Tags,
		Suggestions: r.Suggestions,
		Export:      r.Export,
	}
}
