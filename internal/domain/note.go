package domain

import (
	"strings"
	"time"
)

// NoteResponse is the client-facing view of a note version.
type NoteResponse struct {
	ID         string         `json:"id"`
	VersionID  string         `json:"version_id"`
	Content    string         `json:"content"`
	Tags       []string       `json:"tags"`
	Properties map[string]any `json:"properties"`
	CreatedAt  time.Time      `json:"created_at"`
	IsDeleted  bool           `json:"is_deleted"`
	DeletedAt  *time.Time     `json:"deleted_at,omitempty"`
}

func ToResponses(versions []*NoteVersion) []*NoteResponse {
	out := make([]*NoteResponse, 0, len(versions))
	for _, v := range versions {
		out = append(out, v.ToResponse())
	}
	return out
}

// NoteCriteria filters latest versions. Zero-valued fields impose no filter.
type NoteCriteria struct {
	Text           string
	Keywords       []string
	Tags           []string
	AnyTags        []string
	ExcludeTags    []string
	DateFrom       *time.Time
	DateTo         *time.Time
	IncludeDeleted bool
}

// Matches reports whether a latest version satisfies every filter of c.
func (c NoteCriteria) Matches(v *NoteVersion) bool {
	if v.IsDeleted && !c.IncludeDeleted {
		return false
	}

	content := strings.ToLower(v.Content)
	if c.Text != "" && !strings.Contains(content, strings.ToLower(c.Text)) {
		return false
	}
	for _, kw := range c.Keywords {
		if kw != "" && !strings.Contains(content, strings.ToLower(kw)) {
			return false
		}
	}

	for _, t := range c.Tags {
		if !v.HasTag(t) {
			return false
		}
	}
	if len(c.AnyTags) > 0 {
		found := false
		for _, t := range c.AnyTags {
			if v.HasTag(t) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, t := range c.ExcludeTags {
		if v.HasTag(t) {
			return false
		}
	}

	if c.DateFrom != nil && v.CreatedAt.Before(*c.DateFrom) {
		return false
	}
	if c.DateTo != nil && v.CreatedAt.After(*c.DateTo) {
		return false
	}
	return true
}
