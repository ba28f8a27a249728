package domain

import (
	"strings"
	"time"
)

// NoteVersion is one immutable row of a note's lineage. Only the latest
// version of a lineage carries the tombstone fields.
type NoteVersion struct {
	VersionID  string         `json:"version_id"`
	LineageID  string         `json:"lineage_id"`
	Content    string         `json:"content"`
	Tags       []string       `json:"tags"`
	Properties map[string]any `json:"properties"`
	CreatedAt  time.Time      `json:"created_at"`
	IsLatest   bool           `json:"is_latest"`
	IsDeleted  bool           `json:"is_deleted"`
	DeletedAt  *time.Time     `json:"deleted_at,omitempty"`
}

func (v *NoteVersion) HasTag(tag string) bool {
	for _, t := range v.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices or maps with v.
func (v *NoteVersion) Clone() *NoteVersion {
	c := *v
	c.Tags = append([]string(nil), v.Tags...)
	c.Properties = CopyProperties(v.Properties)
	if v.DeletedAt != nil {
		t := *v.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// Successor builds the next version of the lineage from v. The caller
// assigns VersionID and CreatedAt.
func (v *NoteVersion) Successor() *NoteVersion {
	next := v.Clone()
	next.VersionID = ""
	next.IsLatest = true
	next.IsDeleted = false
	next.DeletedAt = nil
	return next
}

func (v *NoteVersion) ToResponse() *NoteResponse {
	return &NoteResponse{
		ID:         v.LineageID,
		VersionID:  v.VersionID,
		Content:    v.Content,
		Tags:       append([]string{}, v.Tags...),
		Properties: CopyProperties(v.Properties),
		CreatedAt:  v.CreatedAt,
		IsDeleted:  v.IsDeleted,
		DeletedAt:  v.DeletedAt,
	}
}

// NormalizeTags trims whitespace and a leading '#', drops empty values and
// removes duplicates while keeping first-seen order. Case is preserved.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimPrefix(strings.TrimSpace(t), "#")
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// UnionTags returns current plus every tag of add not already present and
// reports whether anything was added.
func UnionTags(current, add []string) ([]string, bool) {
	out := append([]string{}, current...)
	changed := false
	for _, t := range NormalizeTags(add) {
		if !containsTag(out, t) {
			out = append(out, t)
			changed = true
		}
	}
	return out, changed
}

// DifferenceTags returns current without any tag of remove and reports
// whether anything was removed.
func DifferenceTags(current, remove []string) ([]string, bool) {
	drop := NormalizeTags(remove)
	out := make([]string, 0, len(current))
	for _, t := range current {
		if containsTag(drop, t) {
			continue
		}
		out = append(out, t)
	}
	return out, len(out) != len(current)
}

// MergeProperties applies patch over base one level deep.
func MergeProperties(base, patch map[string]any) map[string]any {
	out := CopyProperties(base)
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func CopyProperties(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
