package service

import (
	"regexp"
	"sort"
	"strings"

	"kit-notes-server/internal/domain"
)

const maxTagSuggestions = 8

type tagRule struct {
	pattern    *regexp.Regexp
	tag        string
	confidence float64
	reason     string
}

var tagRules = []tagRule{
	{regexp.MustCompile(`\b(todo|task|action|need to|should|must)\b`), "todo", 0.8, "Contains task-related keywords"},
	{regexp.MustCompile(`\b(urgent|asap|immediately|critical|important)\b`), "priority:high", 0.9, "Contains urgency indicators"},
	{regexp.MustCompile(`\b(meeting|call|appointment|schedule)\b`), "meeting", 0.85, "Contains meeting-related terms"},
	{regexp.MustCompile(`\b(project|work|office|business|client)\b`), "work", 0.7, "Contains work-related terms"},
	{regexp.MustCompile(`\b(idea|brainstorm|concept|thought)\b`), "idea", 0.75, "Contains ideation keywords"},
	{regexp.MustCompile(`\b(research|study|learn|investigate)\b`), "research", 0.8, "Contains research-related terms"},
	{regexp.MustCompile(`\b(bug|error|issue|problem|fix)\b`), "issue", 0.85, "Contains problem-related terms"},
	{regexp.MustCompile(`\b(review|feedback|evaluate|assess)\b`), "review", 0.75, "Contains review-related terms"},
	{regexp.MustCompile(`\b(today|tomorrow|this week|next week|deadline)\b`), "schedule", 0.7, "Contains time-related references"},
}

func ruleTagSuggestions(content string) []domain.TagSuggestion {
	lower := strings.ToLower(content)

	var out []domain.TagSuggestion
	for _, r := range tagRules {
		if r.pattern.MatchString(lower) {
			out = append(out, domain.TagSuggestion{Tag: r.tag, Confidence: r.confidence, Reason: r.reason, Source: "rule"})
		}
	}
	return out
}

// mergeSuggestions drops tags the note already carries and duplicates
// (keeping the higher confidence), then returns the strongest few.
func mergeSuggestions(existing []string, groups ...[]domain.TagSuggestion) []domain.TagSuggestion {
	have := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		have[t] = struct{}{}
	}

	best := make(map[string]domain.TagSuggestion)
	var order []string
	for _, group := range groups {
		for _, s := range group {
			norm := domain.NormalizeTags([]string{s.Tag})
			if len(norm) == 0 {
				continue
			}
			s.Tag = norm[0]
			if _, ok := have[s.Tag]; ok {
				continue
			}
			prev, seen := best[s.Tag]
			if !seen {
				order = append(order, s.Tag)
			}
			if !seen || s.Confidence > prev.Confidence {
				best[s.Tag] = s
			}
		}
	}

	out := make([]domain.TagSuggestion, 0, len(order))
	for _, tag := range order {
		out = append(out, best[tag])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if len(out) > maxTagSuggestions {
		out = out[:maxTagSuggestions]
	}
	return out
}
