package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"kit-notes-server/internal/domain"

	"google.golang.org/genai"
)

// maxKnownTags bounds how much of the tag catalogue goes into the prompt.
const maxKnownTags = 50

// TagSuggester proposes tags for note content.
type TagSuggester interface {
	SuggestTags(ctx context.Context, content string, existing, known []string) ([]domain.TagSuggestion, error)
}

const tagSuggestionPrompt = `You suggest tags for a note. Suggest at most 8 concise tags of one or two words.
Typed tags keep their "type:value" form (for example "priority:high" or "person:Jane").
Score each suggestion with a confidence between 0.0 and 1.0 and give a short reason.
Reply with JSON only, in this shape:
{"suggestions": [{"tag": "meeting", "confidence": 0.9, "reason": "mentions a meeting"}]}`

type suggestionReply struct {
	Suggestions []struct {
		Tag        string   `json:"tag"`
		Confidence *float64 `json:"confidence"`
		Reason     string   `json:"reason"`
	} `json:"suggestions"`
}

func (o *GeminiOracle) SuggestTags(ctx context.Context, content string, existing, known []string) ([]domain.TagSuggestion, error) {
	if len(known) > maxKnownTags {
		known = known[:maxKnownTags]
	}
	prompt := fmt.Sprintf("Content to analyze: %q\n\nExisting tags on this note: %s\nTags already used elsewhere: %s",
		content, listOrNone(existing), listOrNone(known))

	resp, err := o.models.GenerateContent(ctx, o.model,
		[]*genai.Content{{Role: string(domain.RoleUser), Parts: []*genai.Part{{Text: prompt}}}},
		&genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: tagSuggestionPrompt}}},
		})
	if err != nil {
		return nil, &domain.OracleError{Message: "tag suggestion call failed", Err: err}
	}

	suggestions, err := ParseSuggestions(replyText(resp))
	if err != nil {
		return nil, err
	}
	o.logger.Debug().Int("suggestions", len(suggestions)).Msg("model suggested tags")
	return suggestions, nil
}

// ParseSuggestions extracts the outermost JSON object of a tag suggestion
// reply. Confidences are clamped to [0, 1]; a missing one counts as 0.5.
func ParseSuggestions(raw string) ([]domain.TagSuggestion, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, &domain.OracleError{Message: "tag suggestion reply has no json object"}
	}

	var reply suggestionReply
	if err := json.Unmarshal([]byte(raw[start:end+1]), &reply); err != nil {
		return nil, &domain.OracleError{Message: "malformed tag suggestion reply", Err: err}
	}

	out := make([]domain.TagSuggestion, 0, len(reply.Suggestions))
	for _, s := range reply.Suggestions {
		tag := strings.TrimSpace(s.Tag)
		if tag == "" {
			continue
		}
		confidence := 0.5
		if s.Confidence != nil {
			confidence = min(max(*s.Confidence, 0), 1)
		}
		out = append(out, domain.TagSuggestion{
			Tag:        tag,
			Confidence: confidence,
			Reason:     strings.TrimSpace(s.Reason),
			Source:     "ai",
		})
	}
	return out, nil
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
