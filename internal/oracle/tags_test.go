package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"kit-notes-server/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSuggestions(t *testing.T) {
	raw := "Here you go:\n{\"suggestions\": [" +
		"{\"tag\": \" meeting \", \"confidence\": 0.95, \"reason\": \"mentions a meeting\"}," +
		"{\"tag\": \"priority:high\", \"confidence\": 1.7}," +
		"{\"tag\": \"vague\"}," +
		"{\"tag\": \"  \", \"confidence\": 0.9}]}\nThanks"

	got, err := ParseSuggestions(raw)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, domain.TagSuggestion{Tag: "meeting", Confidence: 0.95, Reason: "mentions a meeting", Source: "ai"}, got[0])
	assert.Equal(t, 1.0, got[1].Confidence)
	assert.Equal(t, 0.5, got[2].Confidence)

	for name, raw := range map[string]string{"no object": "no idea", "malformed": "{suggestions: [}"} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSuggestions(raw)
			_, ok := domain.AsOracleError(err)
			assert.True(t, ok, "expected OracleError, got %v", err)
		})
	}
}

func TestGeminiOracle_SuggestTags(t *testing.T) {
	gen := &fakeGenerator{reply: "{\"suggestions\": [{\"tag\": \"finance\", \"confidence\": 0.8, \"reason\": \"budget\"}]}"}
	o := newGeminiOracle(gen, "gemini-2.5-flash", time.Now, zerolog.Nop())

	known := make([]string, 80)
	for i := range known {
		known[i] = "k"
	}
	got, err := o.SuggestTags(context.Background(), "review the budget", []string{"work"}, known)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "finance", got[0].Tag)

	require.Len(t, gen.contents, 1)
	prompt := gen.contents[0].Parts[0].Text
	assert.Contains(t, prompt, `"review the budget"`)
	assert.Contains(t, prompt, "Existing tags on this note: work")
	require.NotNil(t, gen.config.SystemInstruction)
	assert.Contains(t, gen.config.SystemInstruction.Parts[0].Text, "suggestions")

	gen.err = errors.New("quota exceeded")
	_, err = o.SuggestTags(context.Background(), "x", nil, nil)
	_, ok := domain.AsOracleError(err)
	assert.True(t, ok)
}
