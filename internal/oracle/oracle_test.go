package oracle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"kit-notes-server/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestParseReply(t *testing.T) {
	t.Run("conversation only", func(t *testing.T) {
		got, err := ParseReply("Hello! How can I help?")
		require.NoError(t, err)
		assert.False(t, got.HasAction())
		assert.Equal(t, "Hello! How can I help?", got.ResponseText)
	})

	t.Run("text and action block", func(t *testing.T) {
		raw := "Okay, deleting those.\n```json\n{\"intent\": \"delete_note\", \"entities\": {\"note_id\": [1, 2]}}\n```"
		got, err := ParseReply(raw)
		require.NoError(t, err)
		assert.True(t, got.HasAction())
		assert.Equal(t, "delete_note", got.Intent)
		assert.Equal(t, "Okay, deleting those.", got.ResponseText)
		assert.Equal(t, []any{float64(1), float64(2)}, got.Entities["note_id"])
	})

	t.Run("block only uses default text", func(t *testing.T) {
		got, err := ParseReply("```json\n{\"intent\": \"show_help\", \"entities\": {}}\n```")
		require.NoError(t, err)
		assert.Equal(t, DefaultResponseText, got.ResponseText)
		assert.NotNil(t, got.Entities)
	})

	t.Run("unknown intent is passed through for the dispatcher to reject", func(t *testing.T) {
		got, err := ParseReply("Sure.\n```json\n{\"intent\": \"launch_rockets\"}\n```")
		require.NoError(t, err)
		assert.Equal(t, "launch_rockets", got.Intent)
	})

	failures := map[string]string{
		"empty":        "   ",
		"unterminated": "Sure.\n```json\n{\"intent\": \"show_help\"",
		"malformed":    "Sure.\n```json\n{intent: show_help}\n```",
		"no intent":    "Sure.\n```json\n{\"entities\": {}}\n```",
	}
	for name, raw := range failures {
		t.Run(name, func(t *testing.T) {
			_, err := ParseReply(raw)
			_, ok := domain.AsOracleError(err)
			assert.True(t, ok, "expected OracleError, got %v", err)
		})
	}
}

type fakeGenerator struct {
	reply    string
	err      error
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	f.config = config
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: f.reply}}},
		}},
	}, nil
}

func TestGeminiOracle_Interpret(t *testing.T) {
	gen := &fakeGenerator{reply: "Done.\n```json\n{\"intent\": \"add_tags_to_note\", \"entities\": {\"note_id\": 7, \"tags_to_add\": [\"work\"]}}\n```"}
	now := func() time.Time { return time.Date(2024, 7, 28, 10, 0, 0, 0, time.UTC) }
	o := newGeminiOracle(gen, "gemini-2.5-flash", now, zerolog.Nop())

	history := []domain.ChatTurn{
		{Role: domain.RoleUser, Text: "create a note: call mom"},
		{Role: domain.RoleModel, Text: "Created note 7."},
		{Role: domain.RoleModel, Text: "   "},
	}
	got, err := o.Interpret(context.Background(), "tag it with work", history)
	require.NoError(t, err)

	assert.Equal(t, "add_tags_to_note", got.Intent)
	assert.Equal(t, "Done.", got.ResponseText)
	assert.Equal(t, "gemini-2.5-flash", gen.model)

	require.Len(t, gen.contents, 3)
	assert.Equal(t, "user", gen.contents[0].Role)
	assert.Equal(t, "model", gen.contents[1].Role)
	last := gen.contents[2].Parts[0].Text
	assert.True(t, strings.Contains(last, "2024-07-28"))
	assert.True(t, strings.HasSuffix(last, "tag it with work"))

	require.NotNil(t, gen.config.SystemInstruction)
	assert.Contains(t, gen.config.SystemInstruction.Parts[0].Text, "add_tags_to_note")
}

func TestGeminiOracle_ModelFailureIsOracleError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("quota exceeded")}
	o := newGeminiOracle(gen, "m", time.Now, zerolog.Nop())

	_, err := o.Interpret(context.Background(), "hi", nil)
	oe, ok := domain.AsOracleError(err)
	require.True(t, ok)
	assert.ErrorContains(t, oe, "quota exceeded")
}
