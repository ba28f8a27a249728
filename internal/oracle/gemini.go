package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kit-notes-server/internal/domain"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// contentGenerator is the slice of *genai.Models the oracle needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiOracle asks a Gemini model to interpret queries using the KIT
// system prompt.
type GeminiOracle struct {
	models contentGenerator
	model  string
	now    func() time.Time
	logger zerolog.Logger
}

func NewGeminiOracle(ctx context.Context, cfg GeminiConfig, logger zerolog.Logger) (*GeminiOracle, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return newGeminiOracle(client.Models, cfg.Model, time.Now, logger), nil
}

func newGeminiOracle(models contentGenerator, model string, now func() time.Time, logger zerolog.Logger) *GeminiOracle {
	return &GeminiOracle{
		models: models,
		model:  model,
		now:    now,
		logger: logger.With().Str("component", "gemini_oracle").Logger(),
	}
}

func (o *GeminiOracle) Interpret(ctx context.Context, query string, history []domain.ChatTurn) (*Interpretation, error) {
	contents := buildContents(query, history, o.now())

	o.logger.Debug().Int("history_turns", len(history)).Str("model", o.model).Msg("sending query to model")

	resp, err := o.models.GenerateContent(ctx, o.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}},
	})
	if err != nil {
		return nil, &domain.OracleError{Message: "model call failed", Err: err}
	}

	raw := replyText(resp)
	o.logger.Debug().Str("reply", truncate(raw, 200)).Msg("model replied")

	return ParseReply(raw)
}

// buildContents maps the transcript onto model turns and appends the new
// query prefixed with today's date so relative dates resolve.
func buildContents(query string, history []domain.ChatTurn, now time.Time) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			continue
		}
		role := string(domain.RoleModel)
		if turn.Role == domain.RoleUser {
			role = string(domain.RoleUser)
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: text}},
		})
	}

	prompt := fmt.Sprintf("System Context: For your reference, today's date is %s.\nUser: %s",
		now.Format("2006-01-02"), query)
	contents = append(contents, &genai.Content{
		Role:  string(domain.RoleUser),
		Parts: []*genai.Part{{Text: prompt}},
	})
	return contents
}

func replyText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil && p.Text != "" {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
