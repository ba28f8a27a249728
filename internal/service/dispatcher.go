package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kit-notes-server/internal/domain"
	"kit-notes-server/internal/oracle"
	"kit-notes-server/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const (
	snippetLength = 50

	// exportFormatVersion identifies the layout of NoteExport.
	exportFormatVersion = "1.0"
)

type handlerFunc func(ctx context.Context, entities map[string]any) (*domain.ActionResult, error)

// ActionDispatcher validates an untrusted intent proposal and executes it
// against the note store.
type ActionDispatcher struct {
	store     repository.NoteStore
	suggester oracle.TagSuggester
	validate  *validator.Validate
	location  *time.Location
	now       func() time.Time
	handlers  map[domain.Intent]handlerFunc
	logger    zerolog.Logger
}

func NewActionDispatcher(store repository.NoteStore, logger zerolog.Logger) *ActionDispatcher {
	d := &ActionDispatcher{
		store:    store,
		validate: newEntityValidator(),
		location: time.Local,
		now:      time.Now,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
	d.handlers = map[domain.Intent]handlerFunc{
		domain.IntentCreateNote:           d.createNote,
		domain.IntentFindNotes:            d.findNotes,
		domain.IntentFindNoteByID:         d.findNoteByID,
		domain.IntentUpdateNoteContent:    d.updateContent,
		domain.IntentUpdateNoteProperties: d.updateProperties,
		domain.IntentAddTagsToNote:        d.addTags,
		domain.IntentRemoveTagsFromNote:   d.removeTags,
		domain.IntentDeleteNote:           d.deleteNotes,
		domain.IntentRestoreNote:          d.restoreNote,
		domain.IntentListAllTags:          d.listTags,
		domain.IntentShowHelp:             d.showHelp,
		domain.IntentListDeletedNotes:     d.listDeleted,
		domain.IntentGetNoteHistory:       d.noteHistory,
		domain.IntentExportNotes:          d.exportNotes,
		domain.IntentSuggestTags:          d.suggestTags,
	}
	return d
}

// WithTagSuggester adds model suggestions to suggest_tags. Without one only
// the keyword rules apply.
func (d *ActionDispatcher) WithTagSuggester(s oracle.TagSuggester) *ActionDispatcher {
	d.suggester = s
	return d
}

// WithLocation sets the zone used to interpret date-only bounds.
func (d *ActionDispatcher) WithLocation(loc *time.Location) *ActionDispatcher {
	if loc != nil {
		d.location = loc
	}
	return d
}

// Dispatch executes one intent. Unknown intents and malformed entities
// return a ValidationError without touching the store.
func (d *ActionDispatcher) Dispatch(ctx context.Context, intentName string, entities map[string]any) (*domain.ActionResult, error) {
	intent, err := domain.ParseIntent(intentName)
	if err != nil {
		return nil, err
	}

	handler, ok := d.handlers[intent]
	if !ok {
		return nil, domain.NewValidationError("intent", "unsupported intent %q", intentName)
	}

	result, err := handler(ctx, entities)
	if err != nil {
		d.logger.Debug().Err(err).Str("intent", intent.String()).Msg("action failed")
		return nil, err
	}
	result.ActionType = intent

	d.logger.Info().
		Str("intent", intent.String()).
		Int("notes", len(result.Notes)).
		Int("failed", len(result.Failed)).
		Msg("action dispatched")
	return result, nil
}

func (d *ActionDispatcher) createNote(ctx context.Context, entities map[string]any) (*domain.ActionResult, error) {
	var e createNoteEntities
	if err := decodeEntities(d.validate, entities, &e); err != nil {
		return nil, err
	}

	note, err := d.store.Create(ctx, strings.TrimSpace(e.Content), e.Tags, e.Properties)
	if err != nil {
		return nil, err
	}

	return &domain.ActionResult{
		Notes:        []*domain.NoteVersion{note},
		FeedbackText: fmt.Sprintf("Note created successfully with ID: %s.", note.LineageID),
	}, nil
}

func (d *ActionDispatcher) findNotes(ctx context.Context, entities map[string]any) (*domain.ActionResult, error) {
	var e findNotesEntities
	if err := decodeEntities(d.validate, entities, &e); err != nil {
		return nil, err
	}

	criteria, err := d.criteriaFrom(&e)
	if err != nil {
		return nil, err
	}

	notes, err := d.store.FindByCriteria(ctx, criteria)
	if err != nil {
		return nil, err
	}

	return &domain.ActionResult{
		Notes:        notes,
		FeedbackText: describeNotes(notes, "No notes found matching your criteria."),
	}, nil
}

func (d *ActionDispatcher) criteriaFrom(e *findNotesEntities) (domain.NoteCriteria, error) {
	criteria := domain.NoteCriteria{
		Text:           strings.TrimSpace(e.Text),
		Keywords:       nonBlank(e.Keywords),
		Tags:           domain.NormalizeTags(append(append([]string{}, e.IncludeTags...), e.Tags...)),
		AnyTags:        domain.NormalizeTags(e.AnyOfTags),
		ExcludeTags:    domain.NormalizeTags(e.ExcludeTags),
		IncludeDeleted: e.IncludeDeleted,
	}

	from, err := parseDateBound("start_date", e.StartDate, false, d.location)
	if err != nil {
		return criteria, err
	}
	to, err := parseDateBound("end_date", e.EndDate, true, d.location)
	if err != nil {
		return criteria, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return criteria, domain.NewValidationError("end_date", "before start_date")
	}
	criteria.DateFrom = from
	criteria.DateTo = to
	return criteria, nil
}

func (d *ActionDispatcher) findNoteByID(ctx context.Context, entities map[string]any) (*domain.ActionResult, error) {
	var e noteIDEntities
	if err := decodeEntities(d.validate, entities, &e); err != nil {
		return nil, err
	}

	note, err := d.store.FindByID(ctx, e.NoteID.String())
	if err != nil {
		return nil, noteError(e.NoteID, err)
	}

	return &domain.ActionResult{
		Notes:        []*domain.NoteVersion{note},
		FeedbackText: fmt.Sprintf("Found note ID %s: '%s'", note.LineageID, snippet(note.Content)),
	}, nil
}

func (d *ActionDispatcher) updateContent(ctx context.Context, entities map[string]any) (*domain.ActionResult, error) {
	var e updateContentEntities
	if err := decodeEntities(d.validate, entities, &e); err != nil {
		return nil, err
	}

	note, err := d.store.UpdateContent(ctx, e.NoteID.String(), strings.TrimSpace(e.NewContent))
	if err != nil {
		return nil, noteError(e.NoteID, err)
	}

	return &domain.ActionResult{
		Notes:        []*domain.NoteVersion{note},
		FeedbackText: fmt.Sprintf("Successfully updated the content for note ID %s.", note.LineageID),
	}, nil
}

func (d *ActionDispatcher) updateProperties(ctx context.Context, entities map[string]any) (*domain.ActionResult, error) {
	var e updatePropertiesEntities
	if err := decodeEntities(d.validate, entities, &e); err != nil {
		return nil, err
	}

	note, err := d.store.UpdateProperties(ctx, e.NoteID.String(), e.PropertiesToUpdate)
	if err != nil {
		return nil, noteError(e.NoteID, err)
	}

	return &domain.ActionResult{
		Notes:        []*domain.NoteVersion{note},
		FeedbackText: fmt.Sprintf("Successfully updated properties for note ID %s.", note.LineageID),
	}, nil
}

func (d *ActionDispatcher) addTags(ctx context.Context, entities map[string]any) (*domain.ActionResult, error) {
	var e addTagsEntities
	if err := decodeEntities(d.validate, entities, &e); err != nil {
		return nil, err
	}

	tags := domain.NormalizeTags(e.TagsToAdd)
	note, err := d.store.AddTags(ctx, e.NoteID.String(), tags)
	if err != nil {
		return nil, noteError(e.NoteID, err)
	}

	return &domain.ActionResult{
		Notes:        []*domain.NoteVersion{note},
		FeedbackText: fmt.Sprintf("Tags %s are now on note ID %s.", formatTags(tags), note.LineageID),
	}, nil
}

func (d *ActionDispatcher) removeTags(ctx context.Context, entities map[string]any) (*domain.ActionResult, error) {
	var e removeTagsEntities
	if err := decodeEntities(d.validate, entities, &e); err != nil {
		return nil, err
	}

	tags := domain.NormalizeTags(e.TagsToRemove)
	note, err := d.store.RemoveTags(ctx, e.NoteID.String(), tags)
	if err != nil {
		return nil, noteError(e.NoteID, err)
	}

	return &domain.ActionResult{
		Notes:        []*domain.NoteVersion{note},
		FeedbackText: fmt.Sprintf("Tags %s are no longer on note ID %s.", formatTags(tags), note.LineageID),
	}, nil
}

// deleteNotes soft deletes every id independently. One failing id never
// prevents the others from being deleted.
func (d *ActionDispatcher) deleteNotes(ctx context.Context, entities map[string]any) (*domain.ActionResult, error) {
	var e deleteNoteEntities
	if err := decodeEntities(d.validate, entities, &e); err != nil {
		return nil, err
	}

	result := &domain.ActionResult{}
	for _, ref := range e.NoteIDs {
		id := ref.String()
		if id == "" {
			result.Failed = append(result.Failed, domain.FailureEntry{ID: id, Reason: "empty id"})
			continue
		}

		note, err := d.store.SoftDelete(ctx, id)
		if err != nil {
			reason := err.Error()
			if domain.IsNotFound(err) {
				reason = "not found"
			} else {
				d.logger.Error().Err(err).Str("note_id", id).Msg("soft delete failed")
			}
			result.Failed = append(result.Failed, domain.FailureEntry{ID: id, Reason: reason})
			continue
		}
		result.Succeeded = append(result.Succeeded, note.LineageID)
		result.Notes = append(result.Notes, note)
	}

	var parts []string
	if len(result.Succeeded) > 0 {
		parts = append(parts, fmt.Sprintf("Successfully soft deleted note ID(s): %s.",
			strings.Join(result.Succeeded, ", ")))
	}
	if len(result.Failed) > 0 {
		ids := make([]string, len(result.Failed))
		for i, f := range result.Failed {
			ids[i] = f.ID
		}
		parts = append(parts, fmt.Sprintf("Failed to delete note ID(s): %s. They may not exist or were already removed.",
			strings.Join(ids, ", ")))
	}
	result.FeedbackText = strings.Join(parts, " ")
	return result, nil
}

func (d *ActionDispatcher) restoreNote(ctx context.Context, entities map[string]any) (*domain.ActionResult, error) {
	var e noteIDEntities
	if err := decodeEntities(d.validate, entities, &e); err != nil {
		return nil, err
	}

	note, err := d.store.Restore(ctx, e.NoteID.String())
	if err != nil {
		return nil, noteError(e.NoteID, err)
	}

	return &domain.ActionResult{
		Notes:        []*domain.NoteVersion{note},
		FeedbackText: fmt.Sprintf("Successfully restored note ID %s.", note.LineageID),
	}, nil
}

func (d *ActionDispatcher) listTags(ctx context.Context, _ map[string]any) (*domain.ActionResult, error) {
	tags, err := d.store.ListTags(ctx)
	if err != nil {
		return nil, err
	}

	feedback := "No tags found."
	if len(tags) > 0 {
		feedback = fmt.Sprintf("Found %d tag(s): %s", len(tags), strings.Join(tags, ", "))
	}
	return &domain.ActionResult{Tags: tags, FeedbackText: feedback}, nil
}

func (d *ActionDispatcher) showHelp(_ context.Context, _ map[string]any) (*domain.ActionResult, error) {
	return &domain.ActionResult{FeedbackText: HelpText()}, nil
}

func (d *ActionDispatcher) listDeleted(ctx context.Context, _ map[string]any) (*domain.ActionResult, error) {
	all, err := d.store.FindByCriteria(ctx, domain.NoteCriteria{IncludeDeleted: true})
	if err != nil {
		return nil, err
	}

	deleted := make([]*domain.NoteVersion, 0, len(all))
	for _, n := range all {
		if n.IsDeleted {
			deleted = append(deleted, n)
		}
	}

	return &domain.ActionResult{
		Notes:        deleted,
		FeedbackText: describeNotes(deleted, "There are no deleted notes."),
	}, nil
}

func (d *ActionDispatcher) noteHistory(ctx context.Context, entities map[string]any) (*domain.ActionResult, error) {
	var e noteIDEntities
	if err := decodeEntities(d.validate, entities, &e); err != nil {
		return nil, err
	}

	versions, err := d.store.History(ctx, e.NoteID.String())
	if err != nil {
		return nil, noteError(e.NoteID, err)
	}

	return &domain.ActionResult{
		Notes:        versions,
		FeedbackText: fmt.Sprintf("Note ID %s has %d version(s).", e.NoteID, len(versions)),
	}, nil
}

func (d *ActionDispatcher) exportNotes(ctx context.Context, _ map[string]any) (*domain.ActionResult, error) {
	notes, err := d.store.FindByCriteria(ctx, domain.NoteCriteria{IncludeDeleted: true})
	if err != nil {
		return nil, err
	}
	tags, err := d.store.ListTags(ctx)
	if err != nil {
		return nil, err
	}

	export := &domain.NoteExport{
		FormatVersion: exportFormatVersion,
		ExportedAt:    d.now().UTC(),
		Tags:          tags,
		Notes:         domain.ToResponses(notes),
	}
	return &domain.ActionResult{
		Export:       export,
		FeedbackText: fmt.Sprintf("Exported %d note(s).", len(export.Notes)),
	}, nil
}

// suggestTags combines model suggestions with keyword rules. A failing
// model degrades to the rules alone.
func (d *ActionDispatcher) suggestTags(ctx context.Context, entities map[string]any) (*domain.ActionResult, error) {
	var e noteIDEntities
	if err := decodeEntities(d.validate, entities, &e); err != nil {
		return nil, err
	}

	note, err := d.store.FindByID(ctx, e.NoteID.String())
	if err != nil {
		return nil, noteError(e.NoteID, err)
	}
	known, err := d.store.ListTags(ctx)
	if err != nil {
		return nil, err
	}

	var fromModel []domain.TagSuggestion
	if d.suggester != nil {
		fromModel, err = d.suggester.SuggestTags(ctx, note.Content, note.Tags, known)
		if err != nil {
			d.logger.Warn().Err(err).Str("note_id", note.LineageID).Msg("tag suggestion fell back to rules")
			fromModel = nil
		}
	}
	suggestions := mergeSuggestions(note.Tags, fromModel, ruleTagSuggestions(note.Content))

	feedback := fmt.Sprintf("No new tag suggestions found for note ID %s.", note.LineageID)
	if len(suggestions) > 0 {
		top := suggestions[:min(len(suggestions), 5)]
		items := make([]string, len(top))
		for i, s := range top {
			items[i] = fmt.Sprintf("%s (%.2f)", s.Tag, s.Confidence)
		}
		feedback = fmt.Sprintf("Tag suggestions for note ID %s: %s", note.LineageID, strings.Join(items, ", "))
	}
	return &domain.ActionResult{Suggestions: suggestions, FeedbackText: feedback}, nil
}

// parseDateBound accepts YYYY-MM-DD or RFC3339. A date-only upper bound
// covers the whole day.
func parseDateBound(field string, value *string, endOfDay bool, loc *time.Location) (*time.Time, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	s := strings.TrimSpace(*value)

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}

	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return nil, domain.NewValidationError(field, "expected YYYY-MM-DD, got %q", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func describeNotes(notes []*domain.NoteVersion, empty string) string {
	if len(notes) == 0 {
		return empty
	}

	items := make([]string, len(notes))
	for i, n := range notes {
		items[i] = fmt.Sprintf("%d. (ID: %s) '%s'", i+1, n.LineageID, snippet(n.Content))
	}
	return fmt.Sprintf("Found %d note(s): %s", len(notes), strings.Join(items, " | "))
}

func snippet(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	runes := []rune(content)
	if len(runes) <= snippetLength {
		return content
	}
	return string(runes[:snippetLength]) + "..."
}

func formatTags(tags []string) string {
	quoted := make([]string, len(tags))
	for i, t := range tags {
		quoted[i] = "'" + t + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func nonBlank(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
