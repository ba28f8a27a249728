package domain

import "strings"

// Intent is the closed set of operations the dispatcher executes.
type Intent string

const (
	IntentCreateNote           Intent = "create_note"
	IntentFindNotes            Intent = "find_notes"
	IntentFindNoteByID         Intent = "find_note_by_id"
	IntentUpdateNoteContent    Intent = "update_note_content"
	IntentUpdateNoteProperties Intent = "update_note_properties"
	IntentAddTagsToNote        Intent = "add_tags_to_note"
	IntentRemoveTagsFromNote   Intent = "remove_tags_from_note"
	IntentDeleteNote           Intent = "delete_note"
	IntentRestoreNote          Intent = "restore_note"
	IntentListAllTags          Intent = "list_all_tags"
	IntentShowHelp             Intent = "show_help"
	IntentListDeletedNotes     Intent = "list_deleted_notes"
	IntentGetNoteHistory       Intent = "get_note_history"
	IntentExportNotes          Intent = "export_notes"
	IntentSuggestTags          Intent = "suggest_tags"
)

var intentNames = map[Intent]string{
	IntentCreateNote:           "CreateNote",
	IntentFindNotes:            "FindNotes",
	IntentFindNoteByID:         "FindNoteById",
	IntentUpdateNoteContent:    "UpdateNoteContent",
	IntentUpdateNoteProperties: "UpdateNoteProperties",
	IntentAddTagsToNote:        "AddTagsToNote",
	IntentRemoveTagsFromNote:   "RemoveTagsFromNote",
	IntentDeleteNote:           "DeleteNote",
	IntentRestoreNote:          "RestoreNote",
	IntentListAllTags:          "ListAllTags",
	IntentShowHelp:             "ShowHelp",
	IntentListDeletedNotes:     "ListDeletedNotes",
	IntentGetNoteHistory:       "GetNoteHistory",
	IntentExportNotes:          "ExportNotes",
	IntentSuggestTags:          "SuggestTags",
}

var intentLookup = func() map[string]Intent {
	m := make(map[string]Intent, len(intentNames)*2)
	for intent, name := range intentNames {
		m[string(intent)] = intent
		m[strings.ToLower(name)] = intent
	}
	return m
}()

// ParseIntent decodes an untrusted intent name. Both the wire form
// ("add_tags_to_note") and the display form ("AddTagsToNote") are accepted.
func ParseIntent(name string) (Intent, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", NewValidationError("intent", "missing")
	}
	if intent, ok := intentLookup[key]; ok {
		return intent, nil
	}
	return "", NewValidationError("intent", "unknown intent %q", name)
}

func (i Intent) String() string {
	return string(i)
}

func (i Intent) DisplayName() string {
	if name, ok := intentNames[i]; ok {
		return name
	}
	return string(i)
}

// IsUpdateClass reports whether the intent produces fresh snapshots of
// lineages that may already be shown elsewhere.
func (i Intent) IsUpdateClass() bool {
	switch i {
	case IntentAddTagsToNote, IntentRemoveTagsFromNote,
		IntentUpdateNoteContent, IntentUpdateNoteProperties, IntentRestoreNote:
		return true
	}
	return false
}

func (i Intent) IsDeleteClass() bool {
	return i == IntentDeleteNote
}
