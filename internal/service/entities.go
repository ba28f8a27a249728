package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"strconv"
	"strings"

	"kit-notes-server/internal/domain"

	"github.com/go-playground/validator/v10"
)

// NoteRef is a note id the model may have written as a number or a string.
type NoteRef string

func (r *NoteRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*r = NoteRef(strings.TrimSpace(s))
		return nil
	}

	var f float64
	if err := json.Unmarshal(b, &f); err != nil || f != math.Trunc(f) || f < 0 {
		return domain.NewValidationError("note_id", "expected an id, got %s", string(b))
	}
	if f >= math.MaxInt64 {
		return domain.NewValidationError("note_id", "id %s out of range", string(b))
	}
	*r = NoteRef(strconv.FormatInt(int64(f), 10))
	return nil
}

func (r NoteRef) String() string {
	return string(r)
}

// NoteRefs accepts a single id or a list of ids.
type NoteRefs []NoteRef

func (r *NoteRefs) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var refs []NoteRef
		if err := json.Unmarshal(b, &refs); err != nil {
			return err
		}
		*r = refs
		return nil
	}

	var one NoteRef
	if err := one.UnmarshalJSON(b); err != nil {
		return err
	}
	if one == "" {
		*r = nil
		return nil
	}
	*r = NoteRefs{one}
	return nil
}

type createNoteEntities struct {
	Content    string         `json:"content" validate:"notblank"`
	Tags       []string       `json:"tags"`
	Properties map[string]any `json:"properties"`
}

type findNotesEntities struct {
	Text           string   `json:"text"`
	Keywords       []string `json:"keywords"`
	IncludeTags    []string `json:"include_tags"`
	Tags           []string `json:"tags"`
	AnyOfTags      []string `json:"any_of_tags"`
	ExcludeTags    []string `json:"exclude_tags"`
	StartDate      *string  `json:"start_date"`
	EndDate        *string  `json:"end_date"`
	IncludeDeleted bool     `json:"include_deleted"`
}

type noteIDEntities struct {
	NoteID NoteRef `json:"note_id" validate:"notblank"`
}

type updateContentEntities struct {
	NoteID     NoteRef `json:"note_id" validate:"notblank"`
	NewContent string  `json:"new_content" validate:"notblank"`
}

type updatePropertiesEntities struct {
	NoteID             NoteRef        `json:"note_id" validate:"notblank"`
	PropertiesToUpdate map[string]any `json:"properties_to_update" validate:"required,min=1"`
}

type addTagsEntities struct {
	NoteID    NoteRef  `json:"note_id" validate:"notblank"`
	TagsToAdd []string `json:"tags_to_add" validate:"required,min=1,dive,notblank"`
}

type removeTagsEntities struct {
	NoteID       NoteRef  `json:"note_id" validate:"notblank"`
	TagsToRemove []string `json:"tags_to_remove" validate:"required,min=1,dive,notblank"`
}

type deleteNoteEntities struct {
	NoteIDs NoteRefs `json:"note_id" validate:"required,min=1"`
}

func newEntityValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// decodeEntities converts the untrusted entity bag into dst and validates
// it. Every failure is a ValidationError naming the offending field.
func decodeEntities(v *validator.Validate, entities map[string]any, dst any) error {
	if entities == nil {
		entities = map[string]any{}
	}
	raw, err := json.Marshal(entities)
	if err != nil {
		return domain.NewValidationError("entities", "not serializable")
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			return ve
		}
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) {
			return domain.NewValidationError(te.Field, "expected %s, got %s", te.Type.String(), te.Value)
		}
		return domain.NewValidationError("entities", "%v", err)
	}

	if err := v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return domain.NewValidationError(fieldName(fe), "failed %q check", fe.Tag())
		}
		return domain.NewValidationError("entities", "%v", err)
	}
	return nil
}

// fieldName strips the struct prefix and element index validator adds to
// nested fields ("addTagsEntities.tags_to_add[0]" becomes "tags_to_add").
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	if i := strings.Index(ns, "["); i >= 0 {
		ns = ns[:i]
	}
	return ns
}
