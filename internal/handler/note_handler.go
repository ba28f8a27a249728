package handler

import (
	"net/http"
	"strconv"
	"strings"

	"kit-notes-server/internal/domain"
	"kit-notes-server/internal/service"
	"kit-notes-server/pkg/response"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

type NoteHandler struct {
	service *service.NoteService
	logger  zerolog.Logger
}

func NewNoteHandler(service *service.NoteService, logger zerolog.Logger) *NoteHandler {
	return &NoteHandler{
		service: service,
		logger:  logger.With().Str("component", "note_handler").Logger(),
	}
}

// List returns the latest version of every matching note. With no query
// parameters it lists every live note.
func (h *NoteHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, to, err := h.service.DateRange(q.Get("from"), q.Get("to"))
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	includeDeleted := false
	if raw := q.Get("include_deleted"); raw != "" {
		includeDeleted, err = strconv.ParseBool(raw)
		if err != nil {
			response.BadRequest(w, "include_deleted must be a boolean")
			return
		}
	}

	criteria := domain.NoteCriteria{
		Text:           strings.TrimSpace(q.Get("q")),
		Tags:           domain.NormalizeTags(q["tag"]),
		DateFrom:       from,
		DateTo:         to,
		IncludeDeleted: includeDeleted,
	}

	notes, err := h.service.List(r.Context(), criteria)
	if err != nil {
		h.writeError(w, err, "Failed to list notes")
		return
	}

	response.Success(w, notes)
}

func (h *NoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	noteID := mux.Vars(r)["id"]
	if noteID == "" {
		response.BadRequest(w, "Note ID is required")
		return
	}

	note, err := h.service.Get(r.Context(), noteID)
	if err != nil {
		h.writeError(w, err, "Failed to get note")
		return
	}

	response.Success(w, note)
}

func (h *NoteHandler) History(w http.ResponseWriter, r *http.Request) {
	noteID := mux.Vars(r)["id"]
	if noteID == "" {
		response.BadRequest(w, "Note ID is required")
		return
	}

	versions, err := h.service.History(r.Context(), noteID)
	if err != nil {
		h.writeError(w, err, "Failed to get note history")
		return
	}

	response.Success(w, versions)
}

func (h *NoteHandler) Tags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.service.Tags(r.Context())
	if err != nil {
		h.writeError(w, err, "Failed to list tags")
		return
	}

	response.Success(w, tags)
}

func (h *NoteHandler) writeError(w http.ResponseWriter, err error, fallback string) {
	if domain.IsNotFound(err) {
		response.NotFound(w, "Note not found")
		return
	}
	if ve, ok := domain.AsValidationError(err); ok {
		response.BadRequest(w, ve.Error())
		return
	}
	h.logger.Error().Err(err).Msg(fallback)
	response.InternalError(w, fallback)
}
