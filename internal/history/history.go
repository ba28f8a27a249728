// Package history keeps the client's bounded ledger of recent action
// results. Every entry shows the latest known snapshot of each note it
// references.
package history

import (
	"sync"
	"time"

	"kit-notes-server/internal/domain"

	"github.com/google/uuid"
)

const DefaultCapacity = 10

type Entry struct {
	ID         string
	QueryText  string
	ActionType domain.Intent
	Notes      []*domain.NoteResponse
	Timestamp  time.Time
}

// ContextHistory is safe for concurrent use.
type ContextHistory struct {
	mu       sync.RWMutex
	capacity int
	entries  []*Entry // newest first
	now      func() time.Time
}

func New(capacity int) *ContextHistory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ContextHistory{capacity: capacity, now: time.Now}
}

// Apply folds one action result into the ledger and reports whether a new
// entry was recorded.
//
// Update-class results first replace every older snapshot of the touched
// lineages. Delete-class results remove the deleted lineages everywhere and
// record nothing.
func (h *ContextHistory) Apply(queryText string, data *domain.ActionData) bool {
	if data == nil {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case data.ActionType.IsDeleteClass():
		h.dropLineages(deletedIDs(data))
		return false
	case data.ActionType.IsUpdateClass():
		h.rewrite(data.Notes)
	}

	if len(data.Notes) == 0 {
		return false
	}
	h.record(&Entry{
		ID:         uuid.NewString(),
		QueryText:  queryText,
		ActionType: data.ActionType,
		Notes:      cloneNotes(data.Notes),
		Timestamp:  h.now(),
	})
	return true
}

// Entries returns copies of the entries, newest first.
func (h *ContextHistory) Entries() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Entry, len(h.entries))
	for i, e := range h.entries {
		out[i] = *e
		out[i].Notes = cloneNotes(e.Notes)
	}
	return out
}

func (h *ContextHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

func (h *ContextHistory) Clear() {
	h.mu.Lock()
	h.entries = nil
	h.mu.Unlock()
}

func (h *ContextHistory) record(e *Entry) {
	h.entries = append([]*Entry{e}, h.entries...)
	if len(h.entries) > h.capacity {
		h.entries = h.entries[:h.capacity]
	}
}

func (h *ContextHistory) rewrite(fresh []*domain.NoteResponse) {
	if len(fresh) == 0 {
		return
	}
	byID := make(map[string]*domain.NoteResponse, len(fresh))
	for _, n := range fresh {
		byID[n.ID] = n
	}

	for _, e := range h.entries {
		// A version listing holds several rows of one lineage; each stays as recorded.
		if e.ActionType == domain.IntentGetNoteHistory {
			continue
		}
		for i, n := range e.Notes {
			if snap, ok := byID[n.ID]; ok {
				e.Notes[i] = cloneNote(snap)
			}
		}
	}
}

func (h *ContextHistory) dropLineages(ids map[string]struct{}) {
	if len(ids) == 0 {
		return
	}

	kept := h.entries[:0]
	for _, e := range h.entries {
		notes := e.Notes[:0]
		for _, n := range e.Notes {
			if _, gone := ids[n.ID]; !gone {
				notes = append(notes, n)
			}
		}
		e.Notes = notes
		if len(e.Notes) > 0 {
			kept = append(kept, e)
		}
	}
	// clear the tail so dropped entries can be collected
	for i := len(kept); i < len(h.entries); i++ {
		h.entries[i] = nil
	}
	h.entries = kept
}

func deletedIDs(data *domain.ActionData) map[string]struct{} {
	ids := make(map[string]struct{}, len(data.Succeeded)+len(data.Notes))
	for _, id := range data.Succeeded {
		ids[id] = struct{}{}
	}
	for _, n := range data.Notes {
		ids[n.ID] = struct{}{}
	}
	return ids
}

func cloneNotes(notes []*domain.NoteResponse) []*domain.NoteResponse {
	out := make([]*domain.NoteResponse, len(notes))
	for i, n := range notes {
		out[i] = cloneNote(n)
	}
	return out
}

func cloneNote(n *domain.NoteResponse) *domain.NoteResponse {
	c := *n
	c.Tags = append([]string(nil), n.Tags...)
	c.Properties = domain.CopyProperties(n.Properties)
	if n.DeletedAt != nil {
		at := *n.DeletedAt
		c.DeletedAt = &at
	}
	return &c
}
