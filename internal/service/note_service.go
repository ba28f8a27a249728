package service

import (
	"context"
	"time"

	"kit-notes-server/internal/domain"
	"kit-notes-server/internal/repository"
)

// NoteService serves read-only note views for the REST API.
type NoteService struct {
	store    repository.NoteStore
	location *time.Location
}

func NewNoteService(store repository.NoteStore, loc *time.Location) *NoteService {
	if loc == nil {
		loc = time.Local
	}
	return &NoteService{store: store, location: loc}
}

func (s *NoteService) List(ctx context.Context, criteria domain.NoteCriteria) ([]*domain.NoteResponse, error) {
	notes, err := s.store.FindByCriteria(ctx, criteria)
	if err != nil {
		return nil, err
	}
	return domain.ToResponses(notes), nil
}

func (s *NoteService) Get(ctx context.Context, id string) (*domain.NoteResponse, error) {
	note, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return note.ToResponse(), nil
}

func (s *NoteService) History(ctx context.Context, id string) ([]*domain.NoteResponse, error) {
	versions, err := s.store.History(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.ToResponses(versions), nil
}

func (s *NoteService) Tags(ctx context.Context) ([]string, error) {
	tags, err := s.store.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}

// DateRange parses REST date bounds with the same rules the find_notes
// intent uses.
func (s *NoteService) DateRange(from, to string) (start, end *time.Time, err error) {
	start, err = parseDateBound("from", &from, false, s.location)
	if err != nil {
		return nil, nil, err
	}
	end, err = parseDateBound("to", &to, true, s.location)
	if err != nil {
		return nil, nil, err
	}
	if start != nil && end != nil && end.Before(*start) {
		return nil, nil, domain.NewValidationError("to", "before from")
	}
	return start, end, nil
}
