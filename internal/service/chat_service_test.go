package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"kit-notes-server/internal/domain"
	"kit-notes-server/internal/oracle"
	"kit-notes-server/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOracle struct {
	interp  *oracle.Interpretation
	err     error
	history []domain.ChatTurn
	query   string
}

func (f *fakeOracle) Interpret(_ context.Context, query string, history []domain.ChatTurn) (*oracle.Interpretation, error) {
	f.query = query
	f.history = history
	return f.interp, f.err
}

type brokenStore struct {
	repository.NoteStore
}

func (brokenStore) Create(context.Context, string, []string, map[string]any) (*domain.NoteVersion, error) {
	return nil, errors.New("disk full")
}

func newTestChat(t *testing.T, o oracle.IntentOracle) *ChatService {
	d, _ := newTestDispatcher(t)
	return NewChatService(o, d, time.Second, zerolog.Nop())
}

func TestChatService_EmptyQuery(t *testing.T) {
	o := &fakeOracle{}
	chat := newTestChat(t, o)

	resp := chat.Process(context.Background(), &domain.ChatRequest{RequestID: "r1", Query: "   "})
	assert.Equal(t, "r1", resp.RequestID)
	assert.Equal(t, domain.ErrMsgEmptyQuery, resp.Error)
	assert.Empty(t, o.query, "oracle must not be called")
}

func TestChatService_OracleError(t *testing.T) {
	chat := newTestChat(t, &fakeOracle{err: &domain.OracleError{Message: "malformed json block"}})

	resp := chat.Process(context.Background(), &domain.ChatRequest{Query: "hi"})
	assert.Contains(t, resp.Error, "malformed json block")
	assert.Nil(t, resp.ActionData)
}

func TestChatService_ConversationOnly(t *testing.T) {
	o := &fakeOracle{interp: &oracle.Interpretation{ResponseText: "Hello!"}}
	chat := newTestChat(t, o)

	history := []domain.ChatTurn{{Role: domain.RoleUser, Text: "earlier"}}
	resp := chat.Process(context.Background(), &domain.ChatRequest{Query: " hi ", ConversationHistory: history})

	assert.Equal(t, "Hello!", resp.ResponseText)
	assert.Empty(t, resp.Error)
	assert.Nil(t, resp.ActionData)
	assert.Equal(t, "hi", o.query)
	assert.Equal(t, history, o.history)
}

func TestChatService_Action(t *testing.T) {
	o := &fakeOracle{interp: &oracle.Interpretation{
		Intent:       "create_note",
		Entities:     map[string]any{"content": "call mom", "tags": []any{"family"}},
		ResponseText: "Noted.",
	}}
	chat := newTestChat(t, o)

	resp := chat.Process(context.Background(), &domain.ChatRequest{RequestID: "r2", Query: "remind me to call mom"})

	require.NotNil(t, resp.ActionData)
	assert.Equal(t, "r2", resp.RequestID)
	assert.Equal(t, "Noted.", resp.ResponseText)
	assert.Equal(t, domain.IntentCreateNote, resp.ActionData.ActionType)
	assert.Equal(t, "remind me to call mom", resp.ActionData.QueryText)
	require.Len(t, resp.ActionData.Notes, 1)
	assert.Equal(t, []string{"family"}, resp.ActionData.Notes[0].Tags)
	assert.Contains(t, resp.ActionFeedback, "Note created successfully")
}

func TestChatService_ValidationFailureIsFeedback(t *testing.T) {
	o := &fakeOracle{interp: &oracle.Interpretation{
		Intent:       "update_note_content",
		Entities:     map[string]any{"new_content": "x"},
		ResponseText: "Updating.",
	}}
	chat := newTestChat(t, o)

	resp := chat.Process(context.Background(), &domain.ChatRequest{Query: "update it"})
	assert.Empty(t, resp.Error)
	assert.Equal(t, "Updating.", resp.ResponseText)
	assert.Contains(t, resp.ActionFeedback, "invalid note_id")
	assert.Nil(t, resp.ActionData)
}

func TestChatService_UnknownIntentIsFeedback(t *testing.T) {
	o := &fakeOracle{interp: &oracle.Interpretation{Intent: "launch_rockets", ResponseText: "Sure."}}
	chat := newTestChat(t, o)

	resp := chat.Process(context.Background(), &domain.ChatRequest{Query: "launch"})
	assert.Empty(t, resp.Error)
	assert.Contains(t, resp.ActionFeedback, "launch_rockets")
}

func TestChatService_StoreFailureIsError(t *testing.T) {
	o := &fakeOracle{interp: &oracle.Interpretation{
		Intent:       "create_note",
		Entities:     map[string]any{"content": "x"},
		ResponseText: "Ok.",
	}}
	d := NewActionDispatcher(brokenStore{NoteStore: newTestStore(t)}, zerolog.Nop())
	chat := NewChatService(o, d, time.Second, zerolog.Nop())

	resp := chat.Process(context.Background(), &domain.ChatRequest{Query: "note x"})
	assert.Equal(t, errMsgProcessing, resp.Error)
	assert.NotContains(t, resp.ActionFeedback, "disk full")
}
