package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"kit-notes-server/internal/domain"
	"kit-notes-server/internal/history"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

// newFakeServer upgrades every request and hands the nth connection
// (1-based) to handle.
func newFakeServer(t *testing.T, handle func(n int32, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	var count atomic.Int32
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(count.Add(1), conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

// answer replies to every request as if a note with the query as content
// had been created.
func answer(conn *websocket.Conn) {
	for {
		var req domain.ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		conn.WriteJSON(domain.ChatResponse{
			RequestID:      req.RequestID,
			ResponseText:   "Noted.",
			ActionFeedback: "Note created successfully with ID: 1.",
			ActionData: &domain.ActionData{
				ActionType: domain.IntentCreateNote,
				QueryText:  req.Query,
				Notes:      []*domain.NoteResponse{{ID: "1", VersionID: "1", Content: req.Query}},
			},
		})
	}
}

type harness struct {
	session *Session
	states  chan State
	replies chan Reply
	cancel  context.CancelFunc
	done    chan error
}

func startSession(t *testing.T, url string, retryer Retryer) *harness {
	t.Helper()
	h := &harness{
		states:  make(chan State, 64),
		replies: make(chan Reply, 16),
		done:    make(chan error, 1),
	}
	h.session = NewSession(Options{
		URL:           url,
		Retryer:       retryer,
		History:       history.New(3),
		OnStateChange: func(s State) { h.states <- s },
		OnReply:       func(r Reply) { h.replies <- r },
		Logger:        zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.session.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(waitTimeout):
			t.Error("session did not stop")
		}
	})
	return h
}

// expectStates consumes state changes until the whole sequence was seen in
// order.
func (h *harness) expectStates(t *testing.T, want ...State) {
	t.Helper()
	var seen []State
	deadline := time.After(waitTimeout)
	for len(want) > 0 {
		select {
		case s := <-h.states:
			seen = append(seen, s)
			if s == want[0] {
				want = want[1:]
			}
		case <-deadline:
			t.Fatalf("still waiting for %v, saw %v", want, seen)
		}
	}
}

func (h *harness) nextReply(t *testing.T) Reply {
	t.Helper()
	select {
	case r := <-h.replies:
		return r
	case <-time.After(waitTimeout):
		t.Fatal("no reply")
		return Reply{}
	}
}

func TestState_Transitions(t *testing.T) {
	valid := []struct{ from, to State }{
		{StateDisconnected, StateConnecting},
		{StateConnecting, StateConnected},
		{StateConnecting, StateError},
		{StateConnecting, StateDisconnected},
		{StateConnected, StateDisconnected},
		{StateConnected, StateError},
		{StateError, StateConnecting},
		{StateError, StateDisconnected},
	}
	for _, tt := range valid {
		assert.NoError(t, tt.from.validateTransitionTo(tt.to), "%v -> %v", tt.from, tt.to)
	}

	invalid := []struct{ from, to State }{
		{StateDisconnected, StateConnected},
		{StateConnected, StateConnecting},
		{StateError, StateConnected},
		{StateDisconnected, StateError},
	}
	for _, tt := range invalid {
		assert.Error(t, tt.from.validateTransitionTo(tt.to), "%v -> %v", tt.from, tt.to)
	}

	assert.Equal(t, "Connected", StateConnected.String())
	assert.Equal(t, "InvalidState", State(42).String())
}

func TestReply_ChangedNotes(t *testing.T) {
	note := []*domain.NoteResponse{{ID: "1", VersionID: "2"}}
	tests := []struct {
		name string
		resp domain.ChatResponse
		want bool
	}{
		{"create", domain.ChatResponse{ActionData: &domain.ActionData{ActionType: domain.IntentCreateNote, Notes: note}}, true},
		{"tag", domain.ChatResponse{ActionData: &domain.ActionData{ActionType: domain.IntentAddTagsToNote, Notes: note}}, true},
		{"restore", domain.ChatResponse{ActionData: &domain.ActionData{ActionType: domain.IntentRestoreNote, Notes: note}}, true},
		{"delete", domain.ChatResponse{ActionData: &domain.ActionData{ActionType: domain.IntentDeleteNote, Succeeded: []string{"1"}}}, true},
		{"delete nothing", domain.ChatResponse{ActionData: &domain.ActionData{ActionType: domain.IntentDeleteNote, Failed: []domain.FailureEntry{{ID: "9"}}}}, false},
		{"find", domain.ChatResponse{ActionData: &domain.ActionData{ActionType: domain.IntentFindNotes, Notes: note}}, false},
		{"suggest", domain.ChatResponse{ActionData: &domain.ActionData{ActionType: domain.IntentSuggestTags}}, false},
		{"conversation", domain.ChatResponse{ResponseText: "hi"}, false},
		{"error", domain.ChatResponse{Error: "boom", ActionData: &domain.ActionData{ActionType: domain.IntentCreateNote, Notes: note}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Reply{Response: tt.resp}.ChangedNotes())
		})
	}
}

func TestSession_RoundTrip(t *testing.T) {
	srv := newFakeServer(t, func(_ int32, conn *websocket.Conn) { answer(conn) })
	h := startSession(t, wsURL(srv), NewFixedDelayRetryer(10*time.Millisecond, 0))
	h.expectStates(t, StateConnecting, StateConnected)

	id, err := h.session.Send("  remember the milk ")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	reply := h.nextReply(t)
	assert.Equal(t, id, reply.RequestID)
	assert.Equal(t, "remember the milk", reply.Query)
	assert.True(t, reply.Recorded)

	entries := h.session.History().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "remember the milk", entries[0].QueryText)

	msgs := h.session.Transcript().Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, SenderUser, msgs[0].Sender)
	assert.Equal(t, SenderAI, msgs[1].Sender)
	assert.Equal(t, SenderSystem, msgs[2].Sender)

	_, err = h.session.Send("   ")
	_, ok := domain.AsValidationError(err)
	assert.True(t, ok)
}

func TestSession_ErrorResponseKeepsConnection(t *testing.T) {
	srv := newFakeServer(t, func(_ int32, conn *websocket.Conn) {
		for {
			var req domain.ChatRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			conn.WriteJSON(domain.ChatResponse{RequestID: req.RequestID, Error: "Failed to process request"})
		}
	})
	h := startSession(t, wsURL(srv), NewFixedDelayRetryer(10*time.Millisecond, 0))
	h.expectStates(t, StateConnecting, StateConnected)

	_, err := h.session.Send("anything")
	require.NoError(t, err)

	reply := h.nextReply(t)
	assert.Equal(t, "Failed to process request", reply.Response.Error)
	assert.False(t, reply.Recorded)
	assert.Equal(t, StateConnected, h.session.State())

	msgs := h.session.Transcript().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, SenderSystem, msgs[1].Sender)
}

func TestSession_Reconnects(t *testing.T) {
	srv := newFakeServer(t, func(n int32, conn *websocket.Conn) {
		if n == 1 {
			return // drop the first connection right away
		}
		answer(conn)
	})
	h := startSession(t, wsURL(srv), NewFixedDelayRetryer(10*time.Millisecond, 0))

	h.expectStates(t,
		StateConnecting, StateConnected,
		StateDisconnected,
		StateConnecting, StateConnected,
	)

	_, err := h.session.Send("after reconnect")
	require.NoError(t, err)
	assert.Equal(t, "after reconnect", h.nextReply(t).Query)

	h.cancel()
	select {
	case err := <-h.done:
		h.done <- err
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitTimeout):
		t.Fatal("session did not stop")
	}
	assert.Equal(t, StateDisconnected, h.session.State())
}

func TestSession_DropsUnansweredRequestsOnDisconnect(t *testing.T) {
	srv := newFakeServer(t, func(n int32, conn *websocket.Conn) {
		if n == 1 {
			var req domain.ChatRequest
			conn.ReadJSON(&req)
			return // hang up without answering
		}
		answer(conn)
	})
	h := startSession(t, wsURL(srv), NewFixedDelayRetryer(10*time.Millisecond, 0))
	h.expectStates(t, StateConnecting, StateConnected)

	_, err := h.session.Send("lost in transit")
	require.NoError(t, err)

	h.expectStates(t, StateDisconnected, StateConnecting, StateConnected)
	assert.Zero(t, pendingCount(h.session))

	_, err = h.session.Send("after reconnect")
	require.NoError(t, err)
	assert.Equal(t, "after reconnect", h.nextReply(t).Query)
	assert.Zero(t, pendingCount(h.session))
}

func pendingCount(s *Session) int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

func TestSession_ProtocolFailure(t *testing.T) {
	srv := newFakeServer(t, func(n int32, conn *websocket.Conn) {
		if n == 1 {
			conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		}
		answer(conn)
	})
	h := startSession(t, wsURL(srv), NewFixedDelayRetryer(10*time.Millisecond, 0))

	h.expectStates(t, StateConnecting, StateConnected, StateError, StateConnecting, StateConnected)
}

func TestSession_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	h := startSession(t, url, NewFixedDelayRetryer(time.Millisecond, 2))
	h.expectStates(t, StateConnecting, StateError, StateConnecting, StateError)

	select {
	case err := <-h.done:
		h.done <- err
		var te *domain.TransportError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, "reconnect", te.Op)
	case <-time.After(waitTimeout):
		t.Fatal("session kept retrying")
	}
	assert.Equal(t, StateDisconnected, h.session.State())
}

func TestSession_SendWhileDisconnected(t *testing.T) {
	s := NewSession(Options{URL: "ws://127.0.0.1:1/ws", Logger: zerolog.Nop()})

	_, err := s.Send("hello")
	var te *domain.TransportError
	require.True(t, errors.As(err, &te))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, s.Transcript().Messages())
}
