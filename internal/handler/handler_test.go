package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kit-notes-server/internal/config"
	"kit-notes-server/internal/domain"
	"kit-notes-server/internal/oracle"
	"kit-notes-server/internal/repository"
	"kit-notes-server/internal/service"
	"kit-notes-server/internal/websocket"
	"kit-notes-server/pkg/jwt"

	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedOracle answers known queries with canned interpretations.
type scriptedOracle map[string]*oracle.Interpretation

func (s scriptedOracle) Interpret(_ context.Context, query string, _ []domain.ChatTurn) (*oracle.Interpretation, error) {
	if interp, ok := s[query]; ok {
		return interp, nil
	}
	return &oracle.Interpretation{ResponseText: "I'm not sure what you mean."}, nil
}

var script = scriptedOracle{
	"remember milk": {
		Intent:       "create_note",
		Entities:     map[string]any{"content": "buy milk", "tags": []any{"shopping"}},
		ResponseText: "Noted.",
	},
	"delete 1 and 7": {
		Intent:       "delete_note",
		Entities:     map[string]any{"note_id": []any{1, 7}},
		ResponseText: "Deleting.",
	},
}

type testServer struct {
	*httptest.Server
	store repository.NoteStore
}

func newTestServer(t *testing.T, auth config.AuthConfig) *testServer {
	t.Helper()
	logger := zerolog.Nop()

	store, err := repository.NewSQLiteNoteStore(repository.SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "notes.db"),
	}, logger)
	require.NoError(t, err)

	dispatcher := service.NewActionDispatcher(store, logger).WithLocation(time.UTC)
	chat := service.NewChatService(script, dispatcher, 5*time.Second, logger)

	manager := websocket.NewManager(websocket.Config{
		MaxConnPerUser: 2,
		WriteWait:      time.Second,
		PongWait:       time.Minute,
		PingPeriod:     50 * time.Second,
	}, logger)
	manager.SetMessageHandler(NewWebSocketMessageHandler(chat, logger))

	ctx, cancel := context.WithCancel(context.Background())
	go manager.Run(ctx)

	router := NewRouter(RouterDeps{
		Notes:     service.NewNoteService(store, time.UTC),
		Chat:      chat,
		WSManager: manager,
		Auth:      auth,
		CORS:      config.CORSConfig{AllowedOrigins: "*", AllowedMethods: "GET,POST,OPTIONS", AllowedHeaders: "Content-Type,Authorization"},
		Logger:    logger,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		manager.Wait()
		store.Close()
	})
	return &testServer{Server: srv, store: store}
}

func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

func dial(t *testing.T, url string, header http.Header) *ws.Conn {
	t.Helper()
	conn, _, err := ws.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *ws.Conn, payload string) domain.ChatResponse {
	t.Helper()
	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte(payload)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var resp domain.ChatResponse
	require.NoError(t, conn.ReadJSON(&resp))
	return resp
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func getJSON(t *testing.T, url, token string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&env))
	return res.StatusCode, env
}

func TestWebSocket_ChatRoundTrip(t *testing.T) {
	srv := newTestServer(t, config.AuthConfig{})
	conn := dial(t, srv.wsURL(), nil)

	resp := roundTrip(t, conn, `{"request_id":"r1","query":"remember milk","conversation_history":[]}`)
	assert.Equal(t, "r1", resp.RequestID)
	assert.Equal(t, "Noted.", resp.ResponseText)
	require.NotNil(t, resp.ActionData)
	assert.Equal(t, domain.IntentCreateNote, resp.ActionData.ActionType)
	require.Len(t, resp.ActionData.Notes, 1)
	assert.Equal(t, "buy milk", resp.ActionData.Notes[0].Content)

	resp = roundTrip(t, conn, `{"request_id":"r2","query":"delete 1 and 7"}`)
	require.NotNil(t, resp.ActionData)
	assert.Equal(t, []string{"1"}, resp.ActionData.Succeeded)
	require.Len(t, resp.ActionData.Failed, 1)
	assert.Equal(t, "7", resp.ActionData.Failed[0].ID)

	resp = roundTrip(t, conn, `{"query":"hello there"}`)
	assert.Equal(t, "I'm not sure what you mean.", resp.ResponseText)
	assert.Nil(t, resp.ActionData)
}

func TestWebSocket_MalformedRequests(t *testing.T) {
	srv := newTestServer(t, config.AuthConfig{})
	conn := dial(t, srv.wsURL(), nil)

	resp := roundTrip(t, conn, `{not json`)
	assert.Equal(t, domain.ErrMsgInvalidJSON, resp.Error)

	resp = roundTrip(t, conn, `{"query":"   "}`)
	assert.Equal(t, domain.ErrMsgEmptyQuery, resp.Error)

	// the connection survives both
	resp = roundTrip(t, conn, `{"query":"remember milk"}`)
	assert.Empty(t, resp.Error)
}

func TestWebSocket_ConnectionLimit(t *testing.T) {
	srv := newTestServer(t, config.AuthConfig{})
	// a round trip proves the connection was registered
	for i := 0; i < 2; i++ {
		conn := dial(t, srv.wsURL(), nil)
		roundTrip(t, conn, `{"query":"hello"}`)
	}

	extra := dial(t, srv.wsURL(), nil)
	require.NoError(t, extra.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := extra.ReadMessage()
	assert.True(t, ws.IsCloseError(err, ws.CloseNoStatusReceived), "got %v", err)
}

func TestREST_Notes(t *testing.T) {
	srv := newTestServer(t, config.AuthConfig{})
	ctx := context.Background()

	note, err := srv.store.Create(ctx, "plan sprint", []string{"work"}, nil)
	require.NoError(t, err)
	_, err = srv.store.UpdateContent(ctx, note.LineageID, "plan sprint 12")
	require.NoError(t, err)
	_, err = srv.store.Create(ctx, "buy milk", []string{"shopping"}, nil)
	require.NoError(t, err)

	status, env := getJSON(t, srv.URL+"/api/v1/notes", "")
	require.Equal(t, http.StatusOK, status)
	var notes []domain.NoteResponse
	require.NoError(t, json.Unmarshal(env.Data, &notes))
	assert.Len(t, notes, 2)

	status, env = getJSON(t, srv.URL+"/api/v1/notes?tag=work", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &notes))
	require.Len(t, notes, 1)
	assert.Equal(t, "plan sprint 12", notes[0].Content)

	status, env = getJSON(t, srv.URL+"/api/v1/notes/"+note.LineageID+"/history", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &notes))
	assert.Len(t, notes, 2)

	status, env = getJSON(t, srv.URL+"/api/v1/tags", "")
	require.Equal(t, http.StatusOK, status)
	var tags []string
	require.NoError(t, json.Unmarshal(env.Data, &tags))
	assert.ElementsMatch(t, []string{"work", "shopping"}, tags)

	status, env = getJSON(t, srv.URL+"/api/v1/notes/999", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, env.Success)

	status, _ = getJSON(t, srv.URL+"/api/v1/notes?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = getJSON(t, srv.URL+"/api/v1/notes?include_deleted=maybe", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestREST_Chat(t *testing.T) {
	srv := newTestServer(t, config.AuthConfig{})

	post := func(body string) (*http.Response, envelope) {
		res, err := http.Post(srv.URL+"/api/v1/chat", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer res.Body.Close()
		var env envelope
		require.NoError(t, json.NewDecoder(res.Body).Decode(&env))
		return res, env
	}

	res, env := post(`{"query":"remember milk"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var resp domain.ChatResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, domain.IntentCreateNote, resp.ActionData.ActionType)

	res, env = post(`nope`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, domain.ErrMsgInvalidJSON, env.Error)

	res, env = post(`{"query":""}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, domain.ErrMsgEmptyQuery, env.Error)
}

func TestAuth(t *testing.T) {
	secret := "handler-test-secret"
	srv := newTestServer(t, config.AuthConfig{Secret: secret})

	status, _ := getJSON(t, srv.URL+"/api/v1/notes", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	token, err := jwt.GenerateToken("cli-user", time.Hour, secret)
	require.NoError(t, err)

	status, _ = getJSON(t, srv.URL+"/api/v1/notes", token)
	assert.Equal(t, http.StatusOK, status)

	_, res, err := ws.DefaultDialer.Dial(srv.wsURL(), nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	conn := dial(t, srv.wsURL()+"?token="+token, nil)
	resp := roundTrip(t, conn, `{"query":"remember milk"}`)
	assert.Empty(t, resp.Error)

	status, env := getJSON(t, srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
}
