package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"kit-notes-server/internal/domain"
	"kit-notes-server/pkg/response"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNotesClient_BaseURL(t *testing.T) {
	cases := map[string]string{
		"ws://localhost:8080/ws":       "http://localhost:8080",
		"wss://kit.example.com/ws?x=1": "https://kit.example.com",
		"http://localhost:8080/":       "http://localhost:8080",
	}
	for in, want := range cases {
		c, err := NewNotesClient(in, "")
		require.NoError(t, err, in)
		assert.Equal(t, want, c.baseURL)
	}

	_, err := NewNotesClient("ftp://nope", "")
	assert.Error(t, err)
}

func TestNotesClient(t *testing.T) {
	var gotAuth, gotQuery string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/notes", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		response.Success(w, []*domain.NoteResponse{{ID: "1", Content: "buy milk", Tags: []string{"shopping"}}})
	})
	mux.HandleFunc("/api/v1/notes/1", func(w http.ResponseWriter, r *http.Request) {
		response.Success(w, &domain.NoteResponse{ID: "1", Content: "buy milk"})
	})
	mux.HandleFunc("/api/v1/notes/9", func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, "note 9: not found")
	})
	mux.HandleFunc("/api/v1/tags", func(w http.ResponseWriter, r *http.Request) {
		response.Success(w, []string{"shopping", "work"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := NewNotesClient(wsURL(srv), "tok")
	require.NoError(t, err)
	ctx := context.Background()

	notes, err := c.ListNotes(ctx, "milk", "shopping")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "buy milk", notes[0].Content)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "q=milk&tag=shopping", gotQuery)

	note, err := c.GetNote(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "1", note.ID)

	_, err = c.GetNote(ctx, "9")
	assert.True(t, domain.IsNotFound(err))

	tags, err := c.ListTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"shopping", "work"}, tags)
}
