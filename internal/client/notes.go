package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kit-notes-server/internal/domain"
)

// NotesClient reads notes over the REST surface.
type NotesClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewNotesClient accepts either the http base URL or the websocket URL of
// the same server.
func NewNotesClient(serverURL, token string) (*NotesClient, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/ws")
	u.RawQuery = ""

	return &NotesClient{
		baseURL: u.String(),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (c *NotesClient) get(ctx context.Context, path string, query url.Values, dst any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return &domain.TransportError{Op: "get", Err: err}
	}
	defer res.Body.Close()

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	switch {
	case res.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", env.Error, domain.ErrNotFound)
	case res.StatusCode == http.StatusBadRequest:
		return domain.NewValidationError("request", "%s", env.Error)
	case !env.Success:
		return fmt.Errorf("%s: %s", res.Status, env.Error)
	}
	return json.Unmarshal(env.Data, dst)
}

// ListNotes returns the latest versions matching the optional text and tag
// filters.
func (c *NotesClient) ListNotes(ctx context.Context, text, tag string) ([]*domain.NoteResponse, error) {
	query := url.Values{}
	if text != "" {
		query.Set("q", text)
	}
	if tag != "" {
		query.Set("tag", tag)
	}

	var notes []*domain.NoteResponse
	if err := c.get(ctx, "/api/v1/notes", query, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

func (c *NotesClient) GetNote(ctx context.Context, id string) (*domain.NoteResponse, error) {
	var note domain.NoteResponse
	if err := c.get(ctx, "/api/v1/notes/"+url.PathEscape(id), nil, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

func (c *NotesClient) ListTags(ctx context.Context) ([]string, error) {
	var tags []string
	if err := c.get(ctx, "/api/v1/tags", nil, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}
