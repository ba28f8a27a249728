// Package client implements the terminal side of the chat protocol: a
// websocket session that reconnects on its own, the chat transcript, and
// the context history of recent action results.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"kit-notes-server/internal/domain"
	"kit-notes-server/internal/history"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultWriteWait = 10 * time.Second
	// maxHistoryTurns bounds the conversation sent with each query.
	maxHistoryTurns = 20
)

var ErrNotConnected = errors.New("not connected")

// errProtocol marks a frame the session could not decode.
var errProtocol = errors.New("protocol failure")

// Reply is one server response together with the query that caused it.
type Reply struct {
	RequestID string
	Query     string
	Response  domain.ChatResponse
	// Recorded reports whether the response added a context history entry.
	Recorded bool
}

// ChangedNotes reports whether the reply changed stored notes, which makes
// any note list shown before it stale.
func (r Reply) ChangedNotes() bool {
	d := r.Response.ActionData
	if r.Response.Error != "" || d == nil {
		return false
	}
	switch {
	case d.ActionType.IsDeleteClass():
		return len(d.Succeeded) > 0
	case d.ActionType == domain.IntentCreateNote, d.ActionType.IsUpdateClass():
		return len(d.Notes) > 0
	}
	return false
}

type Options struct {
	URL     string
	Token   string
	Retryer Retryer
	History *history.ContextHistory
	Dialer  *websocket.Dialer

	OnStateChange func(State)
	OnReply       func(Reply)

	Logger zerolog.Logger
}

type Session struct {
	url        string
	token      string
	retryer    Retryer
	dialer     *websocket.Dialer
	history    *history.ContextHistory
	transcript *Transcript

	onStateChange func(State)
	onReply       func(Reply)

	stateMu sync.Mutex
	state   State

	// connMu guards conn and serializes writes to it.
	connMu sync.Mutex
	conn   *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]string

	logger zerolog.Logger
}

func NewSession(opts Options) *Session {
	if opts.Retryer == nil {
		opts.Retryer = NewFixedDelayRetryer(DefaultReconnectDelay, 0)
	}
	if opts.History == nil {
		opts.History = history.New(history.DefaultCapacity)
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Session{
		url:           opts.URL,
		token:         opts.Token,
		retryer:       opts.Retryer,
		dialer:        opts.Dialer,
		history:       opts.History,
		transcript:    NewTranscript(),
		onStateChange: opts.OnStateChange,
		onReply:       opts.OnReply,
		state:         StateDisconnected,
		pending:       make(map[string]string),
		logger:        opts.Logger.With().Str("component", "chat_session").Logger(),
	}
}

func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) History() *history.ContextHistory {
	return s.history
}

func (s *Session) Transcript() *Transcript {
	return s.transcript
}

func (s *Session) transitionTo(next State) {
	s.stateMu.Lock()
	if err := s.state.validateTransitionTo(next); err != nil {
		s.stateMu.Unlock()
		s.logger.Error().Err(err).Msg("state transition rejected")
		return
	}
	changed := s.state != next
	s.state = next
	s.stateMu.Unlock()

	if !changed {
		return
	}
	s.logger.Debug().Stringer("state", next).Msg("session state changed")
	if s.onStateChange != nil {
		s.onStateChange(next)
	}
}

// Run connects and keeps the session connected until ctx is cancelled or
// the retryer gives up. It always returns a non-nil error.
func (s *Session) Run(ctx context.Context) error {
	attempt := 0
	for {
		s.transitionTo(StateConnecting)

		conn, err := s.dial(ctx)
		if err == nil {
			attempt = 0
			s.retryer.Reset()
			err = s.serve(ctx, conn)
		} else if ctx.Err() == nil {
			s.logger.Warn().Err(err).Str("url", s.url).Msg("connection attempt failed")
			s.transitionTo(StateError)
		}

		if ctx.Err() != nil {
			s.transitionTo(StateDisconnected)
			return ctx.Err()
		}

		delay, ok := s.retryer.NextDelay(attempt, err)
		attempt++
		if !ok {
			s.transitionTo(StateDisconnected)
			return &domain.TransportError{Op: "reconnect", Err: err}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.transitionTo(StateDisconnected)
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}

	conn, res, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		if res != nil {
			err = fmt.Errorf("%w (status %d)", err, res.StatusCode)
		}
		return nil, &domain.TransportError{Op: "dial", Err: err}
	}
	return conn, nil
}

// serve owns conn until it fails or ctx is cancelled.
func (s *Session) serve(ctx context.Context, conn *websocket.Conn) error {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.transitionTo(StateConnected)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.connMu.Lock()
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			s.connMu.Unlock()
			conn.Close()
		case <-done:
		}
	}()

	err := s.readLoop(conn)
	close(done)

	s.connMu.Lock()
	s.conn = nil
	s.connMu.Unlock()
	conn.Close()

	if n := s.dropPending(); n > 0 {
		s.logger.Warn().Int("requests", n).Msg("connection closed before replies arrived")
	}

	if ctx.Err() != nil {
		return err
	}
	if errors.Is(err, errProtocol) {
		s.logger.Error().Err(err).Msg("closing connection")
		s.transitionTo(StateError)
	} else {
		s.logger.Info().Err(err).Msg("connection lost")
		s.transitionTo(StateDisconnected)
	}
	return err
}

func (s *Session) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return &domain.TransportError{Op: "read", Err: err}
		}

		var resp domain.ChatResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return fmt.Errorf("%w: %v", errProtocol, err)
		}
		s.deliver(resp)
	}
}

// dropPending forgets requests sent on a connection that is gone; their
// replies can no longer arrive.
func (s *Session) dropPending() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	n := len(s.pending)
	clear(s.pending)
	return n
}

func (s *Session) deliver(resp domain.ChatResponse) {
	s.pendingMu.Lock()
	query, known := s.pending[resp.RequestID]
	delete(s.pending, resp.RequestID)
	s.pendingMu.Unlock()

	if !known && resp.ActionData != nil {
		query = resp.ActionData.QueryText
	}

	reply := Reply{RequestID: resp.RequestID, Query: query, Response: resp}

	if resp.Error != "" {
		s.transcript.Add(SenderSystem, resp.Error)
	} else {
		if resp.ResponseText != "" {
			s.transcript.Add(SenderAI, resp.ResponseText)
		}
		if resp.ActionFeedback != "" {
			s.transcript.Add(SenderSystem, resp.ActionFeedback)
		}
		reply.Recorded = s.history.Apply(query, resp.ActionData)
	}

	if s.onReply != nil {
		s.onReply(reply)
	}
}

// Send writes one request and returns its request id without waiting for
// the reply.
func (s *Session) Send(query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", domain.NewValidationError("query", "cannot be empty")
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return "", &domain.TransportError{Op: "send", Err: ErrNotConnected}
	}

	req := domain.ChatRequest{
		RequestID:           uuid.NewString(),
		Query:               query,
		ConversationHistory: s.transcript.Turns(maxHistoryTurns),
	}

	s.pendingMu.Lock()
	s.pending[req.RequestID] = query
	s.pendingMu.Unlock()

	// The reply may be read before WriteJSON returns.
	s.transcript.Add(SenderUser, query)

	s.conn.SetWriteDeadline(time.Now().Add(defaultWriteWait))
	if err := s.conn.WriteJSON(req); err != nil {
		s.pendingMu.Lock()
		delete(s.pending, req.RequestID)
		s.pendingMu.Unlock()
		return "", &domain.TransportError{Op: "write", Err: err}
	}
	return req.RequestID, nil
}
