package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"kit-notes-server/internal/domain"

	"github.com/rs/zerolog"
)

type ClientMessage struct {
	Client  *Client
	Message []byte
}

// MessageHandler answers one decoded chat request. It runs on its own
// goroutine so a slow oracle call never blocks the next request.
type MessageHandler interface {
	HandleChatRequest(ctx context.Context, client *Client, req *domain.ChatRequest) *domain.ChatResponse
}

type Config struct {
	MaxConnPerUser int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
}

type Manager struct {
	clients        map[string]*Client
	userIndex      map[string]map[string]bool
	clientsMutex   sync.RWMutex
	Register       chan *Client
	Unregister     chan *Client
	HandleMessage  chan *ClientMessage
	cfg            Config
	messageHandler MessageHandler
	inflight       sync.WaitGroup
	done           chan struct{}
	logger         zerolog.Logger
}

func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	if cfg.MaxConnPerUser <= 0 {
		cfg.MaxConnPerUser = 5
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 * 1024
	}
	return &Manager{
		clients:       make(map[string]*Client),
		userIndex:     make(map[string]map[string]bool),
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		HandleMessage: make(chan *ClientMessage),
		cfg:           cfg,
		done:          make(chan struct{}),
		logger:        logger.With().Str("component", "ws_manager").Logger(),
	}
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

// Run serves the hub until ctx is cancelled, then closes every client.
// Requests already being processed still complete; see Wait.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)

		case clientMsg := <-m.HandleMessage:
			m.processMessage(ctx, clientMsg)

		case <-ctx.Done():
			close(m.done)
			m.closeAll()
			return
		}
	}
}

// Wait blocks until every in-flight request has been answered.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.userIndex[client.UserID] == nil {
		m.userIndex[client.UserID] = make(map[string]bool)
	}

	if len(m.userIndex[client.UserID]) >= m.cfg.MaxConnPerUser {
		m.logger.Warn().Str("user_id", client.UserID).Msg("max connections reached")
		close(client.Send)
		return
	}

	m.clients[client.ID] = client
	m.userIndex[client.UserID][client.ID] = true

	m.logger.Info().
		Str("client_id", client.ID).
		Str("user_id", client.UserID).
		Str("remote_addr", client.RemoteAddr).
		Msg("client registered")
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; ok {
		delete(m.clients, client.ID)
		delete(m.userIndex[client.UserID], client.ID)

		if len(m.userIndex[client.UserID]) == 0 {
			delete(m.userIndex, client.UserID)
		}

		close(client.Send)
		m.logger.Info().Str("client_id", client.ID).Msg("client unregistered")
	}
}

func (m *Manager) closeAll() {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	for id, client := range m.clients {
		close(client.Send)
		delete(m.clients, id)
	}
	m.userIndex = make(map[string]map[string]bool)
}

func (m *Manager) processMessage(ctx context.Context, clientMsg *ClientMessage) {
	var req domain.ChatRequest
	if err := json.Unmarshal(clientMsg.Message, &req); err != nil {
		m.logger.Debug().Err(err).Str("client_id", clientMsg.Client.ID).Msg("invalid message")
		m.SendToClient(clientMsg.Client.ID, &domain.ChatResponse{Error: domain.ErrMsgInvalidJSON})
		return
	}

	if m.messageHandler == nil {
		m.logger.Error().Msg("no message handler configured")
		return
	}

	// The reply goes to whichever connection asked. If that client is gone
	// by then the response is dropped.
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		resp := m.messageHandler.HandleChatRequest(ctx, clientMsg.Client, &req)
		if resp == nil {
			return
		}
		if err := m.SendToClient(clientMsg.Client.ID, resp); err != nil {
			m.logger.Error().Err(err).Str("client_id", clientMsg.Client.ID).Msg("failed to send response")
		}
	}()
}

func (m *Manager) SendToClient(clientID string, message *domain.ChatResponse) error {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	client, exists := m.clients[clientID]
	if !exists {
		return nil
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case client.Send <- messageBytes:
	default:
		m.logger.Warn().Str("client_id", clientID).Msg("send buffer full, dropping response")
	}

	return nil
}

func (m *Manager) GetUserConnections(userID string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	if clients, exists := m.userIndex[userID]; exists {
		return len(clients)
	}
	return 0
}

func (m *Manager) ConnectionCount() int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	return len(m.clients)
}
