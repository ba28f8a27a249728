package handler

import (
	"context"
	"net/http"

	"kit-notes-server/internal/config"
	"kit-notes-server/internal/domain"
	"kit-notes-server/internal/middleware"
	"kit-notes-server/internal/service"
	"kit-notes-server/internal/websocket"
	"kit-notes-server/pkg/jwt"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type WebSocketHandler struct {
	manager   *websocket.Manager
	jwtSecret string
	upgrader  ws.Upgrader
	logger    zerolog.Logger
}

// NewWebSocketHandler authenticates upgrades only when jwtSecret is set.
func NewWebSocketHandler(manager *websocket.Manager, cfg config.WebSocketConfig, jwtSecret string, logger zerolog.Logger) *WebSocketHandler {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 1024
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = 1024
	}
	return &WebSocketHandler{
		manager:   manager,
		jwtSecret: jwtSecret,
		upgrader: ws.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.With().Str("component", "ws_handler").Logger(),
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	userID := middleware.AnonymousUser

	if h.jwtSecret != "" {
		token, ok := middleware.TokenFromRequest(r)
		if !ok {
			h.logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("missing authorization token")
			http.Error(w, "missing authorization token", http.StatusUnauthorized)
			return
		}

		claims, err := jwt.ValidateToken(token, h.jwtSecret)
		if err != nil {
			h.logger.Debug().Err(err).Msg("token validation failed")
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		userID = claims.UserID
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := websocket.NewClient(uuid.New().String(), userID, conn, h.manager)

	h.manager.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

type WebSocketMessageHandler struct {
	chat   *service.ChatService
	logger zerolog.Logger
}

func NewWebSocketMessageHandler(chat *service.ChatService, logger zerolog.Logger) *WebSocketMessageHandler {
	return &WebSocketMessageHandler{
		chat:   chat,
		logger: logger.With().Str("component", "ws_messages").Logger(),
	}
}

func (h *WebSocketMessageHandler) HandleChatRequest(ctx context.Context, client *websocket.Client, req *domain.ChatRequest) *domain.ChatResponse {
	h.logger.Debug().
		Str("client_id", client.ID).
		Str("request_id", req.RequestID).
		Int("history_turns", len(req.ConversationHistory)).
		Msg("chat request")

	resp := h.chat.Process(ctx, req)
	if resp.Error != "" {
		h.logger.Info().Str("client_id", client.ID).Str("error", resp.Error).Msg("chat request failed")
	}
	return resp
}
