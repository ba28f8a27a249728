package handler

import (
	"net/http"

	"kit-notes-server/internal/config"
	"kit-notes-server/internal/middleware"
	"kit-notes-server/internal/service"
	"kit-notes-server/internal/websocket"
	"kit-notes-server/pkg/response"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	Notes     *service.NoteService
	Chat      *service.ChatService
	WSManager *websocket.Manager
	WebSocket config.WebSocketConfig
	Auth      config.AuthConfig
	CORS      config.CORSConfig
	Logger    zerolog.Logger
}

func NewRouter(deps RouterDeps) *mux.Router {
	noteHandler := NewNoteHandler(deps.Notes, deps.Logger)
	chatHandler := NewChatHandler(deps.Chat)
	wsHandler := NewWebSocketHandler(deps.WSManager, deps.WebSocket, deps.Auth.Secret, deps.Logger)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware(deps.Logger))
	r.Use(middleware.CORSMiddleware(
		deps.CORS.AllowedOrigins,
		deps.CORS.AllowedMethods,
		deps.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()
	if deps.Auth.Enabled() {
		api.Use(middleware.AuthMiddleware(deps.Auth.Secret))
	}

	api.HandleFunc("/notes", noteHandler.List).Methods("GET", "OPTIONS")
	api.HandleFunc("/notes/{id}", noteHandler.Get).Methods("GET", "OPTIONS")
	api.HandleFunc("/notes/{id}/history", noteHandler.History).Methods("GET", "OPTIONS")
	api.HandleFunc("/tags", noteHandler.Tags).Methods("GET", "OPTIONS")
	api.HandleFunc("/chat", chatHandler.Chat).Methods("POST", "OPTIONS")

	r.HandleFunc("/ws", wsHandler.HandleConnection)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		response.Success(w, map[string]any{
			"status":      "healthy",
			"service":     "kit-notes-server",
			"connections": deps.WSManager.ConnectionCount(),
		})
	}).Methods("GET")

	return r
}
