package handler

import (
	"encoding/json"
	"net/http"

	"kit-notes-server/internal/domain"
	"kit-notes-server/internal/service"
	"kit-notes-server/pkg/response"

	"github.com/go-playground/validator/v10"
)

// ChatHandler answers a single query over plain HTTP, for clients that
// cannot hold a websocket open.
type ChatHandler struct {
	chat     *service.ChatService
	validate *validator.Validate
}

func NewChatHandler(chat *service.ChatService) *ChatHandler {
	return &ChatHandler{
		chat:     chat,
		validate: validator.New(),
	}
}

func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, domain.ErrMsgInvalidJSON)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, domain.ErrMsgEmptyQuery)
		return
	}

	resp := h.chat.Process(r.Context(), &req)
	if resp.Error == domain.ErrMsgEmptyQuery {
		response.BadRequest(w, resp.Error)
		return
	}

	response.Success(w, resp)
}
