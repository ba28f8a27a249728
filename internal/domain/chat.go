package domain

// Error texts sent back to the client for malformed requests.
const (
	ErrMsgInvalidJSON = "Invalid JSON payload"
	ErrMsgEmptyQuery  = "Query cannot be empty"
)

type ChatRole string

const (
	RoleUser  ChatRole = "user"
	RoleModel ChatRole = "model"
)

type ChatTurn struct {
	Role ChatRole `json:"role"`
	Text string   `json:"text"`
}

// ChatRequest is sent by the client for every query.
type ChatRequest struct {
	RequestID           string     `json:"request_id,omitempty"`
	Query               string     `json:"query" validate:"required"`
	ConversationHistory []ChatTurn `json:"conversation_history"`
}

// ChatResponse answers exactly one ChatRequest.
type ChatResponse struct {
	RequestID      string      `json:"request_id,omitempty"`
	ResponseText   string      `json:"response_text,omitempty"`
	ActionFeedback string      `json:"action_feedback,omitempty"`
	ActionData     *ActionData `json:"action_data,omitempty"`
	Error          string      `json:"error,omitempty"`
}
