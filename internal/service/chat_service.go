package service

import (
	"context"
	"strings"
	"time"

	"kit-notes-server/internal/domain"
	"kit-notes-server/internal/oracle"

	"github.com/rs/zerolog"
)

const (
	errMsgProcessing   = "Failed to process request"
	defaultChatTimeout = 60 * time.Second
)

// ChatService answers one chat request: interpret, dispatch, reply.
type ChatService struct {
	oracle     oracle.IntentOracle
	dispatcher *ActionDispatcher
	timeout    time.Duration
	logger     zerolog.Logger
}

func NewChatService(o oracle.IntentOracle, d *ActionDispatcher, timeout time.Duration, logger zerolog.Logger) *ChatService {
	if timeout <= 0 {
		timeout = defaultChatTimeout
	}
	return &ChatService{
		oracle:     o,
		dispatcher: d,
		timeout:    timeout,
		logger:     logger.With().Str("component", "chat").Logger(),
	}
}

// Process never returns nil. Failures are reported through the response's
// error or action_feedback fields.
func (s *ChatService) Process(ctx context.Context, req *domain.ChatRequest) *domain.ChatResponse {
	resp := &domain.ChatResponse{RequestID: req.RequestID}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		resp.Error = domain.ErrMsgEmptyQuery
		return resp
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	interp, err := s.oracle.Interpret(ctx, query, req.ConversationHistory)
	if err != nil {
		s.logger.Warn().Err(err).Str("request_id", req.RequestID).Msg("oracle failed")
		if oe, ok := domain.AsOracleError(err); ok {
			resp.Error = "Could not understand the request: " + oe.Message
		} else {
			resp.Error = errMsgProcessing
		}
		return resp
	}

	resp.ResponseText = interp.ResponseText
	if !interp.HasAction() {
		return resp
	}

	result, err := s.dispatcher.Dispatch(ctx, interp.Intent, interp.Entities)
	if err != nil {
		if !isUserError(err) {
			s.logger.Error().Err(err).Str("intent", interp.Intent).Msg("action failed")
			resp.Error = errMsgProcessing
		}
		resp.ActionFeedback = failureFeedback(interp.Intent, err)
		return resp
	}

	resp.ActionFeedback = joinFeedback(interp.ActionFeedback, result.FeedbackText)
	resp.ActionData = result.ToData(query)
	return resp
}

func joinFeedback(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}
