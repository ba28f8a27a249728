package client

import (
	"sync"
	"time"

	"kit-notes-server/internal/domain"

	"github.com/google/uuid"
)

type Sender string

const (
	SenderUser   Sender = "user"
	SenderAI     Sender = "ai"
	SenderSystem Sender = "system"
)

type ChatMessage struct {
	ID        string
	Text      string
	Sender    Sender
	Timestamp time.Time
}

// Transcript is the ordered list of chat lines shown to the user.
type Transcript struct {
	mu       sync.RWMutex
	messages []ChatMessage
	now      func() time.Time
}

func NewTranscript() *Transcript {
	return &Transcript{now: time.Now}
}

func (t *Transcript) Add(sender Sender, text string) ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := ChatMessage{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    sender,
		Timestamp: t.now(),
	}
	t.messages = append(t.messages, msg)
	return msg
}

func (t *Transcript) Messages() []ChatMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ChatMessage, len(t.messages))
	copy(out, t.messages)
	return out
}

// Turns returns the last limit user and ai lines as conversation history.
// System lines never reach the model.
func (t *Transcript) Turns(limit int) []domain.ChatTurn {
	t.mu.RLock()
	defer t.mu.RUnlock()

	turns := make([]domain.ChatTurn, 0)
	for _, msg := range t.messages {
		switch msg.Sender {
		case SenderUser:
			turns = append(turns, domain.ChatTurn{Role: domain.RoleUser, Text: msg.Text})
		case SenderAI:
			turns = append(turns, domain.ChatTurn{Role: domain.RoleModel, Text: msg.Text})
		}
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns
}
