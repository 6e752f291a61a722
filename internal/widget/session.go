// Package widget models the chat widget conversation: a greeting-seeded
// transcript, one request in flight at a time and a fixed apology on any
// failure.
package widget

import (
	"context"
	"errors"
	"html"
	"strings"
	"sync"

	"github.com/rugintel/sentinel/internal/markdown"
)

const (
	Greeting = "Hello! I am the RugIntel Sentinel. How can I help you protect your assets today?"
	Apology  = "I apologize, I am having trouble connecting to the subnet right now. Please try again later."
)

// ErrBusy is returned by Send while a previous message is still pending.
var ErrBusy = errors.New("a message is already pending")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// HTML renders the message for display. Assistant messages go through the
// markdown renderer; user messages are shown as escaped plain text.
func (m Message) HTML() string {
	if m.Role == RoleAssistant {
		return markdown.Render(m.Content)
	}
	return html.EscapeString(m.Content)
}

// Asker sends one question to the chat endpoint and returns the answer text.
type Asker interface {
	Ask(ctx context.Context, message string) (string, error)
}

// Session is a single widget conversation. It is safe for concurrent use.
type Session struct {
	asker Asker

	mu       sync.Mutex
	messages []Message
	pending  bool
}

// NewSession returns a session seeded with the greeting.
func NewSession(asker Asker) *Session {
	s := &Session{asker: asker}
	s.Reset()
	return s
}

// Send trims text, appends it as a user message and asks for an answer.
// Blank text is ignored and returns a zero Message. Any failure appends the
// apology; the returned error carries the cause.
func (s *Session) Send(ctx context.Context, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, nil
	}

	s.mu.Lock()
	if s.pending {
		s.mu.Unlock()
		return Message{}, ErrBusy
	}
	s.pending = true
	s.messages = append(s.messages, Message{Role: RoleUser, Content: text})
	s.mu.Unlock()

	answer, err := s.asker.Ask(ctx, text)
	reply := Message{Role: RoleAssistant, Content: answer}
	if err != nil {
		reply.Content = Apology
	}

	s.mu.Lock()
	s.messages = append(s.messages, reply)
	s.pending = false
	s.mu.Unlock()

	return reply, err
}

// Pending reports whether a message is awaiting its answer.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Reset clears the transcript back to the greeting.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = []Message{{Role: RoleAssistant, Content: Greeting}}
}
