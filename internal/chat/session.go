package chat

import (
	"context"
	"log/slog"
	"sync"
)

// FallbackMessage is shown in place of a reply when the backend fails.
const FallbackMessage = "Sorry, something went wrong. Please try again."

// Roles of transcript entries.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleError     = "error"
)

// Turn is one transcript line.
type Turn struct {
	Role string
	Text string
}

// Sender is the backend call a Session depends on.
type Sender interface {
	Send(ctx context.Context, threadID, message string) (Reply, error)
}

// Session is one conversation: the transcript held locally and the thread id
// the backend minted for it. A failed turn never clears either.
type Session struct {
	sender Sender
	logger *slog.Logger

	// turnMu serialises turns so the first one finishes, and the thread id
	// is known, before the next is sent.
	turnMu sync.Mutex

	mu         sync.Mutex
	threadID   string
	transcript []Turn
}

// NewSession starts an empty conversation.
func NewSession(sender Sender) *Session {
	return &Session{sender: sender, logger: slog.Default()}
}

// ThreadID returns the conversation's thread id, or "" before the first
// successful turn.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// Transcript returns a copy of the conversation so far.
func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Submit sends message and appends both sides to the transcript. On failure
// the fallback message is appended as an error turn and the error returned;
// the session stays usable. Concurrent calls are sent one at a time.
func (s *Session) Submit(ctx context.Context, message string) (Turn, error) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.mu.Lock()
	s.transcript = append(s.transcript, Turn{Role: RoleUser, Text: message})
	threadID := s.threadID
	s.mu.Unlock()

	reply, err := s.sender.Send(ctx, threadID, message)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.logger.Warn("chat turn failed", "thread_id", threadID, "error", err)
		turn := Turn{Role: RoleError, Text: FallbackMessage}
		s.transcript = append(s.transcript, turn)
		return turn, err
	}

	if s.threadID == "" {
		if reply.ThreadID == "" {
			s.logger.Warn("chat backend did not return a thread id; next turn starts a new conversation")
		}
		s.threadID = reply.ThreadID
	}
	turn := Turn{Role: RoleAssistant, Text: reply.Response}
	s.transcript = append(s.transcript, turn)
	return turn, nil
}
