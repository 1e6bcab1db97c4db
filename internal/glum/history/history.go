// Package history keeps the ordered transcript of one chat thread and
// persists it through a Backend.
//
// The in-memory sequence may run ahead of the persisted one between saves.
// Save always writes the whole sequence, so the persisted copy equals the
// last saved snapshot and never a mix of two.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Backend loads and replaces the persisted transcript of a thread.
type Backend interface {
	// Load returns the saved messages, or nil without error when the
	// thread has never been saved.
	Load(ctx context.Context, threadID string) ([]Message, error)
	// Save replaces the thread's persisted messages with msgs.
	Save(ctx context.Context, threadID string, msgs []Message) error
}

// History is the transcript of one thread. It is safe for concurrent use so
// that a periodic save can run while an event is being handled.
type History struct {
	threadID string
	backend  Backend
	logger   *slog.Logger

	mu       sync.Mutex
	messages []Message

	// saveMu orders concurrent saves so an older snapshot never lands
	// after a newer one.
	saveMu sync.Mutex
}

// New returns an empty history for threadID. Call Load to read the persisted
// transcript.
func New(threadID string, backend Backend, logger *slog.Logger) *History {
	if logger == nil {
		logger = slog.Default()
	}
	return &History{
		threadID: threadID,
		backend:  backend,
		logger:   logger.With("thread", threadID),
	}
}

// ThreadID returns the thread this history belongs to.
func (h *History) ThreadID() string { return h.threadID }

// Load replaces the in-memory transcript with the persisted one. Missing or
// unreadable data leaves the history empty and is only logged.
func (h *History) Load(ctx context.Context) {
	msgs, err := h.backend.Load(ctx, h.threadID)
	if err != nil {
		h.logger.Warn("history unreadable, starting empty", "err", err)
		msgs = nil
	}

	h.mu.Lock()
	h.messages = msgs
	h.mu.Unlock()

	h.logger.Debug("history loaded", "messages", len(msgs))
}

// Append records one message in memory and returns it.
func (h *History) Append(role Role, speaker, text string) Message {
	m := NewMessage(role, speaker, text)
	h.mu.Lock()
	h.messages = append(h.messages, m)
	h.mu.Unlock()
	return m
}

// Save writes the full in-memory transcript through the backend.
func (h *History) Save(ctx context.Context) error {
	h.saveMu.Lock()
	defer h.saveMu.Unlock()

	snapshot := h.Messages()
	if err := h.backend.Save(ctx, h.threadID, snapshot); err != nil {
		return fmt.Errorf("save history %s: %w", h.threadID, err)
	}
	h.logger.Debug("history saved", "messages", len(snapshot))
	return nil
}

// Prune drops the oldest floor(Len()*ratio) messages and returns how many
// remain.
func (h *History) Prune(ratio float64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept, err := Prune(h.messages, ratio)
	if err != nil {
		return len(h.messages), err
	}
	dropped := len(h.messages) - len(kept)
	h.messages = clone(kept)
	if dropped > 0 {
		h.logger.Info("history pruned", "ratio", ratio, "dropped", dropped, "remaining", len(h.messages))
	}
	return len(h.messages), nil
}

// DropOldest removes exactly one message. It reports false when the history
// is already empty.
func (h *History) DropOldest() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.messages) == 0 {
		return false
	}
	h.messages = clone(h.messages[1:])
	return true
}

// TrimToTokens drops the oldest messages until the estimated token count fits
// budget and returns how many were dropped.
func (h *History) TrimToTokens(budget int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := TrimToTokens(h.messages, budget)
	dropped := len(h.messages) - len(kept)
	if dropped > 0 {
		h.messages = clone(kept)
	}
	return dropped
}

// RemoveLast drops the newest message if it equals m and reports whether it
// did.
func (h *History) RemoveLast(m Message) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.messages)
	if n == 0 || h.messages[n-1] != m {
		return false
	}
	h.messages = h.messages[:n-1]
	return true
}

// Clear empties the in-memory transcript. The persisted copy changes on the
// next Save.
func (h *History) Clear() {
	h.mu.Lock()
	h.messages = nil
	h.mu.Unlock()
}

// Messages returns a copy of the transcript, oldest first.
func (h *History) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return clone(h.messages)
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// EstimateTokens approximates the prompt size of the transcript.
func (h *History) EstimateTokens() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return EstimateTokens(h.messages)
}
