package history

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// Role tags a message for the completion service.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is one entry of a thread's transcript. Content already carries the
// speaker prefix, so it is sent to the completion service as is.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewMessage formats content as "<speaker>: <text>".
func NewMessage(role Role, speaker, text string) Message {
	return Message{Role: role, Content: speaker + ": " + text}
}

// ErrInvalidRatio is returned when a prune ratio is outside (0, 1].
var ErrInvalidRatio = errors.New("history: prune ratio must be in (0, 1]")

// Prune drops the oldest floor(len(msgs)*ratio) messages and returns the rest
// in their original order. The returned slice shares msgs' backing array.
func Prune(msgs []Message, ratio float64) ([]Message, error) {
	if !(ratio > 0 && ratio <= 1) {
		return msgs, fmt.Errorf("%w: got %v", ErrInvalidRatio, ratio)
	}
	n := int(math.Floor(float64(len(msgs)) * ratio))
	return msgs[n:], nil
}

const (
	charsPerToken      = 4
	perMessageOverhead = 4
)

// EstimateTokens approximates the prompt size of msgs at four characters per
// token plus a small per-message overhead for role framing.
func EstimateTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += len(m.Content)/charsPerToken + perMessageOverhead
	}
	return total
}

// TrimToTokens drops the oldest messages until EstimateTokens fits budget.
// A non-positive budget leaves msgs unchanged.
func TrimToTokens(msgs []Message, budget int) []Message {
	if budget <= 0 {
		return msgs
	}
	total := EstimateTokens(msgs)
	start := 0
	for start < len(msgs) && total > budget {
		total -= len(msgs[start].Content)/charsPerToken + perMessageOverhead
		start++
	}
	return msgs[start:]
}

func clone(msgs []Message) []Message {
	if len(msgs) == 0 {
		return nil
	}
	return slices.Clone(msgs)
}
