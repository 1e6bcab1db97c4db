// Package chat defines what glum needs from a messaging platform. Each
// backend (Matrix, Discord) implements Messenger; the router depends only on
// this package.
package chat

import (
	"context"
	"errors"
	"slices"
)

// ErrUnknownThread is returned when a backend cannot find a thread.
var ErrUnknownThread = errors.New("chat: unknown thread")

// ThreadKind distinguishes private threads from groups.
type ThreadKind int

const (
	OneToOne ThreadKind = iota
	Group
)

func (k ThreadKind) String() string {
	if k == Group {
		return "group"
	}
	return "one-to-one"
}

// ThreadInfo is the metadata fetched once when a thread is first seen.
type ThreadInfo struct {
	ID   string
	Kind ThreadKind
	Name string
	// SelfNickname is the bot account's nickname inside this thread, if the
	// platform has per-thread nicknames.
	SelfNickname string
	// ParticipantIDs lists the thread's members, the bot included.
	ParticipantIDs []string
	// Nicknames maps participant ids to their per-thread nicknames.
	Nicknames map[string]string
	// Names maps participant ids to account names the backend already
	// received with the member list. Participants listed here are not
	// looked up again with FetchUserInfo.
	Names map[string]string
}

// UserInfo describes one account.
type UserInfo struct {
	ID        string
	Name      string
	IsContact bool
}

// Event is one inbound message.
type Event struct {
	ThreadID  string
	MessageID string
	AuthorID  string
	Text      string
	// Mentions holds the ids of accounts the message mentions.
	Mentions []string
}

// Handler receives events from Messenger.Listen.
type Handler func(ctx context.Context, evt Event)

// Messenger is the capability set glum uses on a messaging platform.
type Messenger interface {
	// SelfID is the bot account's id. It is valid after Connect.
	SelfID() string
	// Connect authenticates and restores the saved session.
	Connect(ctx context.Context) error
	// Listen delivers inbound events to h, one at a time, until ctx is
	// cancelled or the connection fails.
	Listen(ctx context.Context, h Handler) error

	FetchThreadInfo(ctx context.Context, threadID string) (*ThreadInfo, error)
	FetchUserInfo(ctx context.Context, userID string) (*UserInfo, error)
	SendMessage(ctx context.Context, threadID, text string) error
	MarkDelivered(ctx context.Context, threadID, messageID string) error
	MarkRead(ctx context.Context, threadID, messageID string) error

	// SaveSession persists whatever the backend needs to resume later.
	SaveSession(ctx context.Context) error
	Close() error
}

// Mentioned reports whether id is among evt's mentions.
func (evt Event) Mentioned(id string) bool {
	return slices.Contains(evt.Mentions, id)
}
