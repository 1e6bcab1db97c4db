// Package conversation holds the state of one chat thread: who is in it,
// which persona speaks, what was said, and whether a command is waiting for
// the user's yes or no.
//
// A Conversation is driven by one goroutine at a time; the router guarantees
// that messages of one thread are handled in order and never concurrently.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/glum/internal/glum/chat"
	"github.com/bdobrica/glum/internal/glum/command"
	"github.com/bdobrica/glum/internal/glum/completion"
	"github.com/bdobrica/glum/internal/glum/history"
	"github.com/bdobrica/glum/internal/glum/persona"
)

// State is the conversation's position in its lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateAwaitingConfirmation
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateAwaitingConfirmation:
		return "awaiting-confirmation"
	default:
		return "uninitialized"
	}
}

const (
	// DefaultConfirmationTTL is how long a pending command waits for an
	// answer before it is dropped.
	DefaultConfirmationTTL = 5 * time.Minute

	// maxEchoes bounds the replies remembered for echo suppression.
	maxEchoes = 16
)

// Replier produces model replies. *completion.Gateway implements it.
type Replier interface {
	Reply(ctx context.Context, req completion.Request, t completion.Transcript) completion.Result
}

// Config wires a Conversation.
type Config struct {
	ThreadID     string
	Kind         chat.ThreadKind
	Participants Directory
	// PersonaCandidates are tried in order when binding a persona, e.g. the
	// bot's nickname in the thread and the thread name.
	PersonaCandidates []string
	History           *history.History
	Registry          *persona.Registry
	Replier           Replier
	Interpreter       *command.Interpreter
	ConfirmationTTL   time.Duration
	Logger            *slog.Logger
}

// Inbound is one message delivered to a conversation.
type Inbound struct {
	AuthorID string
	Text     string
	// SelfAuthored is set for messages sent by the bot account.
	SelfAuthored bool
	// Mention is set when the platform reports the bot as mentioned.
	Mention bool
}

type pendingCommand struct {
	intent  command.Intent
	target  *persona.Persona
	prompt  string
	expires time.Time
}

// Conversation is the aggregate for one thread.
type Conversation struct {
	id           string
	threadID     string
	kind         chat.ThreadKind
	participants Directory
	candidates   []string

	registry *persona.Registry
	replier  Replier
	interp   *command.Interpreter
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time

	state        State
	persona      *persona.Persona
	history      *history.History
	autoResponse bool
	muted        bool
	pending      *pendingCommand
	echoes       []string
	// unsent is the transcript entry of the reply last returned by Handle,
	// until Retract takes it back or the next message arrives.
	unsent *history.Message
}

// New creates a conversation in StateUninitialized. One-to-one threads answer
// every message; group threads answer only when addressed.
func New(cfg Config) *Conversation {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interp := cfg.Interpreter
	if interp == nil {
		interp = command.New()
	}
	ttl := cfg.ConfirmationTTL
	if ttl <= 0 {
		ttl = DefaultConfirmationTTL
	}
	participants := cfg.Participants
	if participants == nil {
		participants = Directory{}
	}
	id := uuid.New().String()
	return &Conversation{
		id:           id,
		threadID:     cfg.ThreadID,
		kind:         cfg.Kind,
		participants: participants,
		candidates:   cfg.PersonaCandidates,
		registry:     cfg.Registry,
		replier:      cfg.Replier,
		interp:       interp,
		ttl:          ttl,
		logger:       logger.With("thread", cfg.ThreadID, "conversation", id),
		now:          time.Now,
		state:        StateUninitialized,
		history:      cfg.History,
		autoResponse: cfg.Kind == chat.OneToOne,
	}
}

// ID returns the conversation's uuid.
func (c *Conversation) ID() string { return c.id }

// ThreadID returns the thread the conversation belongs to.
func (c *Conversation) ThreadID() string { return c.threadID }

// State returns the lifecycle state.
func (c *Conversation) State() State { return c.state }

// AutoResponse reports whether every message gets a reply.
func (c *Conversation) AutoResponse() bool { return c.autoResponse }

// Persona returns the bound persona, or nil before the first message.
func (c *Conversation) Persona() *persona.Persona { return c.persona }

// History returns the thread's transcript.
func (c *Conversation) History() *history.History { return c.history }

// Save persists the transcript.
func (c *Conversation) Save(ctx context.Context) error {
	return c.history.Save(ctx)
}

// bind resolves the persona on first use.
func (c *Conversation) bind() {
	if c.persona != nil {
		return
	}
	c.persona = c.registry.ResolveFirst(c.candidates...)
	c.state = StateActive
	c.logger.Info("persona bound", "persona", c.persona.Name)
}

// Handle ingests one message and returns the text to send back, if any. An
// error means no reply could be produced; the message itself is recorded
// either way and the conversation stays consistent.
func (c *Conversation) Handle(ctx context.Context, in Inbound) (string, error) {
	c.bind()
	c.unsent = nil
	text := command.StripMentionTags(in.Text)

	if in.SelfAuthored {
		if c.consumeEcho(text) {
			return "", nil
		}
		if text != "" {
			c.history.Append(history.RoleAssistant, c.persona.Label(), text)
		}
		return "", nil
	}
	if text == "" {
		return "", nil
	}

	c.history.Append(history.RoleUser, c.participants.NameOf(in.AuthorID), text)

	if c.state == StateAwaitingConfirmation {
		if reply, handled := c.answerPending(text); handled {
			return c.control(reply), nil
		}
	}

	if intent, body := c.interp.Parse(text); intent != command.IntentNone {
		return c.control(c.runCommand(intent, body)), nil
	}

	if c.muted {
		return "", nil
	}
	if !c.autoResponse && !in.Mention && !command.Mentions(text, c.persona.Names()...) {
		return "", nil
	}
	return c.generate(ctx)
}

func (c *Conversation) generate(ctx context.Context) (string, error) {
	p := c.persona
	res := c.replier.Reply(ctx, completion.Request{
		Key:          c.threadID,
		SystemPrompt: p.SystemPrompt,
		Params:       p.Params,
	}, c.history)
	if !res.OK() {
		return "", fmt.Errorf("reply in %s: %w", c.threadID, res.Err)
	}
	if res.Dropped > 0 {
		c.logger.Info("history pruned for reply", "dropped", res.Dropped, "attempts", res.Attempts)
	}

	reply := strings.TrimSpace(command.StripSelfAddress(res.Text, p.Names()...))
	if reply == "" {
		return "", nil
	}
	m := c.history.Append(history.RoleAssistant, p.Label(), reply)
	c.unsent = &m
	c.rememberEcho(reply)
	return reply, nil
}

// Retract takes back a reply returned by Handle that could not be delivered:
// its expected echo is forgotten and, for a generated reply, the assistant
// entry is removed from the transcript.
func (c *Conversation) Retract(reply string) {
	c.consumeEcho(reply)
	if c.unsent != nil {
		if !c.history.RemoveLast(*c.unsent) {
			c.logger.Warn("undelivered reply is no longer the newest message")
		}
		c.unsent = nil
	}
}

// control registers a command reply as an expected echo. Command replies are
// not part of the transcript.
func (c *Conversation) control(reply string) string {
	if reply != "" {
		c.rememberEcho(reply)
	}
	return reply
}

// echoKey is the form in which a sent reply comes back through Handle.
func echoKey(text string) string {
	return strings.TrimSpace(command.StripMentionTags(text))
}

func (c *Conversation) rememberEcho(text string) {
	c.echoes = append(c.echoes, echoKey(text))
	if len(c.echoes) > maxEchoes {
		c.echoes = c.echoes[len(c.echoes)-maxEchoes:]
	}
}

func (c *Conversation) consumeEcho(text string) bool {
	text = echoKey(text)
	for i, e := range c.echoes {
		if e == text {
			c.echoes = append(c.echoes[:i], c.echoes[i+1:]...)
			return true
		}
	}
	return false
}

// Status is a point-in-time view of the conversation.
type Status struct {
	ID           string
	ThreadID     string
	Kind         chat.ThreadKind
	State        State
	Persona      string
	AutoResponse bool
	Muted        bool
	Messages     int
	Tokens       int
}

// Status returns a snapshot for status replies and diagnostics.
func (c *Conversation) Status() Status {
	s := Status{
		ID:           c.id,
		ThreadID:     c.threadID,
		Kind:         c.kind,
		State:        c.state,
		AutoResponse: c.autoResponse,
		Muted:        c.muted,
		Messages:     c.history.Len(),
		Tokens:       c.history.EstimateTokens(),
	}
	if c.persona != nil {
		s.Persona = c.persona.Name
	}
	return s
}
