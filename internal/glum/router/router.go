// Package router maps inbound chat events to per-thread conversations and
// sends their replies back through the messenger.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bdobrica/glum/common/trace"
	"github.com/bdobrica/glum/internal/glum/chat"
	"github.com/bdobrica/glum/internal/glum/command"
	"github.com/bdobrica/glum/internal/glum/conversation"
	"github.com/bdobrica/glum/internal/glum/history"
	"github.com/bdobrica/glum/internal/glum/observability"
	"github.com/bdobrica/glum/internal/glum/persona"
)

// Config wires a Router.
type Config struct {
	Messenger   chat.Messenger
	Registry    *persona.Registry
	Replier     conversation.Replier
	Interpreter *command.Interpreter
	Histories   history.Backend
	// DefaultPersona is tried after the thread's own names, for platforms
	// where private threads carry neither.
	DefaultPersona  string
	ConfirmationTTL time.Duration
	Logger          *slog.Logger
}

type entry struct {
	// mu serialises Handle calls for one thread.
	mu   sync.Mutex
	conv *conversation.Conversation
}

// Router owns every live conversation. Conversations are created on first
// contact and live until the process exits.
type Router struct {
	messenger chat.Messenger
	registry  *persona.Registry
	replier   conversation.Replier
	interp    *command.Interpreter
	histories history.Backend
	fallback  string
	ttl       time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	convos map[string]*entry
}

func New(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interp := cfg.Interpreter
	if interp == nil {
		interp = command.New()
	}
	return &Router{
		messenger: cfg.Messenger,
		registry:  cfg.Registry,
		replier:   cfg.Replier,
		interp:    interp,
		histories: cfg.Histories,
		fallback:  cfg.DefaultPersona,
		ttl:       cfg.ConfirmationTTL,
		logger:    logger.With("component", "router"),
		convos:    make(map[string]*entry),
	}
}

// HandleEvent routes one platform event. Errors are logged and returned; the
// caller keeps listening either way.
func (r *Router) HandleEvent(ctx context.Context, evt chat.Event) error {
	ctx = trace.Ensure(ctx)
	logger := observability.WithTrace(ctx, r.logger).With("thread", evt.ThreadID)

	self := r.messenger.SelfID()
	in := conversation.Inbound{
		AuthorID:     evt.AuthorID,
		Text:         evt.Text,
		SelfAuthored: evt.AuthorID == self,
		Mention:      evt.Mentioned(self),
	}

	if !in.SelfAuthored && evt.MessageID != "" {
		if err := r.messenger.MarkDelivered(ctx, evt.ThreadID, evt.MessageID); err != nil {
			logger.Warn("mark delivered failed", "err", err)
		}
		if err := r.messenger.MarkRead(ctx, evt.ThreadID, evt.MessageID); err != nil {
			logger.Warn("mark read failed", "err", err)
		}
	}

	if err := r.RouteInbound(ctx, evt.ThreadID, in); err != nil {
		logger.Error("event handling failed", "author", evt.AuthorID, "err", err)
		return err
	}
	return nil
}

// RouteInbound delivers in to the thread's conversation, creating it on
// first contact, and sends the reply if there is one.
func (r *Router) RouteInbound(ctx context.Context, threadID string, in conversation.Inbound) error {
	e, err := r.conversation(ctx, threadID)
	if err != nil {
		return err
	}

	// The send stays under the lock so a failed reply is retracted before
	// the thread's next message is handled.
	e.mu.Lock()
	defer e.mu.Unlock()
	reply, err := e.conv.Handle(ctx, in)
	if err != nil {
		return err
	}
	if reply == "" {
		return nil
	}
	if err := r.messenger.SendMessage(ctx, threadID, reply); err != nil {
		e.conv.Retract(reply)
		return fmt.Errorf("send reply to %s: %w", threadID, err)
	}
	return nil
}

func (r *Router) conversation(ctx context.Context, threadID string) (*entry, error) {
	r.mu.Lock()
	e, ok := r.convos[threadID]
	r.mu.Unlock()
	if ok {
		return e, nil
	}

	conv, err := r.create(ctx, threadID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.convos[threadID]; ok {
		return existing, nil
	}
	e = &entry{conv: conv}
	r.convos[threadID] = e
	return e, nil
}

// create fetches the thread and its members once and loads the saved
// history. Nothing is cached when it fails, so the next event retries.
func (r *Router) create(ctx context.Context, threadID string) (*conversation.Conversation, error) {
	info, err := r.messenger.FetchThreadInfo(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("fetch thread %s: %w", threadID, err)
	}

	self := r.messenger.SelfID()
	dir := conversation.Directory{}
	for _, id := range info.ParticipantIDs {
		if id == self {
			continue
		}
		p := conversation.Participant{ID: id, Nickname: info.Nicknames[id]}
		if name, ok := info.Names[id]; ok {
			p.Name = name
			dir[id] = p
			continue
		}
		user, err := r.messenger.FetchUserInfo(ctx, id)
		if err != nil {
			r.logger.Warn("participant lookup failed", "thread", threadID, "user", id, "err", err)
		} else {
			p.Name = user.Name
			p.IsContact = user.IsContact
		}
		dir[id] = p
	}

	h := history.New(threadID, r.histories, r.logger)
	h.Load(ctx)

	conv := conversation.New(conversation.Config{
		ThreadID:          threadID,
		Kind:              info.Kind,
		Participants:      dir,
		PersonaCandidates: []string{info.SelfNickname, info.Name, r.fallback},
		History:           h,
		Registry:          r.registry,
		Replier:           r.replier,
		Interpreter:       r.interp,
		ConfirmationTTL:   r.ttl,
		Logger:            r.logger,
	})
	r.logger.Info("conversation created",
		"thread", threadID,
		"kind", info.Kind,
		"participants", len(dir),
		"history", h.Len(),
	)
	return conv, nil
}

// Lookup returns the conversation of threadID if it exists.
func (r *Router) Lookup(threadID string) (*conversation.Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.convos[threadID]
	if !ok {
		return nil, false
	}
	return e.conv, true
}

// ConversationCount returns the number of live conversations.
func (r *Router) ConversationCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.convos)
}

func (r *Router) snapshot() []*conversation.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.convos))
	for id := range r.convos {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*conversation.Conversation, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.convos[id].conv)
	}
	return out
}

// SaveAll persists every conversation's history. It attempts all of them and
// returns the joined errors.
func (r *Router) SaveAll(ctx context.Context) error {
	var errs []error
	convos := r.snapshot()
	for _, c := range convos {
		if err := c.Save(ctx); err != nil {
			errs = append(errs, fmt.Errorf("save history of %s: %w", c.ThreadID(), err))
		}
	}
	if len(errs) > 0 {
		r.logger.Error("saving histories failed", "failed", len(errs), "total", len(convos))
	} else {
		r.logger.Debug("histories saved", "count", len(convos))
	}
	return errors.Join(errs...)
}

// Shutdown flushes every history and then the messenger session.
func (r *Router) Shutdown(ctx context.Context) error {
	histErr := r.SaveAll(ctx)
	var sessErr error
	if err := r.messenger.SaveSession(ctx); err != nil {
		sessErr = fmt.Errorf("save session: %w", err)
	}
	return errors.Join(histErr, sessErr)
}
