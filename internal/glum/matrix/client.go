// Package matrix implements chat.Messenger on a Matrix homeserver.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/glum/internal/glum/chat"
	"github.com/bdobrica/glum/internal/glum/session"
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Session persists the sync position. Without it every restart replays
	// recent room history.
	Session *session.Store
	// AutoJoin accepts room invites addressed to the bot.
	AutoJoin bool
	Logger   *slog.Logger
}

// Client wraps the mautrix client.
type Client struct {
	client  *mautrix.Client
	config  Config
	self    id.UserID
	session *session.Store
	logger  *slog.Logger
}

var _ chat.Messenger = (*Client)(nil)

// New creates a Matrix client. No network call is made until Connect.
func New(cfg Config) (*Client, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "matrix")

	if cfg.Session != nil {
		client.Store = newSessionSyncStore(cfg.Session)
	} else {
		logger.Warn("no session store configured, room history will replay on restart")
	}

	return &Client{
		client:  client,
		config:  cfg,
		self:    id.UserID(cfg.UserID),
		session: cfg.Session,
		logger:  logger,
	}, nil
}

func (c *Client) SelfID() string { return c.self.String() }

// Connect checks the access token and learns the bot's user id.
func (c *Client) Connect(ctx context.Context) error {
	resp, err := c.client.Whoami(ctx)
	if err != nil {
		return fmt.Errorf("matrix whoami: %w", err)
	}
	if c.self != "" && resp.UserID != c.self {
		return fmt.Errorf("matrix: access token belongs to %s, not %s", resp.UserID, c.self)
	}
	c.self = resp.UserID
	c.client.UserID = resp.UserID
	c.logger.Info("connected to Matrix", "user", c.self, "homeserver", c.config.Homeserver)
	return nil
}

// Listen syncs until ctx is cancelled, reconnecting with exponential backoff
// after homeserver errors.
func (c *Client) Listen(ctx context.Context, h chat.Handler) error {
	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unsupported syncer")
	}
	syncer.OnSync(c.client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		if e, ok := toEvent(evt); ok {
			h(ctx, e)
		}
	})
	if c.config.AutoJoin {
		syncer.OnEventType(event.StateMember, c.handleInvite)
	}

	const (
		backoffMin = 2 * time.Second
		backoffMax = 5 * time.Minute
	)
	backoff := backoffMin
	for {
		err := c.client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}
		c.logger.Error("Matrix sync stopped; reconnecting", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

func (c *Client) handleInvite(ctx context.Context, evt *event.Event) {
	member := evt.Content.AsMember()
	if member.Membership != event.MembershipInvite || evt.GetStateKey() != c.self.String() {
		return
	}
	if _, err := c.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		if errors.Is(err, mautrix.MForbidden) {
			c.logger.Warn("invite no longer valid", "room", evt.RoomID)
			return
		}
		c.logger.Error("joining room failed", "room", evt.RoomID, "err", err)
		return
	}
	c.logger.Info("joined room", "room", evt.RoomID, "inviter", evt.Sender)
}

// toEvent converts a Matrix message event. Edits, non-text messages and
// empty bodies are skipped.
func toEvent(evt *event.Event) (chat.Event, bool) {
	msg := evt.Content.AsMessage()
	if msg == nil || (msg.MsgType != event.MsgText && msg.MsgType != event.MsgEmote) {
		return chat.Event{}, false
	}
	if msg.RelatesTo != nil && msg.RelatesTo.Type == event.RelReplace {
		return chat.Event{}, false
	}
	msg.RemoveReplyFallback()
	if msg.Body == "" {
		return chat.Event{}, false
	}

	e := chat.Event{
		ThreadID:  evt.RoomID.String(),
		MessageID: evt.ID.String(),
		AuthorID:  evt.Sender.String(),
		Text:      msg.Body,
	}
	if msg.Mentions != nil {
		for _, u := range msg.Mentions.UserIDs {
			e.Mentions = append(e.Mentions, u.String())
		}
	}
	return e, true
}

// FetchThreadInfo reads the room's name and joined members. Rooms with two
// members are treated as one-to-one threads.
func (c *Client) FetchThreadInfo(ctx context.Context, threadID string) (*chat.ThreadInfo, error) {
	roomID := id.RoomID(threadID)
	members, err := c.client.JoinedMembers(ctx, roomID)
	if err != nil {
		if errors.Is(err, mautrix.MForbidden) || errors.Is(err, mautrix.MNotFound) {
			return nil, fmt.Errorf("%w: %s", chat.ErrUnknownThread, threadID)
		}
		return nil, fmt.Errorf("matrix joined members of %s: %w", threadID, err)
	}

	info := &chat.ThreadInfo{
		ID:        threadID,
		Kind:      chat.Group,
		Nicknames: make(map[string]string, len(members.Joined)),
	}
	for uid, m := range members.Joined {
		info.ParticipantIDs = append(info.ParticipantIDs, uid.String())
		if m.DisplayName == "" {
			continue
		}
		if uid == c.self {
			info.SelfNickname = m.DisplayName
		} else {
			info.Nicknames[uid.String()] = m.DisplayName
		}
	}
	if len(members.Joined) <= 2 {
		info.Kind = chat.OneToOne
	}

	var name event.RoomNameEventContent
	if err := c.client.StateEvent(ctx, roomID, event.StateRoomName, "", &name); err != nil {
		c.logger.Debug("room has no name", "room", threadID, "err", err)
	} else {
		info.Name = name.Name
	}
	return info, nil
}

// FetchUserInfo reads a user's global profile. Matrix has no contact list,
// so IsContact is always false.
func (c *Client) FetchUserInfo(ctx context.Context, userID string) (*chat.UserInfo, error) {
	profile, err := c.client.GetProfile(ctx, id.UserID(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &chat.UserInfo{ID: userID, Name: profile.DisplayName}, nil
}

func (c *Client) SendMessage(ctx context.Context, threadID, text string) error {
	if _, err := c.client.SendText(ctx, id.RoomID(threadID), text); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// MarkDelivered is a no-op: Matrix only has read receipts.
func (c *Client) MarkDelivered(context.Context, string, string) error { return nil }

func (c *Client) MarkRead(ctx context.Context, threadID, messageID string) error {
	if err := c.client.MarkRead(ctx, id.RoomID(threadID), id.EventID(messageID)); err != nil {
		return fmt.Errorf("failed to send read receipt: %w", err)
	}
	return nil
}

// SaveSession persists the sync position.
func (c *Client) SaveSession(ctx context.Context) error {
	if c.session == nil {
		return nil
	}
	return c.session.Save(ctx)
}

func (c *Client) Close() error {
	c.client.StopSync()
	return nil
}
