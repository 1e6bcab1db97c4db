// Package discord implements chat.Messenger on the Discord gateway.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/bdobrica/glum/internal/glum/chat"
	"github.com/bdobrica/glum/internal/glum/session"
)

const (
	readyTimeout = 30 * time.Second
	// memberPage is the largest page the members endpoint returns.
	memberPage = 1000
)

// discordSession is the subset of *discordgo.Session the messenger uses.
type discordSession interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	GuildMembers(guildID string, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Config holds Discord client configuration.
type Config struct {
	BotToken string
	Session  *session.Store
	Logger   *slog.Logger

	// discord replaces the gateway session in tests.
	discord discordSession
}

// Client is a Discord bot account.
type Client struct {
	sess    discordSession
	store   *session.Store
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	selfID string
}

var _ chat.Messenger = (*Client)(nil)

// New creates the client. The gateway is opened by Connect.
func New(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sess := cfg.discord
	if sess == nil {
		if cfg.BotToken == "" {
			return nil, errors.New("discord: bot token is required")
		}
		dg, err := discordgo.New("Bot " + cfg.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages |
			discordgo.IntentsDirectMessages |
			discordgo.IntentsMessageContent |
			discordgo.IntentsGuildMembers
		// Handlers run in gateway order instead of one goroutine each.
		dg.SyncEvents = true
		sess = dg
	}
	c := &Client{
		sess:    sess,
		store:   cfg.Session,
		logger:  logger.With("component", "discord"),
		timeout: readyTimeout,
	}
	if cfg.Session != nil {
		c.selfID, _ = cfg.Session.Get(session.KeySelfID)
	}
	return c, nil
}

func (c *Client) SelfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

// Connect opens the gateway and waits for the Ready event that names the bot
// account.
func (c *Client) Connect(ctx context.Context) error {
	ready := make(chan string, 1)
	var once sync.Once
	remove := c.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		if r.User == nil {
			return
		}
		c.mu.Lock()
		c.selfID = r.User.ID
		c.mu.Unlock()
		if c.store != nil {
			c.store.Set(session.KeySelfID, r.User.ID)
		}
		c.logger.Info("connected to Discord", "user", r.User.Username, "id", r.User.ID, "guilds", len(r.Guilds))
		once.Do(func() { ready <- r.User.ID })
	})
	defer remove()

	if err := c.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("discord: timed out waiting for ready event")
	}
}

// Listen delivers messages until ctx is cancelled. discordgo reconnects the
// gateway by itself.
func (c *Client) Listen(ctx context.Context, h chat.Handler) error {
	remove := c.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if evt, ok := toEvent(m, c.SelfID()); ok {
			h(ctx, evt)
		}
	})
	defer remove()
	removeDisconnect := c.sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		c.logger.Warn("gateway disconnected, reconnecting")
	})
	defer removeDisconnect()

	<-ctx.Done()
	return nil
}

// toEvent converts a gateway message. Messages of other bots are dropped so
// two bots cannot talk to each other forever.
func toEvent(m *discordgo.MessageCreate, selfID string) (chat.Event, bool) {
	if m == nil || m.Message == nil || m.Author == nil || m.Content == "" {
		return chat.Event{}, false
	}
	if m.Author.Bot && m.Author.ID != selfID {
		return chat.Event{}, false
	}
	evt := chat.Event{
		ThreadID:  m.ChannelID,
		MessageID: m.ID,
		AuthorID:  m.Author.ID,
		Text:      m.Content,
	}
	for _, u := range m.Mentions {
		if u != nil {
			evt.Mentions = append(evt.Mentions, u.ID)
		}
	}
	return evt, true
}

// FetchThreadInfo describes a channel. Direct messages are one-to-one; group
// DMs and guild channels are groups whose participants are the recipients or
// the guild members.
func (c *Client) FetchThreadInfo(ctx context.Context, threadID string) (*chat.ThreadInfo, error) {
	ch, err := c.sess.Channel(threadID, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", chat.ErrUnknownThread, threadID)
		}
		return nil, fmt.Errorf("discord channel %s: %w", threadID, err)
	}

	self := c.SelfID()
	info := &chat.ThreadInfo{
		ID:        threadID,
		Kind:      chat.Group,
		Name:      ch.Name,
		Nicknames: map[string]string{},
		Names:     map[string]string{},
	}
	if ch.Type == discordgo.ChannelTypeDM {
		info.Kind = chat.OneToOne
	}

	if ch.GuildID == "" {
		info.ParticipantIDs = append(info.ParticipantIDs, self)
		for _, u := range ch.Recipients {
			if u != nil && u.ID != self {
				info.ParticipantIDs = append(info.ParticipantIDs, u.ID)
				info.Names[u.ID] = u.DisplayName()
			}
		}
		return info, nil
	}

	members, err := c.sess.GuildMembers(ch.GuildID, "", memberPage, discordgo.WithContext(ctx))
	if err != nil {
		c.logger.Warn("listing guild members failed", "guild", ch.GuildID, "err", err)
		return info, nil
	}
	for _, m := range members {
		if m.User == nil {
			continue
		}
		info.ParticipantIDs = append(info.ParticipantIDs, m.User.ID)
		if m.User.ID != self {
			info.Names[m.User.ID] = m.User.DisplayName()
		}
		if m.Nick == "" {
			continue
		}
		if m.User.ID == self {
			info.SelfNickname = m.Nick
		} else {
			info.Nicknames[m.User.ID] = m.Nick
		}
	}
	return info, nil
}

// FetchUserInfo returns the user's global display name. Bot accounts have no
// friends list, so IsContact is always false.
func (c *Client) FetchUserInfo(ctx context.Context, userID string) (*chat.UserInfo, error) {
	u, err := c.sess.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord user %s: %w", userID, err)
	}
	return &chat.UserInfo{ID: u.ID, Name: u.DisplayName()}, nil
}

func (c *Client) SendMessage(ctx context.Context, threadID, text string) error {
	if _, err := c.sess.ChannelMessageSend(threadID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send to %s: %w", threadID, err)
	}
	return nil
}

// MarkDelivered and MarkRead are no-ops: bot accounts cannot send receipts.
func (c *Client) MarkDelivered(context.Context, string, string) error { return nil }

func (c *Client) MarkRead(context.Context, string, string) error { return nil }

func (c *Client) SaveSession(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	return c.store.Save(ctx)
}

func (c *Client) Close() error {
	return c.sess.Close()
}

func isNotFound(err error) bool {
	var rest *discordgo.RESTError
	return errors.As(err, &rest) && rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound
}
