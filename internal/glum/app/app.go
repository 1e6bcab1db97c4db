// Package app wires glum's components together and runs them until the
// process is asked to stop.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bdobrica/glum/common/retry"
	"github.com/bdobrica/glum/common/version"
	"github.com/bdobrica/glum/internal/glum/chat"
	"github.com/bdobrica/glum/internal/glum/command"
	"github.com/bdobrica/glum/internal/glum/completion"
	"github.com/bdobrica/glum/internal/glum/discord"
	"github.com/bdobrica/glum/internal/glum/history"
	"github.com/bdobrica/glum/internal/glum/matrix"
	"github.com/bdobrica/glum/internal/glum/persona"
	"github.com/bdobrica/glum/internal/glum/router"
	"github.com/bdobrica/glum/internal/glum/session"
	"github.com/bdobrica/glum/internal/glum/store"
)

const shutdownTimeout = 30 * time.Second

// App is a running glum instance.
type App struct {
	config       *Config
	logger       *slog.Logger
	store        *store.Store
	sessions     *session.Store
	registry     *persona.Registry
	messenger    chat.Messenger
	router       *router.Router
	dispatcher   *router.Dispatcher
	healthServer *HealthServer
	cron         *cron.Cron
	stopOnce     sync.Once
}

// Backends opens the history and session backends selected by cfg. The
// returned store is nil for file storage; the caller closes it.
func Backends(cfg *Config, logger *slog.Logger) (history.Backend, session.Backend, *store.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Storage == StorageSQLite {
		logger.Info("opening database", "path", cfg.DatabasePath)
		st, err := store.New(cfg.DatabasePath, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return history.NewSQLiteBackend(st.DB()), session.NewSQLiteBackend(st.DB()), st, nil
	}
	return history.NewFileBackend(cfg.HistoryDir), session.NewFileBackend(cfg.SessionFile), nil, nil
}

// New builds the application. Nothing connects to the network yet.
func New(ctx context.Context, config *Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Info("configuration loaded", "config", config.LogFields())

	histories, sessionBackend, st, err := Backends(config, logger)
	if err != nil {
		return nil, err
	}
	a := &App{config: config, logger: logger, store: st}
	fail := func(err error) (*App, error) {
		if a.store != nil {
			a.store.Close()
		}
		return nil, err
	}

	a.sessions = session.New(sessionBackend, logger)
	if err := a.sessions.Load(ctx); err != nil {
		return fail(fmt.Errorf("failed to load session: %w", err))
	}

	a.registry = persona.NewRegistry(logger)
	if err := a.registry.Load(config.PersonasDir); err != nil {
		logger.Warn("some personas were rejected", "err", err)
	}

	provider := config.Provider
	if provider == nil {
		provider = completion.NewOpenAI(completion.OpenAIConfig{
			APIKey:  config.OpenAIKey,
			BaseURL: config.OpenAIBaseURL,
			Model:   config.Model,
		})
	}
	gateway := completion.NewGateway(provider, completion.GatewayConfig{
		TokenBudget: config.TokenBudget,
		Limiter:     completion.NewRateLimiter(config.RateLimit, time.Minute),
		Logger:      logger,
	})

	a.messenger = config.Messenger
	if a.messenger == nil {
		if a.messenger, err = newMessenger(config, a.sessions, logger); err != nil {
			return fail(err)
		}
	}

	a.router = router.New(router.Config{
		Messenger:       a.messenger,
		Registry:        a.registry,
		Replier:         gateway,
		Interpreter:     command.New(config.CommandPrefixes...),
		Histories:       histories,
		DefaultPersona:  config.DefaultPersona,
		ConfirmationTTL: config.ConfirmationTTL,
		Logger:          logger,
	})
	a.dispatcher = router.NewDispatcher(config.Workers, a.router.HandleEvent, logger)

	a.cron = cron.New(cron.WithLogger(cronLogger{logger}))
	if config.Autosave != "" && config.Autosave != "off" {
		if _, err := a.cron.AddFunc(config.Autosave, a.autosave); err != nil {
			return fail(fmt.Errorf("invalid GLUM_AUTOSAVE %q: %w", config.Autosave, err))
		}
	}

	if config.HTTPAddr != "" {
		a.healthServer = NewHealthServer(config.HTTPAddr, config.Backend, a.router, a.registry.Len, logger)
	}
	return a, nil
}

func newMessenger(cfg *Config, sessions *session.Store, logger *slog.Logger) (chat.Messenger, error) {
	switch cfg.Backend {
	case BackendDiscord:
		c, err := discord.New(discord.Config{BotToken: cfg.DiscordToken, Session: sessions, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Discord client: %w", err)
		}
		return c, nil
	default:
		c, err := matrix.New(matrix.Config{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: cfg.Matrix.AccessToken,
			AutoJoin:    cfg.Matrix.AutoJoin,
			Session:     sessions,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Matrix client: %w", err)
		}
		return c, nil
	}
}

// Run connects, listens and dispatches events until ctx is cancelled or the
// process receives SIGINT or SIGTERM. In-flight events finish before it
// returns; Stop flushes state afterwards.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			a.logger.Info("shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	if a.healthServer != nil {
		if err := a.healthServer.Start(ctx); err != nil {
			a.logger.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	retryCfg := retry.DefaultConfig
	retryCfg.Name = a.config.Backend + " connect"
	retryCfg.Logger = a.logger
	if err := retry.Do(ctx, retryCfg, a.messenger.Connect); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", a.config.Backend, err)
	}

	dispatched := make(chan error, 1)
	go func() { dispatched <- a.dispatcher.Run(ctx) }()
	a.cron.Start()

	a.logger.Info("glum is running; press Ctrl+C to stop",
		"version", version.Version,
		"self", a.messenger.SelfID(),
		"personas", a.registry.Len(),
		"workers", a.dispatcher.Workers(),
	)
	listenErr := a.messenger.Listen(ctx, func(ctx context.Context, evt chat.Event) {
		if err := a.dispatcher.Submit(ctx, evt); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("event dropped", "thread", evt.ThreadID, "err", err)
		}
	})

	a.dispatcher.Close()
	<-a.cron.Stop().Done()
	if err := <-dispatched; err != nil {
		a.logger.Error("dispatcher stopped with error", "err", err)
	}
	if listenErr != nil {
		return fmt.Errorf("%s listener: %w", a.config.Backend, listenErr)
	}
	return nil
}

func (a *App) autosave() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.router.SaveAll(ctx); err != nil {
		a.logger.Warn("autosave failed", "err", err)
	}
	if err := a.messenger.SaveSession(ctx); err != nil {
		a.logger.Warn("autosave of session failed", "err", err)
	}
}

// Stop flushes every history and the session, then releases resources. It
// is safe to call more than once.
func (a *App) Stop() error {
	var err error
	a.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		a.logger.Info("saving conversations", "count", a.router.ConversationCount())
		err = a.router.Shutdown(ctx)
		if err != nil {
			a.logger.Error("shutdown flush failed", "err", err)
		}
		if cerr := a.messenger.Close(); cerr != nil {
			a.logger.Warn("closing messenger failed", "err", cerr)
		}
		if a.healthServer != nil {
			a.healthServer.Stop()
		}
		if a.store != nil {
			a.logger.Info("closing database")
			a.store.Close()
		}
	})
	return err
}

// cronLogger routes cron's logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
