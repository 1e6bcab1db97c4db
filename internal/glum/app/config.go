package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/bdobrica/glum/common/environment"
	"github.com/bdobrica/glum/common/redact"
	"github.com/bdobrica/glum/internal/glum/chat"
	"github.com/bdobrica/glum/internal/glum/completion"
	"github.com/bdobrica/glum/internal/glum/conversation"
)

const (
	BackendMatrix  = "matrix"
	BackendDiscord = "discord"

	StorageFile   = "file"
	StorageSQLite = "sqlite"

	defaultAutosave = "@every 5m"
)

// MatrixConfig holds the Matrix account settings.
type MatrixConfig struct {
	Homeserver  string
	UserID      string
	AccessToken string
	AutoJoin    bool
}

// Config holds the application configuration.
type Config struct {
	Backend      string
	Matrix       MatrixConfig
	DiscordToken string

	OpenAIKey     string
	OpenAIBaseURL string
	Model         string

	PersonasDir    string
	DefaultPersona string

	Storage      string
	HistoryDir   string
	DatabasePath string
	SessionFile  string

	CommandPrefixes []string
	ConfirmationTTL time.Duration
	Workers         int
	// Autosave is a cron spec for periodic history saves. Empty or "off"
	// saves only at shutdown.
	Autosave string
	// HTTPAddr enables the health server when set.
	HTTPAddr    string
	RateLimit   int
	TokenBudget int

	// Messenger and Provider replace the configured backends when set.
	Messenger chat.Messenger
	Provider  completion.Provider
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (*Config, error) {
	var errs []error
	backend, err := environment.OneOf("GLUM_BACKEND", BackendMatrix, BackendMatrix, BackendDiscord)
	errs = append(errs, err)
	storage, err := environment.OneOf("GLUM_STORAGE", StorageFile, StorageFile, StorageSQLite)
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return &Config{
		Backend: backend,
		Matrix: MatrixConfig{
			Homeserver:  environment.StringOr("MATRIX_HOMESERVER", ""),
			UserID:      environment.StringOr("MATRIX_USER_ID", ""),
			AccessToken: environment.StringOr("MATRIX_ACCESS_TOKEN", ""),
			AutoJoin:    environment.BoolOr("MATRIX_AUTO_JOIN", true),
		},
		DiscordToken:    environment.StringOr("DISCORD_BOT_TOKEN", ""),
		OpenAIKey:       environment.StringOr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   environment.StringOr("OPENAI_BASE_URL", ""),
		Model:           environment.StringOr("GLUM_MODEL", completion.DefaultOpenAIModel),
		PersonasDir:     environment.StringOr("GLUM_PERSONAS_DIR", "./personas"),
		DefaultPersona:  environment.StringOr("GLUM_DEFAULT_PERSONA", ""),
		Storage:         storage,
		HistoryDir:      environment.StringOr("GLUM_HISTORY_DIR", "./memory"),
		DatabasePath:    environment.StringOr("GLUM_DATABASE_PATH", "./glum.db"),
		SessionFile:     environment.StringOr("GLUM_SESSION_FILE", "./session.json"),
		CommandPrefixes: environment.StringSliceOr("GLUM_COMMAND_PREFIX", nil),
		ConfirmationTTL: environment.DurationOr("GLUM_CONFIRM_TTL", conversation.DefaultConfirmationTTL),
		Workers:         environment.IntOr("GLUM_WORKERS", 4),
		Autosave:        environment.StringOr("GLUM_AUTOSAVE", defaultAutosave),
		HTTPAddr:        environment.StringOr("GLUM_HTTP_ADDR", ""),
		RateLimit:       environment.IntOr("GLUM_RATE_LIMIT", completion.DefaultRateLimit),
		TokenBudget:     environment.IntOr("GLUM_HISTORY_TOKEN_BUDGET", 0),
	}, nil
}

// Validate reports missing settings for the selected backend.
func (c *Config) Validate() error {
	var errs []error
	if c.Messenger == nil {
		switch c.Backend {
		case BackendMatrix:
			if c.Matrix.Homeserver == "" {
				errs = append(errs, errors.New("MATRIX_HOMESERVER is required"))
			}
			if c.Matrix.AccessToken == "" {
				errs = append(errs, errors.New("MATRIX_ACCESS_TOKEN is required"))
			}
		case BackendDiscord:
			if c.DiscordToken == "" {
				errs = append(errs, errors.New("DISCORD_BOT_TOKEN is required"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
		}
	}
	if c.Provider == nil && c.OpenAIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.Storage != StorageFile && c.Storage != StorageSQLite {
		errs = append(errs, fmt.Errorf("unknown storage %q", c.Storage))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("GLUM_WORKERS must be positive, got %d", c.Workers))
	}
	return errors.Join(errs...)
}

// LogFields returns the effective configuration with secrets redacted.
func (c *Config) LogFields() map[string]any {
	return redact.Map(map[string]any{
		"backend":             c.Backend,
		"matrix_homeserver":   c.Matrix.Homeserver,
		"matrix_user_id":      c.Matrix.UserID,
		"matrix_access_token": c.Matrix.AccessToken,
		"discord_bot_token":   c.DiscordToken,
		"openai_api_key":      c.OpenAIKey,
		"openai_base_url":     c.OpenAIBaseURL,
		"model":               c.Model,
		"personas_dir":        c.PersonasDir,
		"storage":             c.Storage,
		"workers":             c.Workers,
		"autosave":            c.Autosave,
		"http_addr":           c.HTTPAddr,
		"rate_limit":          c.RateLimit,
		"token_budget":        c.TokenBudget,
	})
}
