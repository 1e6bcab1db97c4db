package app

import (
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/glum/internal/glum/completion"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GLUM_BACKEND", "")
	t.Setenv("GLUM_STORAGE", "")
	t.Setenv("GLUM_AUTOSAVE", "")
	t.Setenv("GLUM_WORKERS", "")
	t.Setenv("GLUM_HISTORY_TOKEN_BUDGET", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Backend != BackendMatrix || cfg.Storage != StorageFile {
		t.Errorf("backend = %q, storage = %q", cfg.Backend, cfg.Storage)
	}
	if cfg.Autosave != "@every 5m" || cfg.Workers != 4 {
		t.Errorf("autosave = %q, workers = %d", cfg.Autosave, cfg.Workers)
	}
	if cfg.ConfirmationTTL != 5*time.Minute {
		t.Errorf("confirmation ttl = %v", cfg.ConfirmationTTL)
	}
	if cfg.RateLimit != completion.DefaultRateLimit {
		t.Errorf("rate limit = %d", cfg.RateLimit)
	}
	if cfg.TokenBudget != 0 {
		t.Errorf("token budget = %d, want disabled", cfg.TokenBudget)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("GLUM_BACKEND", "Discord")
	t.Setenv("GLUM_STORAGE", "sqlite")
	t.Setenv("GLUM_COMMAND_PREFIX", "!, .")
	t.Setenv("GLUM_WORKERS", "8")
	t.Setenv("GLUM_HISTORY_TOKEN_BUDGET", "3000")
	t.Setenv("MATRIX_AUTO_JOIN", "false")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Backend != BackendDiscord || cfg.Storage != StorageSQLite {
		t.Errorf("backend = %q, storage = %q", cfg.Backend, cfg.Storage)
	}
	if len(cfg.CommandPrefixes) != 2 || cfg.CommandPrefixes[1] != "." {
		t.Errorf("prefixes = %q", cfg.CommandPrefixes)
	}
	if cfg.Workers != 8 || cfg.TokenBudget != 3000 || cfg.Matrix.AutoJoin {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadConfigRejectsUnknownChoices(t *testing.T) {
	t.Setenv("GLUM_BACKEND", "irc")
	t.Setenv("GLUM_STORAGE", "postgres")
	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, name := range []string{"GLUM_BACKEND", "GLUM_STORAGE"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %s", err, name)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		missing []string
	}{
		{
			name:    "matrix",
			cfg:     Config{Backend: BackendMatrix, Storage: StorageFile, Workers: 1},
			missing: []string{"MATRIX_HOMESERVER", "MATRIX_ACCESS_TOKEN", "OPENAI_API_KEY"},
		},
		{
			name:    "discord",
			cfg:     Config{Backend: BackendDiscord, Storage: StorageFile, Workers: 1, OpenAIKey: "sk-x"},
			missing: []string{"DISCORD_BOT_TOKEN"},
		},
		{
			name:    "workers",
			cfg:     Config{Backend: BackendDiscord, DiscordToken: "t", OpenAIKey: "k", Storage: StorageFile},
			missing: []string{"GLUM_WORKERS"},
		},
		{
			name: "complete",
			cfg: Config{
				Backend: BackendMatrix, Storage: StorageSQLite, Workers: 2, OpenAIKey: "sk-x",
				Matrix: MatrixConfig{Homeserver: "https://matrix.example.org", AccessToken: "syt_x"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if len(tt.missing) == 0 {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			for _, m := range tt.missing {
				if !strings.Contains(err.Error(), m) {
					t.Errorf("error %q does not mention %s", err, m)
				}
			}
		})
	}
}

func TestLogFieldsRedactsSecrets(t *testing.T) {
	cfg := &Config{
		Backend:      BackendMatrix,
		Matrix:       MatrixConfig{Homeserver: "https://matrix.example.org", AccessToken: "syt_secret"},
		DiscordToken: "discord-secret",
		OpenAIKey:    "sk-secret",
	}
	fields := cfg.LogFields()
	for _, key := range []string{"matrix_access_token", "discord_bot_token", "openai_api_key"} {
		if fields[key] != "[REDACTED]" {
			t.Errorf("%s = %v", key, fields[key])
		}
	}
	if fields["matrix_homeserver"] != "https://matrix.example.org" {
		t.Errorf("homeserver = %v", fields["matrix_homeserver"])
	}
}
