package persona

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bdobrica/glum/internal/glum/completion"
)

// ConfigError reports a persona file that was rejected.
type ConfigError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("persona %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("persona %s: %s", e.Path, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Registry maps persona names to personas. It always holds the fallback
// persona, so resolution never fails.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	byName   map[string]*Persona
	byAlias  map[string]*Persona
	fallback *Persona
}

// NewRegistry returns a registry holding only the fallback persona.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:   logger,
		byName:   make(map[string]*Persona),
		byAlias:  make(map[string]*Persona),
		fallback: fallback(),
	}
}

// Load reads every *.yaml, *.yml and *.json file in dir. Invalid files are
// logged and skipped; their errors are joined into the returned error while
// the valid personas are registered. A missing directory is logged and
// leaves only the fallback persona.
func (r *Registry) Load(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		r.logger.Warn("persona directory not found, using fallback persona only", "dir", dir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read persona directory: %w", err)
	}

	var errs []error
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !isPersonaFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := r.loadFile(path); err != nil {
			r.logger.Error("persona rejected", "path", path, "err", err)
			errs = append(errs, err)
			continue
		}
		loaded++
	}

	r.logger.Info("personas loaded", "dir", dir, "loaded", loaded, "rejected", len(errs))
	return errors.Join(errs...)
}

func isPersonaFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

func (r *Registry) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ConfigError{Path: path, Reason: "unreadable", Err: err}
	}
	def, err := decodeDefinition(data)
	if err != nil {
		return &ConfigError{Path: path, Reason: "invalid definition", Err: err}
	}

	p := &Persona{
		Name:         strings.TrimSpace(def.Name),
		DisplayName:  strings.TrimSpace(def.DisplayName),
		SystemPrompt: strings.TrimSpace(firstNonEmpty(def.CharacterSetting, def.LegacySetting)),
		Owner:        strings.TrimSpace(def.Owner),
		Aliases:      def.Aliases,
		Params: completion.Params{
			Model:           def.Model,
			Temperature:     def.Temperature,
			MaxTokens:       firstSet(def.MaxTokens, def.LegacyMaxTokens),
			LogitBias:       def.LogitBias,
			PresencePenalty: firstSet(def.PresencePenalty, def.LegacyPresencePenalty),
		},
	}
	if p.Params.LogitBias == nil {
		p.Params.LogitBias = def.LegacyLogitBias
	}
	if err := r.Add(p); err != nil {
		return &ConfigError{Path: path, Reason: err.Error()}
	}
	return nil
}

// Add registers p. The name and system prompt are required, the fallback name
// is reserved and names must be unique. Aliases already taken are ignored.
func (r *Registry) Add(p *Persona) error {
	switch {
	case p.Name == "":
		return errors.New("missing name")
	case p.SystemPrompt == "":
		return errors.New("missing character setting")
	case p.Name == FallbackName:
		return fmt.Errorf("name %q is reserved", FallbackName)
	}
	if p.Params.User == "" {
		p.Params.User = p.Name
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byName[p.Name]; dup {
		return fmt.Errorf("duplicate name %q", p.Name)
	}
	r.byName[p.Name] = p
	for _, alias := range p.Names()[1:] {
		if _, taken := r.byAlias[alias]; taken {
			r.logger.Warn("persona alias already taken", "persona", p.Name, "alias", alias)
			continue
		}
		r.byAlias[alias] = p
	}
	return nil
}

// Lookup returns the persona named name, matching names first and aliases
// second. Matching is case-sensitive.
func (r *Registry) Lookup(name string) (*Persona, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == FallbackName {
		return r.fallback, true
	}
	if p, ok := r.byName[name]; ok {
		return p, true
	}
	p, ok := r.byAlias[name]
	return p, ok
}

// FindFold is Lookup ignoring case and surrounding space, for names typed by
// chat users.
func (r *Registry) FindFold(name string) (*Persona, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}
	if p, ok := r.Lookup(name); ok {
		return p, true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range sortedKeys(r.byName) {
		if strings.EqualFold(n, name) {
			return r.byName[n], true
		}
	}
	for _, n := range sortedKeys(r.byAlias) {
		if strings.EqualFold(n, name) {
			return r.byAlias[n], true
		}
	}
	if strings.EqualFold(FallbackName, name) || strings.EqualFold(r.fallback.DisplayName, name) {
		return r.fallback, true
	}
	return nil, false
}

// Resolve returns the persona for name, or the fallback persona.
func (r *Registry) Resolve(name string) *Persona {
	if p, ok := r.Lookup(name); ok {
		return p
	}
	return r.fallback
}

// ResolveFirst returns the persona of the first known name in names, or the
// fallback persona.
func (r *Registry) ResolveFirst(names ...string) *Persona {
	for _, n := range names {
		if n == "" {
			continue
		}
		if p, ok := r.Lookup(n); ok {
			return p
		}
	}
	return r.fallback
}

// Fallback returns the built-in persona.
func (r *Registry) Fallback() *Persona { return r.fallback }

// Names returns the loaded persona names, sorted, without the fallback.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.byName)
}

// Len returns the number of loaded personas, not counting the fallback.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

func sortedKeys(m map[string]*Persona) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
