// Package persona loads the characters glum can speak as and resolves which
// one owns a thread.
package persona

import (
	"github.com/bdobrica/glum/internal/glum/completion"
)

// FallbackName is reserved for the built-in persona used when no other one
// matches. Persona files may not use it.
const FallbackName = "No One"

const fallbackPrompt = "Jsi charakter ze Hry o trůny, jsi Nikdo. " +
	"Nikdo je ztělesněním emocionálního odloučení, je nemilosrdný a chladnokrevný. " +
	"Vyhýbáš se osobním zájmenům a čehokoliv, co by odhalilo osobní identitu. " +
	"Nikdo mluví stručně a neosobně."

// Persona is a named response style. Values handed out by a Registry must not
// be modified.
type Persona struct {
	Name         string
	DisplayName  string
	SystemPrompt string
	// Owner is the handle of the account owner this persona speaks for.
	Owner string
	// Aliases are extra names (e.g. thread nicknames) that resolve to this
	// persona.
	Aliases []string
	Params  completion.Params
}

// Label is the name the persona signs its messages with.
func (p *Persona) Label() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Name
}

// Names returns Name, DisplayName and Aliases without duplicates or blanks.
func (p *Persona) Names() []string {
	seen := make(map[string]bool, 2+len(p.Aliases))
	var out []string
	for _, n := range append([]string{p.Name, p.DisplayName}, p.Aliases...) {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func fallback() *Persona {
	return &Persona{
		Name:         FallbackName,
		DisplayName:  "Nikdo",
		SystemPrompt: fallbackPrompt,
		Params:       completion.Params{User: FallbackName},
	}
}
