package command

import "strings"

// DefaultPrefixes mark a message as a command.
var DefaultPrefixes = []string{"/", "!"}

// Interpreter decides which messages are commands and classifies them.
// Ordinary chat is never classified, so a sentence that happens to contain
// "help" does not trigger the help reply.
type Interpreter struct {
	prefixes []string
}

// New returns an interpreter for the given command prefixes, or
// DefaultPrefixes when none are given.
func New(prefixes ...string) *Interpreter {
	var clean []string
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			clean = append(clean, p)
		}
	}
	if len(clean) == 0 {
		clean = DefaultPrefixes
	}
	return &Interpreter{prefixes: clean}
}

// Prefix returns the primary command prefix, for help texts.
func (i *Interpreter) Prefix() string { return i.prefixes[0] }

// CommandBody returns text without its command prefix, and whether text was
// a command at all.
func (i *Interpreter) CommandBody(text string) (string, bool) {
	text = strings.TrimSpace(text)
	for _, p := range i.prefixes {
		if body, ok := strings.CutPrefix(text, p); ok {
			body = strings.TrimSpace(body)
			return body, body != ""
		}
	}
	return "", false
}

// Parse classifies text when it is a command. It returns IntentNone and an
// empty body for ordinary chat.
func (i *Interpreter) Parse(text string) (Intent, string) {
	body, ok := i.CommandBody(text)
	if !ok {
		return IntentNone, ""
	}
	return ClassifyCommand(body), body
}
