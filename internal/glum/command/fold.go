// Package command recognises control messages in chat: commands addressed to
// the bot, yes/no answers to its questions, and the address prefixes that
// have to be stripped from text before it is stored.
//
// All matching is deterministic. Text is case folded and stripped of
// diacritics first, so "ZAPOMEŇ", "zapomen" and "Zapomeň" are the same word.
package command

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold returns s case folded and without combining marks. Emoji and other
// symbols are kept.
func Fold(s string) string {
	// Casers and transformers carry state, so they are built per call.
	folded := cases.Fold().String(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, folded)
	if err != nil {
		return folded
	}
	return out
}

// words splits folded text into letter/digit runs.
func words(folded string) []string {
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
