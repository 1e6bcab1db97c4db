package command

import (
	"regexp"
	"strings"
)

var (
	// "@alice", "@alice:example.org" but not the "@" of an e-mail address.
	handleTag = regexp.MustCompile(`(^|\s)@[\p{L}\p{N}_.:=\-]+`)
	// Discord user, nickname and role mentions.
	discordTag = regexp.MustCompile(`<@[!&]?\d+>`)
	spaceRun   = regexp.MustCompile(`[ \t]{2,}`)
)

// StripMentionTags removes "@handle" tokens anywhere in text.
func StripMentionTags(text string) string {
	text = discordTag.ReplaceAllString(text, "")
	text = handleTag.ReplaceAllString(text, "$1")
	text = spaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// StripSelfAddress removes a leading run of colons, spaces and "Name:" labels
// from a reply, for any of the persona's names. A label may carry a
// parenthesised suffix, as in "Glum (Sméagol):". A name that is not followed
// by a colon is part of the sentence and stays.
func StripSelfAddress(text string, names ...string) string {
	var alts []string
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			alts = append(alts, regexp.QuoteMeta(n))
		}
	}
	if len(alts) == 0 {
		return strings.TrimLeft(text, " \t\r\n:")
	}
	re := regexp.MustCompile(`^[\s:]*(?:(?i:` + strings.Join(alts, "|") + `)(?:\s*\([^)]*\))?\s*:[\s:]*)*`)
	return re.ReplaceAllString(text, "")
}

// Mentions reports whether text names any of names as a whole word, ignoring
// case and diacritics.
func Mentions(text string, names ...string) bool {
	folded := " " + strings.Join(words(Fold(text)), " ") + " "
	for _, n := range names {
		w := words(Fold(n))
		if len(w) == 0 {
			continue
		}
		if strings.Contains(folded, " "+strings.Join(w, " ")+" ") {
			return true
		}
	}
	return false
}
