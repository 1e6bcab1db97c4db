package command

import (
	"strings"
	"unicode/utf8"
)

// Confirmation is the reading of a reply to a yes/no question.
type Confirmation int

const (
	Indeterminate Confirmation = iota
	Affirmative
	Negative
)

func (c Confirmation) String() string {
	switch c {
	case Affirmative:
		return "affirmative"
	case Negative:
		return "negative"
	default:
		return "indeterminate"
	}
}

// charsPerSignal bounds how long a reply may be per matched yes/no token
// before the matches are treated as incidental.
const charsPerSignal = 13

var (
	positiveWords = map[string]bool{
		"ano": true, "jo": true, "jj": true, "jasne": true, "urcite": true,
		"samozrejme": true, "souhlasim": true, "potvrzuji": true, "potvrzuju": true,
		"ok": true, "okay": true, "okej": true, "yes": true, "yep": true,
		"yeah": true, "sure": true, "confirm": true,
	}
	negativeWords = map[string]bool{
		"ne": true, "nee": true, "nechci": true, "nesouhlasim": true,
		"zrus": true, "zrusit": true, "storno": true, "nikdy": true,
		"no": true, "nope": true, "nah": true, "cancel": true,
	}
	positiveEmoji = []string{"👍", "✅", "👌"}
	negativeEmoji = []string{"👎", "❌", "🚫"}
)

// ClassifyConfirmation scores text as positives minus negatives. A long text
// with few matches is Indeterminate; otherwise a positive score is
// Affirmative and anything else Negative.
func ClassifyConfirmation(text string) Confirmation {
	text = strings.TrimSpace(text)
	folded := Fold(text)

	pos, neg := 0, 0
	for _, w := range words(folded) {
		switch {
		case positiveWords[w]:
			pos++
		case negativeWords[w]:
			neg++
		}
	}
	for _, e := range positiveEmoji {
		pos += strings.Count(folded, e)
	}
	for _, e := range negativeEmoji {
		neg += strings.Count(folded, e)
	}

	if utf8.RuneCountInString(text) > charsPerSignal*(pos+neg) {
		return Indeterminate
	}
	if pos-neg > 0 {
		return Affirmative
	}
	return Negative
}
