package command

import (
	"regexp"
	"strings"
)

// Intent is a control action a chat user can ask for.
type Intent int

const (
	IntentNone Intent = iota
	IntentHelp
	IntentAbout
	IntentListCharacters
	IntentToggleAutoResponse
	IntentClearHistory
	IntentStatus
	IntentSwitchCharacter
	IntentMute
	IntentUnmute
)

var intentNames = map[Intent]string{
	IntentNone:               "none",
	IntentHelp:               "help",
	IntentAbout:              "about",
	IntentListCharacters:     "list-characters",
	IntentToggleAutoResponse: "toggle-autoresponse",
	IntentClearHistory:       "clear-history",
	IntentStatus:             "status",
	IntentSwitchCharacter:    "switch-character",
	IntentMute:               "mute",
	IntentUnmute:             "unmute",
}

func (i Intent) String() string {
	if s, ok := intentNames[i]; ok {
		return s
	}
	return "unknown"
}

// RequiresConfirmation reports whether the intent changes the thread in a way
// the user must confirm first.
func (i Intent) RequiresConfirmation() bool {
	return i == IntentClearHistory || i == IntentSwitchCharacter
}

type intentRule struct {
	intent  Intent
	pattern *regexp.Regexp
}

// wordRule matches any of the alternatives as whole words of folded text.
// Alternatives are regexp fragments and may span several words.
func wordRule(intent Intent, alternatives []string, emoji ...string) intentRule {
	expr := `(?:^|[^\p{L}\p{N}])(?:` + strings.Join(alternatives, "|") + `)(?:[^\p{L}\p{N}]|$)`
	for _, e := range emoji {
		expr += "|" + regexp.QuoteMeta(e)
	}
	return intentRule{intent: intent, pattern: regexp.MustCompile(expr)}
}

// intentTable is ordered: when several rules match, the earliest wins.
var intentTable = []intentRule{
	wordRule(IntentHelp,
		[]string{`help`, `pomoc`, `napoveda`, `prikazy`, `commands`, `\?`},
		"❓", "🆘"),
	wordRule(IntentAbout,
		[]string{`about`, `o sobe`, `o tobe`, `kdo jsi`, `who are you`, `verze`, `version`},
		"ℹ"),
	wordRule(IntentListCharacters,
		[]string{`postavy`, `postav`, `charakter[\p{L}]*`, `characters`, `personas`, `seznam`, `list`},
		"📜"),
	wordRule(IntentToggleAutoResponse,
		[]string{`auto`, `autorespon[\p{L}]*`, `automatick[\p{L}]*`, `odpovidej[\p{L}]*`},
		"🤖"),
	wordRule(IntentClearHistory,
		[]string{`zapomen[\p{L}]*`, `forget`, `smaz[\p{L}]*`, `vymaz[\p{L}]*`, `clear`, `reset`, `historie`},
		"🗑", "🧹"),
	wordRule(IntentStatus,
		[]string{`status`, `stav`, `info`},
		"📊"),
	wordRule(IntentSwitchCharacter,
		[]string{`prepni`, `prepnout`, `prepnes`, `zmen`, `switch`, `become`, `bud`, `hraj`, `play`},
		"🎭"),
	wordRule(IntentMute,
		[]string{`ztlum[\p{L}]*`, `mlc`, `ticho`, `mute`, `silence`, `shut up`, `drz hubu`},
		"🔇", "🤐"),
	wordRule(IntentUnmute,
		[]string{`odtlum[\p{L}]*`, `mluv`, `unmute`, `speak`, `talk`},
		"🔊", "🔉", "🔈"),
}

// ClassifyCommand returns the first intent in table order whose pattern
// matches text, or IntentNone.
func ClassifyCommand(text string) Intent {
	folded := Fold(text)
	for _, rule := range intentTable {
		if rule.pattern.MatchString(folded) {
			return rule.intent
		}
	}
	return IntentNone
}

var (
	switchKeyword = regexp.MustCompile(`^(?:prepni|prepnout|prepnes|zmen|switch|become|bud|hraj|play)$`)
	fillerWords   = map[string]bool{
		"na": true, "se": true, "za": true, "do": true, "to": true,
		"into": true, "as": true, "postavu": true, "character": true, "persona": true,
	}
)

// SwitchTarget returns the persona name requested by a switch-character
// command, e.g. "Gluma" from "/přepni na Gluma". The name keeps the user's
// spelling; it is "" when none was given.
func SwitchTarget(text string) string {
	fields := strings.Fields(text)
	for i, f := range fields {
		w := words(Fold(f))
		if len(w) != 1 || !switchKeyword.MatchString(w[0]) {
			continue
		}
		rest := fields[i+1:]
		for len(rest) > 0 && fillerWords[Fold(strings.Trim(rest[0], ",.:;!?"))] {
			rest = rest[1:]
		}
		return strings.Trim(strings.Join(rest, " "), " ,.:;!?")
	}
	return ""
}

// maxInflection is how many trailing letters a typed name may carry beyond the
// persona name and still match ("Gluma", "Glumovi").
const maxInflection = 3

// MatchName finds the name in names that candidate refers to. Exact folded
// matches win; otherwise a name matches when candidate extends it by a short
// inflectional ending.
func MatchName(candidate string, names []string) (string, bool) {
	c := Fold(strings.TrimSpace(candidate))
	if c == "" {
		return "", false
	}
	for _, n := range names {
		if Fold(n) == c {
			return n, true
		}
	}
	best, bestLen := "", 0
	for _, n := range names {
		fn := Fold(n)
		if fn == "" || !strings.HasPrefix(c, fn) {
			continue
		}
		if len([]rune(c))-len([]rune(fn)) <= maxInflection && len(fn) > bestLen {
			best, bestLen = n, len(fn)
		}
	}
	return best, best != ""
}
