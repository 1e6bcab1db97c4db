package conversation

import (
	"fmt"
	"strings"

	"github.com/bdobrica/glum/common/version"
	"github.com/bdobrica/glum/internal/glum/command"
	"github.com/bdobrica/glum/internal/glum/persona"
)

const (
	replyCancelled  = "Dobře, nechávám to být."
	replyReprompt   = "Nerozumím. Odpověz prosím ano, nebo ne."
	replyCleared    = "Historie smazána. Začínáme znovu."
	replyMuted      = "Ztlumeno. Budu jen poslouchat."
	replyUnmuted    = "Zase mluvím."
	replyAutoOn     = "Automatické odpovědi zapnuty. Odpovím na každou zprávu."
	replyAutoOff    = "Automatické odpovědi vypnuty. Odpovím, jen když mě někdo osloví."
	replyNoPersonas = "Nemám načtené žádné postavy, mluví jen %s."
)

// answerPending applies a yes/no answer to the pending command. It reports
// false when the command expired and text should be handled as a new
// message.
func (c *Conversation) answerPending(text string) (string, bool) {
	p := c.pending
	if p == nil || c.now().After(p.expires) {
		c.logger.Info("pending command expired", "intent", p.intentName())
		c.pending = nil
		c.state = StateActive
		return "", false
	}

	switch command.ClassifyConfirmation(text) {
	case command.Affirmative:
		c.pending = nil
		c.state = StateActive
		c.logger.Info("command confirmed", "intent", p.intent)
		return c.execute(p), true
	case command.Negative:
		c.pending = nil
		c.state = StateActive
		c.logger.Info("command cancelled", "intent", p.intent)
		return replyCancelled, true
	default:
		return replyReprompt + " " + p.prompt, true
	}
}

func (p *pendingCommand) intentName() string {
	if p == nil {
		return ""
	}
	return p.intent.String()
}

// runCommand executes intent or, for intents that need it, asks for
// confirmation.
func (c *Conversation) runCommand(intent command.Intent, body string) string {
	c.logger.Info("command received", "intent", intent)

	switch intent {
	case command.IntentHelp:
		return c.helpText()
	case command.IntentAbout:
		return fmt.Sprintf("Jsem %s. Běžím na %s.", c.persona.Label(), version.Info())
	case command.IntentListCharacters:
		return c.characterList()
	case command.IntentToggleAutoResponse:
		c.autoResponse = !c.autoResponse
		if c.autoResponse {
			return replyAutoOn
		}
		return replyAutoOff
	case command.IntentStatus:
		return c.statusText()
	case command.IntentMute:
		c.muted = true
		return replyMuted
	case command.IntentUnmute:
		c.muted = false
		return replyUnmuted
	case command.IntentClearHistory:
		return c.ask(&pendingCommand{
			intent: intent,
			prompt: "Opravdu mám zapomenout celou historii této konverzace? (ano/ne)",
		})
	case command.IntentSwitchCharacter:
		target, reply := c.switchTarget(body)
		if target == nil {
			return reply
		}
		return c.ask(&pendingCommand{
			intent: intent,
			target: target,
			prompt: fmt.Sprintf("Mám se přepnout na postavu %s? (ano/ne)", target.Label()),
		})
	}
	return ""
}

func (c *Conversation) ask(p *pendingCommand) string {
	p.expires = c.now().Add(c.ttl)
	c.pending = p
	c.state = StateAwaitingConfirmation
	return p.prompt
}

// execute runs a confirmed command.
func (c *Conversation) execute(p *pendingCommand) string {
	switch p.intent {
	case command.IntentClearHistory:
		c.history.Clear()
		return replyCleared
	case command.IntentSwitchCharacter:
		prev := c.persona.Name
		c.persona = p.target
		c.logger.Info("persona switched", "from", prev, "to", p.target.Name)
		return fmt.Sprintf("Teď jsem %s.", p.target.Label())
	}
	return ""
}

// switchTarget resolves the persona named in a switch command. When it
// cannot, it returns the reply explaining why.
func (c *Conversation) switchTarget(body string) (*persona.Persona, string) {
	name := command.SwitchTarget(body)
	if name == "" {
		return nil, "Na koho se mám přepnout? " + c.characterList()
	}

	fb := c.registry.Fallback()
	known := append(c.registry.Names(), fb.Names()...)
	matched, ok := command.MatchName(name, known)
	if !ok {
		return nil, fmt.Sprintf("Postavu „%s“ neznám. %s", name, c.characterList())
	}
	target, ok := c.registry.FindFold(matched)
	if !ok {
		return nil, fmt.Sprintf("Postavu „%s“ neznám. %s", name, c.characterList())
	}
	if target == c.persona {
		return nil, fmt.Sprintf("Už jsem %s.", target.Label())
	}
	return target, ""
}

func (c *Conversation) characterList() string {
	names := c.registry.Names()
	fb := c.registry.Fallback().Label()
	if len(names) == 0 {
		return fmt.Sprintf(replyNoPersonas, fb)
	}
	return fmt.Sprintf("Postavy: %s. Výchozí: %s.", strings.Join(names, ", "), fb)
}

func (c *Conversation) helpText() string {
	p := c.interp.Prefix()
	lines := []string{
		"Příkazy:",
		p + "pomoc – tahle nápověda",
		p + "kdo jsi – kdo teď mluví",
		p + "postavy – seznam postav",
		p + "přepni <postava> – změnit postavu",
		p + "auto – zapnout nebo vypnout automatické odpovědi",
		p + "zapomeň – smazat historii konverzace",
		p + "stav – stav konverzace",
		p + "ztlum / " + p + "odtlum – přestat nebo začít odpovídat",
	}
	return strings.Join(lines, "\n")
}

func (c *Conversation) statusText() string {
	s := c.Status()
	onOff := func(b bool) string {
		if b {
			return "ano"
		}
		return "ne"
	}
	return fmt.Sprintf("Postava: %s\nAutomatické odpovědi: %s\nZtlumeno: %s\nZprávy v historii: %d (asi %d tokenů)",
		c.persona.Label(), onOff(s.AutoResponse), onOff(s.Muted), s.Messages, s.Tokens)
}
