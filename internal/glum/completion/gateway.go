package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bdobrica/glum/internal/glum/history"
)

// pruneRatio is the share of history dropped after each context overflow.
const pruneRatio = 0.5

// Transcript is the part of a thread's history the retry loop works on.
// *history.History implements it.
type Transcript interface {
	Messages() []history.Message
	Len() int
	Prune(ratio float64) (int, error)
	DropOldest() bool
	TrimToTokens(budget int) int
}

// GatewayConfig tunes Gateway.
type GatewayConfig struct {
	// MinHistory is the floor below which history is not pruned. When an
	// overflow is reported at the floor the reply fails.
	MinHistory int
	// TokenBudget, when positive, trims history to the estimated budget
	// before the first attempt, even if the service would have accepted
	// it. This goes beyond the overflow protocol, which only prunes after
	// the service reports ErrContextLengthExceeded. Zero, the default,
	// disables it.
	TokenBudget int
	// Limiter, when set, caps replies per thread.
	Limiter *RateLimiter
	Logger  *slog.Logger
}

// Gateway builds prompts and talks to a Provider.
type Gateway struct {
	provider Provider
	cfg      GatewayConfig
	logger   *slog.Logger
}

// NewGateway returns a gateway over provider.
func NewGateway(provider Provider, cfg GatewayConfig) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinHistory < 0 {
		cfg.MinHistory = 0
	}
	return &Gateway{provider: provider, cfg: cfg, logger: logger}
}

// Complete sends [system prompt] ++ hist and returns the trimmed reply.
func (g *Gateway) Complete(ctx context.Context, systemPrompt string, hist []history.Message, params Params) (string, error) {
	prompt := make([]history.Message, 0, len(hist)+1)
	prompt = append(prompt, history.Message{Role: history.RoleSystem, Content: systemPrompt})
	prompt = append(prompt, hist...)

	text, err := g.provider.Complete(ctx, prompt, params)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Request describes one reply to generate.
type Request struct {
	// Key scopes rate limiting, normally the thread id.
	Key          string
	SystemPrompt string
	Params       Params
}

// Result is the outcome of Reply. Exactly one of Text and Err is meaningful.
type Result struct {
	Text     string
	Err      error
	Attempts int
	// Dropped counts history messages discarded to make the prompt fit.
	Dropped int
}

// OK reports whether a reply was produced.
func (r Result) OK() bool { return r.Err == nil }

// Reply asks for a completion and, while the service reports a context
// overflow, halves the transcript and asks again. The loop ends with a reply,
// with a non-overflow error, or with ErrContextExhausted once the transcript
// is at the floor. Each retry strictly shortens the transcript, so the number
// of attempts is bounded by its length.
func (g *Gateway) Reply(ctx context.Context, req Request, t Transcript) Result {
	var res Result

	if g.cfg.Limiter != nil && !g.cfg.Limiter.Allow(req.Key) {
		res.Err = ErrRateLimited
		return res
	}

	if g.cfg.TokenBudget > 0 {
		res.Dropped += t.TrimToTokens(g.cfg.TokenBudget)
	}

	for {
		res.Attempts++
		text, err := g.Complete(ctx, req.SystemPrompt, t.Messages(), req.Params)
		if err == nil {
			res.Text = text
			return res
		}
		if !errors.Is(err, ErrContextLengthExceeded) {
			res.Err = err
			return res
		}

		before := t.Len()
		if before <= g.cfg.MinHistory {
			res.Err = fmt.Errorf("%w (%d messages, %d attempts): %w", ErrContextExhausted, before, res.Attempts, err)
			return res
		}

		if _, err := t.Prune(pruneRatio); err != nil {
			res.Err = err
			return res
		}
		if t.Len() == before {
			t.DropOldest()
		}
		if t.Len() >= before {
			res.Err = fmt.Errorf("%w: transcript did not shrink", ErrContextExhausted)
			return res
		}
		res.Dropped += before - t.Len()

		g.logger.Info("context overflow, retrying with pruned history",
			"key", req.Key, "attempt", res.Attempts, "remaining", t.Len())
	}
}
