// Package completion turns a persona's system prompt and a thread's history
// into a reply from a chat-completion service.
//
// Provider is the remote call. Gateway assembles the prompt and runs the
// bounded prune-and-retry loop used when the prompt outgrows the model's
// context window.
package completion

import (
	"context"
	"errors"

	"github.com/bdobrica/glum/internal/glum/history"
)

// ErrContextLengthExceeded is returned by a Provider when the prompt does not
// fit the model's context window. Pruning history and retrying may help.
var ErrContextLengthExceeded = errors.New("completion: context length exceeded")

// ErrContextExhausted is returned by Gateway.Reply when the service still
// reports a context overflow after history reached its floor.
var ErrContextExhausted = errors.New("completion: history cannot be pruned further")

// ErrRateLimit is returned by a Provider when the upstream API throttles the
// request (HTTP 429).
var ErrRateLimit = errors.New("completion: upstream rate limit exceeded")

// ErrRateLimited is returned by Gateway.Reply when the local per-thread limit
// refuses the call before it is made.
var ErrRateLimited = errors.New("completion: too many replies in this thread")

// ErrEmptyResponse is returned when the service answers without any choice.
var ErrEmptyResponse = errors.New("completion: no choices in response")

// Params are a persona's generation parameters. Nil pointers and an empty
// LogitBias mean "use the service default" and are omitted from requests.
type Params struct {
	Model           string
	Temperature     *float64
	MaxTokens       *int
	LogitBias       map[string]float64
	PresencePenalty *float64
	// User identifies the caller to the service. glum sends the persona name.
	User string
}

// Provider performs one completion call.
type Provider interface {
	Complete(ctx context.Context, prompt []history.Message, params Params) (string, error)
}

// Float returns a pointer to v, for building Params literals.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for building Params literals.
func Int(v int) *int { return &v }
