// Package llm abstracts the language-model call behind a Gateway that
// supports one buffered reply or an incremental token stream, with a
// deterministic offline stub when no credential is configured.
package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// Message is one prompt message in provider wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries everything one completion call needs.
type Request struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
}

// Reply is a finished completion. Fallback is set when the upstream call
// failed and the content is a locally synthesized stand-in.
type Reply struct {
	Content      string
	Tokens       int
	LatencyMS    int64
	Fallback     bool
	FallbackKind string
}

// EventKind tags stream events so data and control never share a channel
// representation.
type EventKind int

const (
	// EventToken carries one text increment.
	EventToken EventKind = iota
	// EventCompleted is the single terminal record carrying the full
	// accumulated reply and accounting. No tokens follow it.
	EventCompleted
	// EventFailed is the terminal record for a mid-stream failure. No
	// reply is carried and nothing should be persisted.
	EventFailed
)

// Event is the tagged union streamed by Gateway.Stream. Exactly one
// terminal event (Completed or Failed) ends every stream.
type Event struct {
	Kind  EventKind
	Token string
	Reply Reply
	Err   error
}

// Errors the gateway surfaces instead of swallowing: the API layer maps
// these to distinguishing status codes.
var (
	ErrUnauthorized = errors.New("upstream rejected credentials")
	ErrRateLimited  = errors.New("upstream rate limit exceeded")
)

// Gateway is the completion contract consumed by the chat service.
type Gateway interface {
	Complete(ctx context.Context, req Request) (Reply, error)
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}

// New selects the live OpenAI gateway when a credential is configured, or
// the offline stub otherwise. The choice is made once at startup.
func New(apiKey, baseURL string, forceFallback bool) Gateway {
	if apiKey == "" || forceFallback {
		slog.Info("llm: using offline stub gateway")
		return Stub{}
	}
	return NewOpenAI(apiKey, baseURL)
}

// echoLimit bounds how much of the prompt stub and fallback replies echo.
const echoLimit = 160

// lastUserContent returns the content of the most recent user message.
func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	if len(messages) > 0 {
		return messages[len(messages)-1].Content
	}
	return ""
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// replay streams a finished reply as whitespace tokens followed by the
// terminal metadata record, honoring cancellation. Both the stub and the
// live gateway's pre-stream fallback use it, so callers cannot tell the
// modes apart structurally.
func replay(ctx context.Context, reply Reply) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)

		words := strings.Fields(reply.Content)
		reply.Content = strings.Join(words, " ")
		reply.Tokens = len(words)

		for i, w := range words {
			tok := w
			if i < len(words)-1 {
				tok += " "
			}
			select {
			case ch <- Event{Kind: EventToken, Token: tok}:
			case <-ctx.Done():
				return
			}
		}

		select {
		case ch <- Event{Kind: EventCompleted, Reply: reply}:
		case <-ctx.Done():
		}
	}()
	return ch
}
