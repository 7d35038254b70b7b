package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Alroma79/data-flywheel-chatbot/internal/knowledge"
	"github.com/Alroma79/data-flywheel-chatbot/internal/llm"
)

// ConversationStore is the slice of persistence the service needs.
type ConversationStore interface {
	AppendTurn(ctx context.Context, t Turn) (Turn, error)
	RecentContext(ctx context.Context, sessionID string, maxPairs int) ([]Turn, error)
}

// Retriever finds knowledge snippets relevant to a query. A nil retriever
// means no knowledge base is attached.
type Retriever interface {
	Search(ctx context.Context, query string, maxResults int) []knowledge.Snippet
}

// Publisher receives every persisted turn for downstream consumers. Calls
// must not block; delivery is best effort.
type Publisher interface {
	PublishTurn(t Turn)
}

// Alerter is notified when the gateway degrades to a fallback reply.
type Alerter interface {
	PostUpstreamFailure(ctx context.Context, model, kind string) error
}

// Request is one inbound chat message.
type Request struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// Response is the buffered chat result. Tokens and LatencyMS are for
// logging; the HTTP layer decides what goes on the wire.
type Response struct {
	Reply     string
	SessionID string
	Sources   []knowledge.Snippet
	Tokens    int
	LatencyMS int64
}

// StreamSession is an in-flight streaming exchange. Events carries tokens
// followed by exactly one terminal event; SessionID and Sources are known
// up front so the transport can cite them in every frame.
type StreamSession struct {
	SessionID string
	Sources   []knowledge.Snippet
	Events    <-chan llm.Event
}

// Service runs the chat pipeline: sanitize, retrieve, resolve config, load
// context, persist the user turn, call the gateway, persist the reply.
type Service struct {
	store     ConversationStore
	retriever Retriever
	resolver  *Resolver
	gateway   llm.Gateway
	feed      Publisher
	alerter   Alerter

	maxContextPairs int
}

func NewService(store ConversationStore, retriever Retriever, resolver *Resolver, gateway llm.Gateway, maxContextPairs int) *Service {
	return &Service{
		store:           store,
		retriever:       retriever,
		resolver:        resolver,
		gateway:         gateway,
		maxContextPairs: maxContextPairs,
	}
}

// SetPublisher attaches an optional turn publisher.
func (s *Service) SetPublisher(p Publisher) { s.feed = p }

// SetAlerter attaches an optional upstream-failure alerter.
func (s *Service) SetAlerter(a Alerter) { s.alerter = a }

// exchange is the shared front half of both chat modes: everything up to
// and including the persisted user turn.
type exchange struct {
	sessionID string
	active    ActiveConfig
	snippets  []knowledge.Snippet
	llmReq    llm.Request
}

func (s *Service) prepare(ctx context.Context, req Request) (*exchange, error) {
	msg := Sanitize(req.Message)
	if msg == "" {
		return nil, ErrEmptyMessage
	}

	sessionID := EnsureSessionID(req.SessionID)

	var snippets []knowledge.Snippet
	if s.retriever != nil {
		snippets = s.retriever.Search(ctx, msg, knowledge.MaxResults)
	}

	active := s.resolver.Resolve(ctx)
	system := active.SystemPrompt
	if len(snippets) > 0 {
		system += knowledgeSection(snippets)
	}

	history, err := s.store.RecentContext(ctx, sessionID, s.maxContextPairs)
	if err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: system})
	for _, t := range history {
		messages = append(messages, llm.Message{Role: string(t.Role), Content: t.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: msg})

	// The user turn is committed before generation so a failed or canceled
	// completion never loses what the user said.
	userTurn, err := s.store.AppendTurn(ctx, Turn{
		SessionID: sessionID,
		Role:      RoleUser,
		Content:   msg,
		UserID:    req.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("persist user turn: %w", err)
	}
	s.publish(userTurn)

	return &exchange{
		sessionID: sessionID,
		active:    active,
		snippets:  snippets,
		llmReq: llm.Request{
			Messages:    messages,
			Model:       active.Model,
			Temperature: active.Temperature,
			MaxTokens:   active.MaxTokens,
		},
	}, nil
}

// Chat runs the buffered pipeline and returns the complete reply.
func (s *Service) Chat(ctx context.Context, req Request) (*Response, error) {
	ex, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	reply, err := s.gateway.Complete(ctx, ex.llmReq)
	if err != nil {
		return nil, err
	}
	if reply.Fallback {
		s.alert(ctx, ex.active.Model, reply.FallbackKind)
	}

	s.persistReply(ctx, ex.sessionID, req.UserID, reply.Content)

	return &Response{
		Reply:     reply.Content,
		SessionID: ex.sessionID,
		Sources:   ex.snippets,
		Tokens:    reply.Tokens,
		LatencyMS: reply.LatencyMS,
	}, nil
}

// ChatStream runs the pipeline in streaming mode. The assistant turn is
// persisted exactly once, when the gateway completes; a failed or canceled
// stream persists nothing beyond the user turn.
func (s *Service) ChatStream(ctx context.Context, req Request) (*StreamSession, error) {
	ex, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	src, err := s.gateway.Stream(ctx, ex.llmReq)
	if err != nil {
		return nil, err
	}

	out := make(chan llm.Event, 64)
	go func() {
		defer close(out)
		for ev := range src {
			switch ev.Kind {
			case llm.EventToken:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case llm.EventCompleted:
				if ev.Reply.Fallback {
					s.alert(ctx, ex.active.Model, ev.Reply.FallbackKind)
				}
				s.persistReply(ctx, ex.sessionID, req.UserID, ev.Reply.Content)
				select {
				case out <- ev:
				case <-ctx.Done():
				}
				return
			case llm.EventFailed:
				select {
				case out <- ev:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	return &StreamSession{
		SessionID: ex.sessionID,
		Sources:   ex.snippets,
		Events:    out,
	}, nil
}

// persistReply stores the assistant turn. The reply has already been
// generated (and possibly streamed) at this point, so a storage failure is
// logged rather than propagated.
func (s *Service) persistReply(ctx context.Context, sessionID, userID, content string) {
	turn, err := s.store.AppendTurn(ctx, Turn{
		SessionID: sessionID,
		Role:      RoleAssistant,
		Content:   content,
		UserID:    userID,
	})
	if err != nil {
		slog.Error("chat: failed to persist assistant turn",
			"session_id", sessionID,
			"error", err)
		return
	}
	s.publish(turn)
}

func (s *Service) publish(t Turn) {
	if s.feed != nil {
		s.feed.PublishTurn(t)
	}
}

func (s *Service) alert(ctx context.Context, model, kind string) {
	if s.alerter == nil {
		return
	}
	if err := s.alerter.PostUpstreamFailure(ctx, model, kind); err != nil {
		slog.Warn("chat: upstream-failure alert not delivered", "error", err)
	}
}

// knowledgeSection renders retrieved snippets as a system-prompt appendix
// citing each source filename.
func knowledgeSection(snippets []knowledge.Snippet) string {
	var b strings.Builder
	b.WriteString("\n\nRelevant information from knowledge base:\n")
	for _, sn := range snippets {
		b.WriteString("\n[Source: ")
		b.WriteString(sn.Filename)
		b.WriteString("]\n")
		b.WriteString(sn.Content)
		b.WriteString("\n")
	}
	b.WriteString("\nPlease use the above information to provide accurate and helpful responses. ")
	b.WriteString("Always cite the source filename when referencing information from the knowledge base.")
	return b.String()
}
