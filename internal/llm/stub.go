package llm

import (
	"context"
	"strings"
)

// StubPrefix marks replies produced without a network call.
const StubPrefix = "[stub] "

// Stub is the offline gateway: deterministic, network-free, CI-safe. The
// reply is a fixed prefix plus a truncated echo of the latest user message.
type Stub struct{}

func (Stub) Complete(_ context.Context, req Request) (Reply, error) {
	content := StubPrefix + truncate(lastUserContent(req.Messages), echoLimit)
	return Reply{
		Content: content,
		Tokens:  len(strings.Fields(content)),
	}, nil
}

func (Stub) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	content := StubPrefix + truncate(lastUserContent(req.Messages), echoLimit)
	return replay(ctx, Reply{Content: content}), nil
}
