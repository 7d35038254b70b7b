package testutil

import (
	"context"

	"github.com/Alroma79/data-flywheel-chatbot/internal/knowledge"
	"github.com/Alroma79/data-flywheel-chatbot/internal/llm"
)

// FakeGateway is a scripted llm.Gateway. Set Reply/Err for buffered calls
// and Events for streaming calls; requests are recorded for assertions.
type FakeGateway struct {
	Reply  llm.Reply
	Err    error
	Events []llm.Event

	StreamErr error

	Requests []llm.Request
}

func (g *FakeGateway) Complete(_ context.Context, req llm.Request) (llm.Reply, error) {
	g.Requests = append(g.Requests, req)
	if g.Err != nil {
		return llm.Reply{}, g.Err
	}
	return g.Reply, nil
}

func (g *FakeGateway) Stream(_ context.Context, req llm.Request) (<-chan llm.Event, error) {
	g.Requests = append(g.Requests, req)
	if g.StreamErr != nil {
		return nil, g.StreamErr
	}
	ch := make(chan llm.Event, len(g.Events))
	for _, ev := range g.Events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

// FakeCorpus serves fixed file contents from memory, keyed by filename.
type FakeCorpus struct {
	Files    []knowledge.FileRecord
	Contents map[string]string
	ReadErrs map[string]error
	ListErr  error
}

func (c *FakeCorpus) ListFiles(_ context.Context) ([]knowledge.FileRecord, error) {
	if c.ListErr != nil {
		return nil, c.ListErr
	}
	return c.Files, nil
}

func (c *FakeCorpus) ReadFile(_ context.Context, f knowledge.FileRecord) ([]byte, error) {
	if err := c.ReadErrs[f.Filename]; err != nil {
		return nil, err
	}
	return []byte(c.Contents[f.Filename]), nil
}
