// Package feed publishes persisted chat turns to NATS JetStream so
// downstream consumers (labeling, fine-tuning exports, analytics) can tap
// the conversation stream without touching the database.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Alroma79/data-flywheel-chatbot/internal/chat"
)

const (
	// StreamName holds every turn event.
	StreamName = "FLYWHEEL_TURNS"
	// SubjectTurnCreated is published once per persisted turn.
	SubjectTurnCreated = "flywheel.turn.created"

	defaultFlushInterval = 2 * time.Second
	defaultBufferMax     = 1024
)

// Publisher buffers turns and flushes them to JetStream on a ticker. Adding
// never blocks the request path; when the buffer is full the oldest turns
// are dropped.
type Publisher struct {
	nc *nats.Conn
	js jetstream.JetStream

	mu     sync.Mutex
	buffer []chat.Turn

	flushInterval time.Duration
	bufferMax     int
	done          chan struct{}
}

// Connect dials NATS, ensures the turn stream exists, and returns a
// publisher ready to Start.
func Connect(ctx context.Context, natsURL string) (*Publisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("feed: nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("feed: nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	p := &Publisher{
		nc:            nc,
		js:            js,
		flushInterval: defaultFlushInterval,
		bufferMax:     defaultBufferMax,
		done:          make(chan struct{}),
	}
	if err := p.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return p, nil
}

func (p *Publisher) ensureStream(ctx context.Context) error {
	if _, err := p.js.Stream(ctx, StreamName); err == nil {
		return nil
	}
	_, err := p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"flywheel.turn.>"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return nil
}

// PublishTurn enqueues one turn. Never blocks.
func (p *Publisher) PublishTurn(t chat.Turn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buffer) >= p.bufferMax {
		dropped := len(p.buffer) - p.bufferMax + 1
		p.buffer = p.buffer[dropped:]
		slog.Warn("feed: buffer overflow, dropping oldest turns", "dropped", dropped)
	}
	p.buffer = append(p.buffer, t)
}

// Start begins the periodic flush ticker. Cancel the context to trigger a
// final flush, then Wait for it to finish.
func (p *Publisher) Start(ctx context.Context) {
	ticker := time.NewTicker(p.flushInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.flush(ctx)
			case <-ctx.Done():
				p.flush(context.Background())
				close(p.done)
				return
			}
		}
	}()
}

// Wait blocks until the final flush after Start's context is canceled.
func (p *Publisher) Wait() {
	<-p.done
}

func (p *Publisher) Close() {
	p.nc.Close()
}

// BufferLen reports the pending turn count, for health checks.
func (p *Publisher) BufferLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	batch := p.buffer
	p.buffer = nil
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	published := 0
	for _, t := range batch {
		data, err := json.Marshal(t)
		if err != nil {
			slog.Error("feed: failed to encode turn", "turn_id", t.ID, "error", err)
			continue
		}
		if _, err := p.js.Publish(ctx, SubjectTurnCreated, data); err != nil {
			slog.Error("feed: failed to publish turn", "turn_id", t.ID, "error", err)
			continue
		}
		published++
	}
	if published > 0 {
		slog.Debug("feed: flushed turns", "count", published)
	}
}
