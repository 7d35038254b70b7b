// Package notify posts operational alerts to Slack.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Alerter posts upstream-failure alerts to a Slack channel via
// chat.postMessage.
type Alerter struct {
	token   string
	channel string
	client  *http.Client
	apiURL  string

	mu       sync.Mutex
	lastSent time.Time
}

func NewAlerter(token, channel string) *Alerter {
	return &Alerter{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  "https://slack.com/api/chat.postMessage",
	}
}

// PostUpstreamFailure sends a Block Kit message when the completion gateway
// degrades to a fallback reply. It rate-limits to at most one alert per 30
// seconds so a flapping upstream does not flood the channel.
func (a *Alerter) PostUpstreamFailure(ctx context.Context, model, kind string) error {
	a.mu.Lock()
	if time.Since(a.lastSent) < 30*time.Second {
		a.mu.Unlock()
		return nil
	}
	a.lastSent = time.Now()
	a.mu.Unlock()

	if kind == "" {
		kind = "unknown"
	}

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": "Model Upstream Failure",
			},
		},
		{
			"type": "section",
			"fields": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("*Model:*\n%s", model)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Failure:*\n%s", kind)},
			},
		},
		{
			"type": "context",
			"elements": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("Replies are degrading to fallbacks. Sent at %s", time.Now().UTC().Format(time.RFC3339))},
			},
		},
	}

	body, err := json.Marshal(map[string]any{
		"channel": a.channel,
		"blocks":  blocks,
		"text":    fmt.Sprintf("Upstream failure: %s — %s", model, kind),
	})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}

	slog.Info("upstream-failure alert posted to Slack", "channel", a.channel, "model", model, "kind", kind)
	return nil
}
