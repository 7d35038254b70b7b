package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// OpenAI calls the chat completions API over plain net/http.
//
// Generic upstream failures never reach the caller as errors: they become a
// fallback Reply embedding the failure kind, so the service stays up when
// the model is unreachable. Auth and rate-limit rejections are the two
// exceptions — those surface as typed errors for distinguishing status
// codes.
type OpenAI struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewOpenAI(apiKey, baseURL string) *OpenAI {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAI{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (g *OpenAI) Complete(ctx context.Context, req Request) (Reply, error) {
	start := time.Now()

	resp, err := g.post(ctx, req, false)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrRateLimited) {
			return Reply{}, err
		}
		return fallbackReply(req, err, start), nil
	}
	defer resp.Body.Close()

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fallbackReply(req, fmt.Errorf("decode response: %w", err), start), nil
	}
	if len(out.Choices) == 0 {
		return fallbackReply(req, errors.New("empty choices"), start), nil
	}

	return Reply{
		Content:   out.Choices[0].Message.Content,
		Tokens:    out.Usage.TotalTokens,
		LatencyMS: time.Since(start).Milliseconds(),
	}, nil
}

func (g *OpenAI) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	start := time.Now()

	resp, err := g.post(ctx, req, true)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrRateLimited) {
			return nil, err
		}
		// Pre-stream failure degrades to a replayed fallback reply, same
		// terminal contract as a live stream.
		return replay(ctx, fallbackReply(req, err, start)), nil
	}

	ch := make(chan Event, 64)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		var full strings.Builder
		tokens := 0

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				ch <- Event{Kind: EventFailed, Err: ctx.Err()}
				return
			default:
			}

			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				ch <- Event{Kind: EventCompleted, Reply: Reply{
					Content:   full.String(),
					Tokens:    tokens,
					LatencyMS: time.Since(start).Milliseconds(),
				}}
				return
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				tokens++
				full.WriteString(delta)
				select {
				case ch <- Event{Kind: EventToken, Token: delta}:
				case <-ctx.Done():
					ch <- Event{Kind: EventFailed, Err: ctx.Err()}
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			ch <- Event{Kind: EventFailed, Err: fmt.Errorf("read stream: %w", err)}
			return
		}
		// Upstream closed without [DONE]: treat what we have as complete.
		ch <- Event{Kind: EventCompleted, Reply: Reply{
			Content:   full.String(),
			Tokens:    tokens,
			LatencyMS: time.Since(start).Milliseconds(),
		}}
	}()

	return ch, nil
}

// post sends the completion request and normalizes HTTP-level failures.
func (g *OpenAI) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	body, err := json.Marshal(completionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		resp.Body.Close()
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, ErrRateLimited
	case resp.StatusCode >= 400:
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		resp.Body.Close()
		if apiErr.Error.Message != "" {
			return nil, fmt.Errorf("upstream status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	return resp, nil
}

// fallbackReply synthesizes a safe reply embedding the failure kind plus a
// truncated echo of the prompt.
func fallbackReply(req Request, err error, start time.Time) Reply {
	kind := kindOf(err)
	return Reply{
		Content:      "[fallback-error: " + kind + "] " + truncate(lastUserContent(req.Messages), echoLimit),
		LatencyMS:    time.Since(start).Milliseconds(),
		Fallback:     true,
		FallbackKind: kind,
	}
}

// kindOf reduces an upstream error to a short classification name.
func kindOf(err error) string {
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	case errors.As(err, &ne) && ne.Timeout():
		return "Timeout"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	default:
		if strings.Contains(err.Error(), "upstream status") {
			return "UpstreamStatus"
		}
		return "UpstreamError"
	}
}
