package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func userRequest(content string) Request {
	return Request{
		Model:       "gpt-4o",
		Messages:    []Message{{Role: "user", Content: content}},
		Temperature: 0.7,
	}
}

func TestOpenAI_CompleteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}

		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.Model != "gpt-4o" || req.Stream {
			t.Errorf("unexpected wire request: %+v", req)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "hello back"}},
			},
			"usage": map[string]any{"total_tokens": 12},
		})
	}))
	defer srv.Close()

	g := NewOpenAI("sk-test", srv.URL)
	reply, err := g.Complete(context.Background(), userRequest("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Content != "hello back" || reply.Tokens != 12 || reply.Fallback {
		t.Errorf("unexpected reply: %+v", reply)
	}
}

func TestOpenAI_CompleteAuthAndRateErrors(t *testing.T) {
	for _, tc := range []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusTooManyRequests, ErrRateLimited},
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		g := NewOpenAI("sk-test", srv.URL)
		_, err := g.Complete(context.Background(), userRequest("hello"))
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
		srv.Close()
	}
}

func TestOpenAI_CompleteGenericFailureFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewOpenAI("sk-test", srv.URL)
	reply, err := g.Complete(context.Background(), userRequest("what is the policy?"))
	if err != nil {
		t.Fatalf("generic failures must not error: %v", err)
	}
	if !reply.Fallback {
		t.Fatal("expected fallback reply")
	}
	if !strings.HasPrefix(reply.Content, "[fallback-error: UpstreamStatus] ") {
		t.Errorf("unexpected fallback content: %q", reply.Content)
	}
	if !strings.Contains(reply.Content, "what is the policy?") {
		t.Errorf("fallback should echo the prompt: %q", reply.Content)
	}
}

func TestOpenAI_StreamSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"the ", "answer"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", delta)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	g := NewOpenAI("sk-test", srv.URL)
	ch, err := g.Stream(context.Background(), userRequest("question"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var (
		acc      strings.Builder
		terminal *Event
	)
	for ev := range ch {
		switch ev.Kind {
		case EventToken:
			acc.WriteString(ev.Token)
		case EventCompleted:
			e := ev
			terminal = &e
		case EventFailed:
			t.Fatalf("unexpected failure: %v", ev.Err)
		}
	}
	if terminal == nil {
		t.Fatal("missing terminal event")
	}
	if acc.String() != "the answer" || terminal.Reply.Content != "the answer" {
		t.Errorf("tokens %q, final %q", acc.String(), terminal.Reply.Content)
	}
	if terminal.Reply.Tokens != 2 {
		t.Errorf("expected 2 tokens, got %d", terminal.Reply.Tokens)
	}
}

func TestOpenAI_StreamPreFlightFailureReplaysFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewOpenAI("sk-test", srv.URL)
	ch, err := g.Stream(context.Background(), userRequest("question"))
	if err != nil {
		t.Fatalf("generic failures must not error: %v", err)
	}

	var (
		acc      strings.Builder
		terminal *Event
	)
	for ev := range ch {
		switch ev.Kind {
		case EventToken:
			acc.WriteString(ev.Token)
		case EventCompleted:
			e := ev
			terminal = &e
		case EventFailed:
			t.Fatalf("unexpected failure: %v", ev.Err)
		}
	}
	if terminal == nil {
		t.Fatal("missing terminal event")
	}
	if !terminal.Reply.Fallback {
		t.Error("expected fallback reply")
	}
	if acc.String() != terminal.Reply.Content {
		t.Errorf("tokens %q != final %q", acc.String(), terminal.Reply.Content)
	}
	if !strings.HasPrefix(terminal.Reply.Content, "[fallback-error:") {
		t.Errorf("unexpected content: %q", terminal.Reply.Content)
	}
}

func TestOpenAI_StreamAuthErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := NewOpenAI("sk-test", srv.URL)
	if _, err := g.Stream(context.Background(), userRequest("question")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{context.DeadlineExceeded, "Timeout"},
		{context.Canceled, "Canceled"},
		{errors.New("upstream status 502"), "UpstreamStatus"},
		{errors.New("connection refused"), "UpstreamError"},
	}
	for _, tc := range cases {
		if got := kindOf(tc.err); got != tc.want {
			t.Errorf("kindOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
