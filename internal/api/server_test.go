package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Alroma79/data-flywheel-chatbot/internal/chat"
	"github.com/Alroma79/data-flywheel-chatbot/internal/ingest"
	"github.com/Alroma79/data-flywheel-chatbot/internal/knowledge"
	"github.com/Alroma79/data-flywheel-chatbot/internal/llm"
	"github.com/Alroma79/data-flywheel-chatbot/internal/testutil"
)

// fixedRetriever returns the same snippets for every query.
type fixedRetriever struct {
	snippets []knowledge.Snippet
}

func (r fixedRetriever) Search(_ context.Context, _ string, _ int) []knowledge.Snippet {
	return r.snippets
}

func setupServer(t *testing.T, gw llm.Gateway, opts Options) (*Server, *testutil.MockStore) {
	t.Helper()
	return setupServerWithRetriever(t, gw, nil, opts)
}

func setupServerWithRetriever(t *testing.T, gw llm.Gateway, ret chat.Retriever, opts Options) (*Server, *testutil.MockStore) {
	t.Helper()

	ms := testutil.NewMockStore()
	ingestor, err := ingest.New(ms, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	resolver := chat.NewResolver(ms, chat.Defaults{Model: "gpt-4o", Temperature: 0.7})
	svc := chat.NewService(ms, ret, resolver, gw, 5)

	return NewServer(ms, svc, ingestor, opts), ms
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv, _ := setupServer(t, &testutil.FakeGateway{}, Options{})

	w := doJSON(t, srv, "GET", "/api/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["service"] != "flywheel" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestChat_Buffered(t *testing.T) {
	gw := &testutil.FakeGateway{Reply: llm.Reply{Content: "the answer", Tokens: 2}}
	srv, ms := setupServer(t, gw, Options{})

	w := doJSON(t, srv, "POST", "/api/v1/chat", map[string]any{"message": "question"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	raw := w.Body.Bytes()
	var body chatResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatal(err)
	}
	if body.Reply != "the answer" || body.SessionID == "" {
		t.Errorf("unexpected response: %+v", body)
	}
	// No retrieval hits means no knowledge_sources key at all.
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		t.Fatal(err)
	}
	if _, ok := keys["knowledge_sources"]; ok {
		t.Errorf("knowledge_sources should be absent without retrieval hits: %s", raw)
	}
	if len(ms.Turns) != 2 {
		t.Errorf("expected 2 persisted turns, got %d", len(ms.Turns))
	}
}

func TestChat_BufferedCitesKnowledgeSources(t *testing.T) {
	gw := &testutil.FakeGateway{Reply: llm.Reply{Content: "the answer"}}
	ret := fixedRetriever{snippets: []knowledge.Snippet{
		{Filename: "refunds.txt", FileID: 7, Content: "refunds take 5 days", Score: 0.666},
	}}
	srv, _ := setupServerWithRetriever(t, gw, ret, Options{})

	w := doJSON(t, srv, "POST", "/api/v1/chat", map[string]any{"message": "refund policy"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body chatResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Sources) != 1 {
		t.Fatalf("expected 1 knowledge source, got %+v", body.Sources)
	}
	src := body.Sources[0]
	if src.Filename != "refunds.txt" || src.FileID != 7 {
		t.Errorf("unexpected source: %+v", src)
	}
	if src.RelevanceScore != 0.67 {
		t.Errorf("expected score rounded to 0.67, got %v", src.RelevanceScore)
	}
}

func TestChat_EmptyMessage(t *testing.T) {
	srv, ms := setupServer(t, &testutil.FakeGateway{}, Options{})

	w := doJSON(t, srv, "POST", "/api/v1/chat", map[string]any{"message": "   "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if ms.AppendTurnCalls != 0 {
		t.Errorf("expected no persistence, got %d calls", ms.AppendTurnCalls)
	}
}

func TestChat_InvalidJSON(t *testing.T) {
	srv, _ := setupServer(t, &testutil.FakeGateway{}, Options{})

	req := httptest.NewRequest("POST", "/api/v1/chat", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestChat_UpstreamErrorMapping(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want int
	}{
		{llm.ErrUnauthorized, http.StatusUnauthorized},
		{llm.ErrRateLimited, http.StatusTooManyRequests},
	} {
		srv, _ := setupServer(t, &testutil.FakeGateway{Err: tc.err}, Options{})
		w := doJSON(t, srv, "POST", "/api/v1/chat", map[string]any{"message": "question"})
		if w.Code != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
	}
}

func TestChat_InternalErrorHidesDetailsUnlessDebug(t *testing.T) {
	gw := &testutil.FakeGateway{Err: fmt.Errorf("connection string leaked")}

	srv, _ := setupServer(t, gw, Options{})
	w := doJSON(t, srv, "POST", "/api/v1/chat", map[string]any{"message": "question"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "connection string") {
		t.Error("internal detail leaked without debug")
	}

	srv, _ = setupServer(t, gw, Options{Debug: true})
	w = doJSON(t, srv, "POST", "/api/v1/chat", map[string]any{"message": "question"})
	if !strings.Contains(w.Body.String(), "connection string") {
		t.Error("expected details in debug mode")
	}
}

func decodeSSE(t *testing.T, body string) []streamFrame {
	t.Helper()
	var frames []streamFrame
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var f streamFrame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		frames = append(frames, f)
	}
	return frames
}

func TestChat_StreamingCumulativeFrames(t *testing.T) {
	gw := &testutil.FakeGateway{Events: []llm.Event{
		{Kind: llm.EventToken, Token: "the "},
		{Kind: llm.EventToken, Token: "answer"},
		{Kind: llm.EventCompleted, Reply: llm.Reply{Content: "the answer"}},
	}}
	srv, ms := setupServer(t, gw, Options{})

	w := doJSON(t, srv, "POST", "/api/v1/chat", map[string]any{"message": "question", "stream": true})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected event-stream content type, got %q", ct)
	}

	frames := decodeSSE(t, w.Body.String())
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].Reply != "the " || frames[1].Reply != "the answer" {
		t.Errorf("frames not cumulative: %+v", frames)
	}
	for _, f := range frames {
		if f.SessionID == "" {
			t.Error("frame missing session id")
		}
		if f.Sources != nil {
			t.Errorf("knowledge_sources should be absent without retrieval hits: %+v", f)
		}
	}

	if len(ms.Turns) != 2 || ms.Turns[1].Content != "the answer" {
		t.Errorf("assistant turn not persisted once: %+v", ms.Turns)
	}
}

func TestChat_StreamingRepeatsSourcesEveryFrame(t *testing.T) {
	gw := &testutil.FakeGateway{Events: []llm.Event{
		{Kind: llm.EventToken, Token: "the "},
		{Kind: llm.EventToken, Token: "answer"},
		{Kind: llm.EventCompleted, Reply: llm.Reply{Content: "the answer"}},
	}}
	ret := fixedRetriever{snippets: []knowledge.Snippet{
		{Filename: "refunds.txt", FileID: 7, Content: "refunds take 5 days", Score: 0.5},
	}}
	srv, _ := setupServerWithRetriever(t, gw, ret, Options{})

	w := doJSON(t, srv, "POST", "/api/v1/chat", map[string]any{"message": "refund policy", "stream": true})
	frames := decodeSSE(t, w.Body.String())
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if len(f.Sources) != 1 {
			t.Fatalf("frame %d missing knowledge sources: %+v", i, f)
		}
		src := f.Sources[0]
		if src.Filename != "refunds.txt" || src.FileID != 7 || src.RelevanceScore != 0.5 {
			t.Errorf("frame %d unexpected source: %+v", i, src)
		}
	}
}

func TestChat_StreamingFailureFrame(t *testing.T) {
	gw := &testutil.FakeGateway{Events: []llm.Event{
		{Kind: llm.EventToken, Token: "partial "},
		{Kind: llm.EventFailed, Err: fmt.Errorf("connection reset")},
	}}
	srv, ms := setupServer(t, gw, Options{})

	w := doJSON(t, srv, "POST", "/api/v1/chat", map[string]any{"message": "question", "stream": true})
	frames := decodeSSE(t, w.Body.String())
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	last := frames[len(frames)-1]
	if last.Error == "" || last.SessionID == "" {
		t.Errorf("unexpected error frame: %+v", last)
	}
	if len(ms.Turns) != 1 {
		t.Errorf("expected only user turn persisted, got %d", len(ms.Turns))
	}
}

func TestChatHistory_RequiresTokenWhenConfigured(t *testing.T) {
	srv, _ := setupServer(t, &testutil.FakeGateway{}, Options{AppToken: "secret"})

	req := httptest.NewRequest("GET", "/api/v1/chat-history?session_id=s1", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without token, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/api/v1/chat-history?session_id=s1", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong token, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/api/v1/chat-history?session_id=s1", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}
}

func TestChatHistory_OpenWithoutConfiguredToken(t *testing.T) {
	srv, _ := setupServer(t, &testutil.FakeGateway{}, Options{})

	w := doJSON(t, srv, "GET", "/api/v1/chat-history?session_id=s1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	// Without session_id the history spans all sessions.
	w = doJSON(t, srv, "GET", "/api/v1/chat-history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 without session_id, got %d", w.Code)
	}
}

func TestSessions_ListAndDelete(t *testing.T) {
	gw := &testutil.FakeGateway{Reply: llm.Reply{Content: "ok"}}
	srv, _ := setupServer(t, gw, Options{})

	if w := doJSON(t, srv, "POST", "/api/v1/chat", map[string]any{"message": "hi", "session_id": "s1"}); w.Code != http.StatusOK {
		t.Fatalf("chat failed: %d", w.Code)
	}

	w := doJSON(t, srv, "GET", "/api/v1/sessions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var sessions []chat.SessionSummary
	if err := json.NewDecoder(w.Body).Decode(&sessions); err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "s1" {
		t.Errorf("unexpected sessions: %+v", sessions)
	}

	if w := doJSON(t, srv, "DELETE", "/api/v1/sessions/s1", nil); w.Code != http.StatusOK {
		t.Errorf("expected 200 on delete, got %d", w.Code)
	}
	if w := doJSON(t, srv, "DELETE", "/api/v1/sessions/s1", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", w.Code)
	}
}

func TestConfig_GetNotFoundThenRoundTrip(t *testing.T) {
	srv, _ := setupServer(t, &testutil.FakeGateway{}, Options{})

	if w := doJSON(t, srv, "GET", "/api/v1/config", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 with no config, got %d", w.Code)
	}

	w := doJSON(t, srv, "POST", "/api/v1/config", map[string]any{
		"name": "support",
		"config_json": map[string]any{
			"system_prompt": "You are a support agent.",
			"model":         "gpt-4o-mini",
			"temperature":   0.2,
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, srv, "GET", "/api/v1/config", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var rec chat.ConfigRecord
	if err := json.NewDecoder(w.Body).Decode(&rec); err != nil {
		t.Fatal(err)
	}
	if rec.Name != "support" || *rec.Settings.Model != "gpt-4o-mini" {
		t.Errorf("unexpected config: %+v", rec)
	}
}

func TestConfig_Validation(t *testing.T) {
	srv, _ := setupServer(t, &testutil.FakeGateway{}, Options{})

	cases := []map[string]any{
		{"config_json": map[string]any{"system_prompt": "p", "model": "m", "temperature": 0.5}}, // no name
		{"name": "x", "config_json": map[string]any{"model": "m", "temperature": 0.5}},          // no prompt
		{"name": "x", "config_json": map[string]any{"system_prompt": "p", "temperature": 0.5}},  // no model
		{"name": "x", "config_json": map[string]any{"system_prompt": "p", "model": "m"}},        // no temperature
		{"name": "x", "config_json": map[string]any{"system_prompt": "p", "model": "m", "temperature": 5.0}},
	}
	for i, body := range cases {
		if w := doJSON(t, srv, "POST", "/api/v1/config", body); w.Code != http.StatusBadRequest {
			t.Errorf("case %d: expected 400, got %d", i, w.Code)
		}
	}
}

func TestFeedback_PostAndList(t *testing.T) {
	srv, _ := setupServer(t, &testutil.FakeGateway{}, Options{})

	w := doJSON(t, srv, "POST", "/api/v1/feedback", map[string]any{
		"message":       "the answer",
		"user_feedback": "negative",
		"comment":       "outdated info",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}

	if w := doJSON(t, srv, "POST", "/api/v1/feedback", map[string]any{"message": "x"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without user_feedback, got %d", w.Code)
	}

	w = doJSON(t, srv, "GET", "/api/v1/feedback", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var items []chat.Feedback
	if err := json.NewDecoder(w.Body).Decode(&items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Comment != "outdated info" {
		t.Errorf("unexpected feedback: %+v", items)
	}
}

func uploadRequest(t *testing.T, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(map[string][]string)
	h["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename=%q`, filename)}
	if contentType != "" {
		h["Content-Type"] = []string{contentType}
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()

	req := httptest.NewRequest("POST", "/api/v1/knowledge/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestKnowledgeFiles_UploadListDelete(t *testing.T) {
	srv, _ := setupServer(t, &testutil.FakeGateway{}, Options{})

	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, uploadRequest(t, "notes.txt", "text/plain", []byte("refund policy")))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// Same bytes under a new name dedup to the original record.
	w = httptest.NewRecorder()
	srv.router.ServeHTTP(w, uploadRequest(t, "copy.txt", "text/plain", []byte("refund policy")))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for duplicate, got %d", w.Code)
	}
	var dup struct {
		Duplicate bool `json:"duplicate"`
		File      struct {
			ID int64 `json:"id"`
		} `json:"file"`
	}
	if err := json.NewDecoder(w.Body).Decode(&dup); err != nil {
		t.Fatal(err)
	}
	if !dup.Duplicate {
		t.Error("expected duplicate flag")
	}

	wl := doJSON(t, srv, "GET", "/api/v1/knowledge/files", nil)
	var files []map[string]any
	if err := json.NewDecoder(wl.Body).Decode(&files); err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}

	wd := doJSON(t, srv, "DELETE", fmt.Sprintf("/api/v1/knowledge/files/%d", dup.File.ID), nil)
	if wd.Code != http.StatusOK {
		t.Errorf("expected 200 on delete, got %d", wd.Code)
	}
	wd = doJSON(t, srv, "DELETE", fmt.Sprintf("/api/v1/knowledge/files/%d", dup.File.ID), nil)
	if wd.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", wd.Code)
	}
}

func TestKnowledgeFiles_UploadRejectsUnsupported(t *testing.T) {
	srv, _ := setupServer(t, &testutil.FakeGateway{}, Options{})

	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, uploadRequest(t, "image.png", "image/png", []byte("binary")))
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", w.Code)
	}
}

func TestKnowledgeFiles_UploadRequiresFileField(t *testing.T) {
	srv, _ := setupServer(t, &testutil.FakeGateway{}, Options{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("other", "value")
	mw.Close()

	req := httptest.NewRequest("POST", "/api/v1/knowledge/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
