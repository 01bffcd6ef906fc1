package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	modelchat "github.com/mxfan/gemchat/backend/internal/model/chat"
	"github.com/mxfan/gemchat/backend/internal/security"
	"github.com/mxfan/gemchat/backend/internal/service/ai"
	chatservice "github.com/mxfan/gemchat/backend/internal/service/chat"
	streamservice "github.com/mxfan/gemchat/backend/internal/service/stream"
	"github.com/mxfan/gemchat/backend/pkg/sse"
)

// stubStreamer replays canned fragments and optionally fails afterwards.
type stubStreamer struct {
	fragments []ai.Fragment
	err       error

	gotHistory []modelchat.Message
	gotText    string
}

func (s *stubStreamer) Stream(ctx context.Context, history []modelchat.Message, newText string, attachments []modelchat.Attachment, modelName string, onFragment func(ai.Fragment)) error {
	s.gotHistory = history
	s.gotText = newText
	for _, frag := range s.fragments {
		onFragment(frag)
	}
	return s.err
}

func setup(streamer ai.Streamer) (*chi.Mux, *chatservice.Service) {
	store := chatservice.NewService(nil)
	store.Init(nil)
	acc := streamservice.New(store)
	limiters := security.NewLimiterRegistry(0)
	handler := New(streamer, store, acc, security.DefaultLimits(), limiters)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, store
}

func decodeEvents(t *testing.T, body *bytes.Buffer) ([]sse.Event, bool) {
	t.Helper()
	dec := sse.NewDecoder(body)
	var events []sse.Event
	for {
		event, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return events, true
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return events, false
		}
		if err != nil {
			t.Fatalf("decode event: %v", err)
		}
		events = append(events, event)
	}
}

func TestSessionStreamFullPipeline(t *testing.T) {
	streamer := &stubStreamer{fragments: []ai.Fragment{
		{Kind: ai.FragmentAnswer, Text: "Hi"},
		{Kind: ai.FragmentAnswer, Text: " there"},
	}}
	r, store := setup(streamer)
	session := store.CreateSession()

	payload, _ := json.Marshal(map[string]any{"text": "Hello"})
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+session.ID+"/stream", bytes.NewReader(payload))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event-stream content type, got %q", ct)
	}

	events, done := decodeEvents(t, resp.Body)
	if !done {
		t.Fatalf("stream did not terminate with [DONE]")
	}
	if len(events) != 2 || events[0].Text != "Hi" || events[1].Text != " there" {
		t.Fatalf("unexpected events: %+v", events)
	}

	got, _ := store.Session(session.ID)
	if got.Title != "Hello" {
		t.Fatalf("expected title derived from first message, got %q", got.Title)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("expected user + assistant messages, got %d", len(got.Messages))
	}
	assistant := got.Messages[1]
	if assistant.Text != "Hi there" {
		t.Fatalf("expected accumulated text %q, got %q", "Hi there", assistant.Text)
	}
	if assistant.Streaming {
		t.Fatalf("assistant message still marked streaming")
	}
	if streamer.gotText != "Hello" {
		t.Fatalf("streamer received text %q", streamer.gotText)
	}
	if len(streamer.gotHistory) != 0 {
		t.Fatalf("history should exclude the messages appended this turn, got %d", len(streamer.gotHistory))
	}
}

func TestSessionStreamReasoningFragments(t *testing.T) {
	streamer := &stubStreamer{fragments: []ai.Fragment{
		{Kind: ai.FragmentReasoning, Text: "pondering"},
		{Kind: ai.FragmentAnswer, Text: "answer"},
	}}
	r, store := setup(streamer)
	session := store.CreateSession()

	payload, _ := json.Marshal(map[string]any{"text": "question"})
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+session.ID+"/stream", bytes.NewReader(payload))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	events, done := decodeEvents(t, resp.Body)
	if !done {
		t.Fatalf("stream did not terminate with [DONE]")
	}
	if len(events) != 2 || events[0].Thought != "pondering" || events[1].Text != "answer" {
		t.Fatalf("unexpected events: %+v", events)
	}

	got, _ := store.Session(session.ID)
	assistant := got.Messages[1]
	if assistant.Thought != "pondering" || assistant.Text != "answer" {
		t.Fatalf("expected thought and text folded separately, got %+v", assistant)
	}
}

func TestSessionStreamUpstreamFailure(t *testing.T) {
	streamer := &stubStreamer{
		fragments: []ai.Fragment{{Kind: ai.FragmentAnswer, Text: "part"}},
		err:       errors.New("upstream exploded"),
	}
	r, store := setup(streamer)
	session := store.CreateSession()

	payload, _ := json.Marshal(map[string]any{"text": "Hello"})
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+session.ID+"/stream", bytes.NewReader(payload))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	events, done := decodeEvents(t, resp.Body)
	if done {
		t.Fatalf("failed stream must not emit [DONE]")
	}
	last := events[len(events)-1]
	if last.Error == "" {
		t.Fatalf("expected trailing error event, got %+v", last)
	}

	got, _ := store.Session(session.ID)
	assistant := got.Messages[1]
	if assistant.Text != streamservice.FailureText {
		t.Fatalf("expected failure text to replace partial output, got %q", assistant.Text)
	}
	if assistant.Streaming {
		t.Fatalf("failed message still marked streaming")
	}
}

func TestSessionStreamUnknownSession(t *testing.T) {
	r, _ := setup(&stubStreamer{})

	payload, _ := json.Marshal(map[string]any{"text": "Hello"})
	req := httptest.NewRequest(http.MethodPost, "/sessions/nope/stream", bytes.NewReader(payload))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestSessionStreamEmptyPayload(t *testing.T) {
	r, store := setup(&stubStreamer{})
	session := store.CreateSession()

	payload, _ := json.Marshal(map[string]any{"text": ""})
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+session.ID+"/stream", bytes.NewReader(payload))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if msgs := store.Messages(session.ID); len(msgs) != 0 {
		t.Fatalf("rejected send must not append messages, got %d", len(msgs))
	}
}

func TestSessionStreamOversizedText(t *testing.T) {
	r, store := setup(&stubStreamer{})
	session := store.CreateSession()

	payload, _ := json.Marshal(map[string]any{"text": strings.Repeat("x", 10001)})
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+session.ID+"/stream", bytes.NewReader(payload))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSessionStreamRateLimited(t *testing.T) {
	streamer := &stubStreamer{fragments: []ai.Fragment{{Kind: ai.FragmentAnswer, Text: "ok"}}}
	store := chatservice.NewService(nil)
	store.Init(nil)
	acc := streamservice.New(store)
	limiters := security.NewLimiterRegistry(time.Hour)
	handler := New(streamer, store, acc, security.DefaultLimits(), limiters)
	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	session := store.CreateSession()

	payload, _ := json.Marshal(map[string]any{"text": "first"})
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+session.ID+"/stream", bytes.NewReader(payload))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("first send should pass, got %d", resp.Code)
	}

	payload, _ = json.Marshal(map[string]any{"text": "second"})
	req = httptest.NewRequest(http.MethodPost, "/sessions/"+session.ID+"/stream", bytes.NewReader(payload))
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode 429 body: %v", err)
	}
	if _, ok := body["retryAfterMs"]; !ok {
		t.Fatalf("429 body missing retryAfterMs: %v", body)
	}
}

func TestProxyStreamStateless(t *testing.T) {
	streamer := &stubStreamer{fragments: []ai.Fragment{{Kind: ai.FragmentAnswer, Text: "pong"}}}
	r, store := setup(streamer)

	payload, _ := json.Marshal(map[string]any{
		"history": []map[string]any{
			{"role": "user", "text": "earlier"},
			{"role": "assistant", "text": "reply"},
		},
		"newMessage": "ping",
	})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(payload))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	events, done := decodeEvents(t, resp.Body)
	if !done {
		t.Fatalf("stream did not terminate with [DONE]")
	}
	if len(events) != 1 || events[0].Text != "pong" {
		t.Fatalf("unexpected events: %+v", events)
	}
	if len(streamer.gotHistory) != 2 {
		t.Fatalf("expected supplied history forwarded, got %d", len(streamer.gotHistory))
	}

	// The proxy never touches the store.
	for _, session := range store.Sessions() {
		if len(session.Messages) != 0 {
			t.Fatalf("proxy must not write sessions")
		}
	}
}

func TestProxyStreamMissingInput(t *testing.T) {
	r, _ := setup(&stubStreamer{})

	payload, _ := json.Marshal(map[string]any{"newMessage": ""})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(payload))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestProxyStreamErrorEvent(t *testing.T) {
	streamer := &stubStreamer{err: errors.New("model unavailable")}
	r, _ := setup(streamer)

	payload, _ := json.Marshal(map[string]any{"newMessage": "hi"})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(payload))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	events, done := decodeEvents(t, resp.Body)
	if done {
		t.Fatalf("failed proxy stream must not emit [DONE]")
	}
	if len(events) != 1 || events[0].Error == "" {
		t.Fatalf("expected one error event, got %+v", events)
	}
}
