package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/moversbe/eva-gateway/pkg/gateway/config"
	"github.com/moversbe/eva-gateway/pkg/gateway/lifecycle"
	"github.com/moversbe/eva-gateway/pkg/relay/session"
	"github.com/moversbe/eva-gateway/pkg/relay/upstream"
)

type fakeUpstream struct {
	mu      sync.Mutex
	appends []string
	commits int

	events    chan upstream.Event
	closeOnce sync.Once
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{events: make(chan upstream.Event, 16)}
}

func (f *fakeUpstream) AppendAudio(ctx context.Context, audioB64 string) error {
	f.mu.Lock()
	f.appends = append(f.appends, audioB64)
	f.mu.Unlock()
	return nil
}

func (f *fakeUpstream) CommitInput(ctx context.Context) error {
	f.mu.Lock()
	f.commits++
	f.mu.Unlock()
	return nil
}

func (f *fakeUpstream) ClearInput(ctx context.Context) error { return nil }

func (f *fakeUpstream) CreateTextItem(ctx context.Context, text, previousItemID string) error {
	return nil
}

func (f *fakeUpstream) CreateResponse(ctx context.Context) error { return nil }
func (f *fakeUpstream) CancelResponse(ctx context.Context) error { return nil }

func (f *fakeUpstream) TruncateItem(ctx context.Context, itemID string, audioEndMS int64) error {
	return nil
}

func (f *fakeUpstream) Events() <-chan upstream.Event { return f.events }

func (f *fakeUpstream) Close() error {
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeUpstream) FailureReason() string { return "" }

func (f *fakeUpstream) appendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appends)
}

func relayTestConfig() config.Config {
	return config.Config{
		OpenAIAPIKey:      "sk-test",
		HandshakeTimeout:  5 * time.Second,
		WSWriteTimeout:    5 * time.Second,
		WSPingInterval:    20 * time.Second,
		WSReadLimit:       1 << 20,
		EchoGuardWindow:   350 * time.Millisecond,
		CompletionTimeout: 5 * time.Second,
	}
}

func TestCallHandler_RelaySmoke(t *testing.T) {
	logger, store, _ := newCallLogFixture(t)
	fake := newFakeUpstream()

	h := CallHandler{
		Config:    relayTestConfig(),
		Lifecycle: &lifecycle.Lifecycle{},
		CallLog:   logger,
		DialUpstream: func(ctx context.Context) (session.UpstreamConn, error) {
			return fake, nil
		},
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"start"}`)); err != nil {
		t.Fatalf("write start: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"audio","audio":"AAAA","timestamp":100}`)); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	waitForCondition(t, func() bool { return fake.appendCount() == 1 }, "audio forwarded upstream")

	fake.events <- upstream.UserTranscriptDone{Text: "Hello."}
	fake.events <- upstream.AudioDelta{ItemID: "item_1", ResponseID: "resp_1", AudioB64: "UklG"}
	fake.events <- upstream.AssistantTranscriptDone{Text: "Hi, how can I help?"}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var audioFrame struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}
	if err := json.Unmarshal(frame, &audioFrame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if audioFrame.Type != "audio" || audioFrame.Audio != "UklG" {
		t.Fatalf("frame=%+v", audioFrame)
	}

	conn.Close()

	// Teardown finalizes the call in the background.
	waitForCondition(t, func() bool {
		result, err := store.List()
		return err == nil && len(result.Records) == 1
	}, "call artifact written")

	result, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	summary := result.Records[0]
	if summary.EntryCount != 2 {
		t.Fatalf("entry count=%d", summary.EntryCount)
	}
	if summary.SummaryText != "Caller asked about a move." {
		t.Fatalf("summary=%q", summary.SummaryText)
	}
}

func TestCallHandler_DrainingRejectsUpgrade(t *testing.T) {
	logger, _, _ := newCallLogFixture(t)
	lc := &lifecycle.Lifecycle{}
	lc.SetDraining(true)

	h := CallHandler{Config: relayTestConfig(), Lifecycle: lc, CallLog: logger}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestCallHandler_DisallowedOriginIs403(t *testing.T) {
	logger, _, _ := newCallLogFixture(t)
	cfg := relayTestConfig()
	cfg.AllowedOrigins = map[string]struct{}{"https://app.example.com": {}}

	h := CallHandler{Config: cfg, Lifecycle: &lifecycle.Lifecycle{}, CallLog: logger}
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestCallHandler_NonGETIs405(t *testing.T) {
	logger, _, _ := newCallLogFixture(t)
	h := CallHandler{Config: relayTestConfig(), Lifecycle: &lifecycle.Lifecycle{}, CallLog: logger}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/ws", nil))

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rr.Code)
	}
}

func waitForCondition(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
