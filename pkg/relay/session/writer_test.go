package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordedWrite struct {
	messageType int
	data        string
}

type fakeWSWriter struct {
	mu     sync.Mutex
	writes []recordedWrite
}

func (f *fakeWSWriter) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWSWriter) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, recordedWrite{messageType: messageType, data: string(data)})
	return nil
}

func (f *fakeWSWriter) WriteControl(messageType int, data []byte, deadline time.Time) error {
	_ = deadline
	return f.WriteMessage(messageType, data)
}

func (f *fakeWSWriter) Close() error { return nil }

func (f *fakeWSWriter) snapshot() []recordedWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedWrite, len(f.writes))
	copy(out, f.writes)
	return out
}

func TestOutboundWriter_PriorityBeatsNormal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	priority := make(chan outboundFrame, 1)
	normal := make(chan outboundFrame, 1)

	normal <- outboundFrame{
		isAssistantAudio: true,
		responseID:       "resp_1",
		payload:          []byte(`{"type":"audio","audio":"AAAA"}`),
	}
	priority <- outboundFrame{
		payload: []byte(`{"type":"clear"}`),
	}
	close(priority)
	close(normal)

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:           ws,
		ctx:          ctx,
		pingInterval: time.Hour,
		writeTimeout: time.Second,
		priority:     priority,
		normal:       normal,
	}

	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	writes := ws.snapshot()
	if len(writes) == 0 {
		t.Fatalf("expected at least one write")
	}
	if !strings.Contains(writes[0].data, `"type":"clear"`) {
		t.Fatalf("first write was not clear: %q", writes[0].data)
	}
}

func TestOutboundWriter_CanceledResponseAudioDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	priority := make(chan outboundFrame, 1)
	normal := make(chan outboundFrame, 8)

	normal <- outboundFrame{isAssistantAudio: true, responseID: "resp_1", payload: []byte(`{"type":"audio","audio":"AAAA"}`)}
	normal <- outboundFrame{isAssistantAudio: true, responseID: "resp_1", payload: []byte(`{"type":"audio","audio":"BBBB"}`)}

	close(priority)
	close(normal)

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:           ws,
		ctx:          ctx,
		pingInterval: time.Hour,
		writeTimeout: time.Second,
		priority:     priority,
		normal:       normal,
		isCanceled: func(id string) bool {
			return id == "resp_1"
		},
	}

	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if writes := ws.snapshot(); len(writes) != 0 {
		t.Fatalf("expected zero writes, got %d: %+v", len(writes), writes)
	}
}

func TestOutboundWriter_NonAudioUnaffectedByCancelSet(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	priority := make(chan outboundFrame, 1)
	normal := make(chan outboundFrame, 8)

	normal <- outboundFrame{payload: []byte(`{"type":"error","code":"x","message":"y"}`)}

	close(priority)
	close(normal)

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:           ws,
		ctx:          ctx,
		pingInterval: time.Hour,
		writeTimeout: time.Second,
		priority:     priority,
		normal:       normal,
		isCanceled: func(string) bool {
			return true
		},
	}

	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if writes := ws.snapshot(); len(writes) != 1 {
		t.Fatalf("expected 1 write, got %d: %+v", len(writes), writes)
	}
}

func TestOutboundWriter_CancelWakesIdleWriter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// Both channels stay open and empty so the writer is parked in
	// its blocking select; the hour-long ping interval guarantees the
	// ticker cannot be what wakes it.
	priority := make(chan outboundFrame)
	normal := make(chan outboundFrame)

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:           ws,
		ctx:          ctx,
		pingInterval: time.Hour,
		writeTimeout: time.Second,
		priority:     priority,
		normal:       normal,
	}

	done := make(chan error, 1)
	go func() { done <- w.Run() }()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not stop after cancel")
	}
}

func TestOutboundWriter_FlushesPriorityOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	priority := make(chan outboundFrame, 1)
	normal := make(chan outboundFrame, 1)

	priority <- outboundFrame{payload: []byte(`{"type":"clear"}`)}
	close(priority)
	close(normal)

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:           ws,
		ctx:          ctx,
		pingInterval: time.Hour,
		writeTimeout: time.Second,
		priority:     priority,
		normal:       normal,
	}

	cancel()
	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	writes := ws.snapshot()
	if len(writes) == 0 || !strings.Contains(writes[0].data, `"type":"clear"`) {
		t.Fatalf("expected clear to flush on shutdown, writes=%+v", writes)
	}
}
