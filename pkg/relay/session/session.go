package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/moversbe/eva-gateway/pkg/relay/protocol"
	"github.com/moversbe/eva-gateway/pkg/relay/upstream"
)

// TranscriptSink receives finalized transcript lines as they arrive.
type TranscriptSink interface {
	Append(callID, speaker, text string)
}

// UpstreamConn is the slice of the realtime connection the relay uses.
type UpstreamConn interface {
	AppendAudio(ctx context.Context, audioB64 string) error
	CommitInput(ctx context.Context) error
	ClearInput(ctx context.Context) error
	CreateTextItem(ctx context.Context, text, previousItemID string) error
	CreateResponse(ctx context.Context) error
	CancelResponse(ctx context.Context) error
	TruncateItem(ctx context.Context, itemID string, audioEndMS int64) error
	Events() <-chan upstream.Event
	Close() error
	FailureReason() string
}

type clientConn interface {
	wsWriter
	ReadMessage() (messageType int, data []byte, err error)
	SetReadLimit(limit int64)
}

// Metrics is the session's reporting surface. A nil Metrics disables
// reporting.
type Metrics interface {
	AudioForwarded(direction string)
	InterruptionAccepted()
	TruncationSent()
}

type Config struct {
	CallID          string
	Greeting        string
	EchoGuard       time.Duration
	GreetingProtect time.Duration
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	ReadLimit       int64
	Logger          *slog.Logger
	Metrics         Metrics

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// Session relays one browser connection against one realtime
// connection. A reader goroutine feeds inbound frames to the main
// loop, which also consumes upstream events; an outbound writer
// goroutine owns all browser writes.
type Session struct {
	cfg         Config
	client      clientConn
	up          UpstreamConn
	transcripts TranscriptSink
	tracker     *turnTracker
	logger      *slog.Logger
	now         func() time.Time

	mu               sync.Mutex
	activeResponseID string
	canceled         map[string]struct{}
}

func New(client clientConn, up UpstreamConn, transcripts TranscriptSink, cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("call_id", cfg.CallID)
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Session{
		cfg:         cfg,
		client:      client,
		up:          up,
		transcripts: transcripts,
		tracker:     newTurnTracker(cfg.EchoGuard, cfg.GreetingProtect),
		logger:      logger,
		now:         now,
		canceled:    make(map[string]struct{}),
	}
}

// Run drives the relay until the browser disconnects, the upstream
// closes, or ctx is canceled.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.cfg.ReadLimit > 0 {
		s.client.SetReadLimit(s.cfg.ReadLimit)
	}

	readCh := make(chan []byte, 64)
	go s.readLoop(ctx, readCh)

	priorityCh := make(chan outboundFrame, 16)
	normalCh := make(chan outboundFrame, 256)
	writer := &outboundWriter{
		ws:           s.client,
		ctx:          ctx,
		writeTimeout: s.cfg.WriteTimeout,
		pingInterval: s.cfg.PingInterval,
		priority:     priorityCh,
		normal:       normalCh,
		isCanceled:   s.responseCanceled,
	}
	writerErrCh := make(chan error, 1)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := writer.Run(); err != nil {
			writerErrCh <- err
		}
	}()
	defer func() {
		cancel()
		_ = s.up.Close()
		<-writerDone
	}()

	sendPriority := func(payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		select {
		case priorityCh <- outboundFrame{payload: data}:
		case <-ctx.Done():
		}
	}
	sendAudio := func(responseID string, payload []byte) {
		select {
		case normalCh <- outboundFrame{payload: payload, isAssistantAudio: true, responseID: responseID}:
		case <-ctx.Done():
		}
	}

	events := s.up.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-writerErrCh:
			s.logger.Warn("client write failed", "error", err)
			return err

		case data, ok := <-readCh:
			if !ok {
				s.logger.Info("client disconnected")
				return nil
			}
			if err := s.handleClientMessage(ctx, data); err != nil {
				s.logger.Warn("upstream write failed", "error", err, "reason", s.up.FailureReason())
				return err
			}

		case event, ok := <-events:
			if !ok {
				s.logger.Info("upstream closed", "reason", s.up.FailureReason())
				return nil
			}
			s.handleUpstreamEvent(ctx, event, sendPriority, sendAudio)
		}
	}
}

func (s *Session) readLoop(ctx context.Context, readCh chan<- []byte) {
	defer close(readCh)
	for {
		_, data, err := s.client.ReadMessage()
		if err != nil {
			return
		}
		select {
		case readCh <- data:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) handleClientMessage(ctx context.Context, data []byte) error {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		// Malformed frames are dropped; the session stays up.
		s.logger.Warn("dropping client frame", "error", err)
		return nil
	}

	switch m := msg.(type) {
	case protocol.ClientStart:
		s.tracker.StartRecording()
		s.logger.Info("recording started")
		// Stale uncommitted audio from a previous segment must not leak
		// into this one.
		if err := s.up.ClearInput(ctx); err != nil {
			return err
		}
		if s.cfg.Greeting != "" {
			if err := s.up.CreateTextItem(ctx, s.cfg.Greeting, s.tracker.LastAssistantItemID()); err != nil {
				return err
			}
			if err := s.up.CreateResponse(ctx); err != nil {
				return err
			}
		}
	case protocol.ClientStop:
		s.tracker.StopRecording()
		s.logger.Info("recording stopped")
		if err := s.up.CommitInput(ctx); err != nil {
			return err
		}
	case protocol.ClientAudio:
		// Audio is forwarded whenever the upstream is open; the
		// browser only captures between start and stop, and the
		// server-side VAD decides what counts as speech.
		s.tracker.ObserveClientAudio(m.TimestampMS)
		if err := s.up.AppendAudio(ctx, m.AudioB64); err != nil {
			return err
		}
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.AudioForwarded("inbound")
		}
	}
	return nil
}

func (s *Session) handleUpstreamEvent(ctx context.Context, event upstream.Event, sendPriority func(any), sendAudio func(string, []byte)) {
	switch ev := event.(type) {
	case upstream.AudioDelta:
		if s.responseCanceled(ev.ResponseID) {
			return
		}
		s.setActiveResponse(ev.ResponseID)
		if started := s.tracker.ObserveAudioDelta(ev.ItemID, s.now()); started {
			s.logger.Debug("assistant response started", "item_id", ev.ItemID, "response_id", ev.ResponseID)
		}
		data, err := json.Marshal(protocol.NewServerAudio(ev.AudioB64))
		if err != nil {
			return
		}
		sendAudio(ev.ResponseID, data)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.AudioForwarded("outbound")
		}

	case upstream.ResponseDone:
		s.tracker.ObserveResponseDone()

	case upstream.SpeechStarted:
		intr, ok := s.tracker.DecideInterrupt(s.now())
		if !ok {
			return
		}
		s.logger.Info("caller barge-in", "item_id", intr.ItemID, "audio_end_ms", intr.AudioEndMS)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.InterruptionAccepted()
		}
		if intr.ItemID != "" {
			if err := s.up.TruncateItem(ctx, intr.ItemID, intr.AudioEndMS); err != nil {
				s.logger.Warn("truncate failed", "error", err)
			} else if s.cfg.Metrics != nil {
				s.cfg.Metrics.TruncationSent()
			}
		}
		if err := s.up.CancelResponse(ctx); err != nil {
			s.logger.Warn("response cancel failed", "error", err)
		}
		s.markActiveResponseCanceled()
		sendPriority(protocol.NewServerClear())

	case upstream.AssistantTranscriptDone:
		if s.transcripts != nil {
			s.transcripts.Append(s.cfg.CallID, "ASSISTANT", ev.Text)
		}

	case upstream.UserTranscriptDone:
		if s.transcripts != nil {
			s.transcripts.Append(s.cfg.CallID, "USER", ev.Text)
		}

	case upstream.SpeechStopped:
		s.logger.Debug("caller speech stopped")

	case upstream.SessionCreated:
		s.logger.Info("upstream session ready", "session_id", ev.SessionID)

	case upstream.ServerError:
		s.logger.Warn("upstream error", "code", ev.Code, "message", ev.Message)
		sendPriority(protocol.NewServerError("upstream_error", ev.Message))
	}
}

func (s *Session) setActiveResponse(responseID string) {
	if responseID == "" {
		return
	}
	s.mu.Lock()
	s.activeResponseID = responseID
	s.mu.Unlock()
}

func (s *Session) markActiveResponseCanceled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeResponseID == "" {
		return
	}
	s.canceled[s.activeResponseID] = struct{}{}
}

func (s *Session) responseCanceled(responseID string) bool {
	if responseID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.canceled[responseID]
	return ok
}
