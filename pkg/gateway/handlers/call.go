package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/moversbe/eva-gateway/pkg/calllog"
	"github.com/moversbe/eva-gateway/pkg/gateway/config"
	"github.com/moversbe/eva-gateway/pkg/gateway/lifecycle"
	"github.com/moversbe/eva-gateway/pkg/gateway/metrics"
	"github.com/moversbe/eva-gateway/pkg/notify"
	"github.com/moversbe/eva-gateway/pkg/relay/protocol"
	"github.com/moversbe/eva-gateway/pkg/relay/session"
	"github.com/moversbe/eva-gateway/pkg/relay/upstream"
)

// DialFunc opens and configures a realtime upstream connection.
type DialFunc func(ctx context.Context) (session.UpstreamConn, error)

// CallHandler handles /ws relay sessions. Each connection becomes one
// call: it gets a call log, an upstream realtime connection, and a
// relay session; when the browser disconnects, summarization runs in
// the background.
type CallHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
	Metrics   *metrics.Metrics
	CallLog   *calllog.Logger
	Notifier  notify.Sender

	// DialUpstream is overridable for tests.
	DialUpstream DialFunc
}

func (h CallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if h.Lifecycle.IsDraining() {
		writeError(w, r, http.StatusServiceUnavailable, "draining", "gateway is draining")
		return
	}
	if !h.originAllowed(r) {
		writeError(w, r, http.StatusForbidden, "origin_forbidden", "origin is not allowed")
		return
	}

	upgrader := websocket.Upgrader{
		HandshakeTimeout: h.Config.HandshakeTimeout,
		CheckOrigin:      func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	callID, err := h.CallLog.StartCall(r.RemoteAddr)
	if err != nil {
		logger.Error("start call failed", "error", err)
		h.writeWSError(conn, "internal", "failed to start call")
		return
	}
	logger = logger.With("call_id", callID)

	dialCtx, cancelDial := context.WithTimeout(r.Context(), h.Config.HandshakeTimeout)
	up, err := h.dialUpstream(dialCtx)
	cancelDial()
	if err != nil {
		logger.Error("upstream dial failed", "error", err)
		h.writeWSError(conn, "upstream_unavailable", "failed to reach speech service")
		h.finishCall(logger, callID, "upstream_error", 0)
		return
	}

	h.Lifecycle.CallStarted()
	defer h.Lifecycle.CallEnded()
	if h.Metrics != nil {
		h.Metrics.RecordCallStart()
	}

	startAt := time.Now()
	logger.Info("call started", "remote_addr", r.RemoteAddr)

	var sessionMetrics session.Metrics
	if h.Metrics != nil {
		sessionMetrics = h.Metrics
	}
	s := session.New(conn, up, h.CallLog, session.Config{
		CallID:          callID,
		Greeting:        h.Config.Greeting,
		EchoGuard:       h.Config.EchoGuardWindow,
		GreetingProtect: h.Config.GreetingProtect,
		WriteTimeout:    h.Config.WSWriteTimeout,
		PingInterval:    h.Config.WSPingInterval,
		ReadLimit:       h.Config.WSReadLimit,
		Logger:          logger,
		Metrics:         sessionMetrics,
	})

	status := "completed"
	if err := s.Run(r.Context()); err != nil && r.Context().Err() == nil {
		logger.Warn("relay session ended with error", "error", err)
		status = "error"
	}

	h.finishCall(logger, callID, status, time.Since(startAt))
}

// finishCall kicks off summarization and reports the outcome without
// holding the websocket handler open.
func (h CallHandler) finishCall(logger *slog.Logger, callID, status string, duration time.Duration) {
	if h.Metrics != nil && duration > 0 {
		h.Metrics.RecordCallEnd(status, duration)
	}
	results := h.CallLog.EndCallAsync(callID)
	go func() {
		res := <-results
		if res.Err != nil {
			if h.Metrics != nil {
				h.Metrics.RecordSummary("error")
			}
			return
		}
		if h.Metrics != nil {
			h.Metrics.RecordSummary("ok")
		}
		h.notifySummary(logger, res.Summary)
	}()
}

func (h CallHandler) notifySummary(logger *slog.Logger, summary *calllog.Summary) {
	if h.Notifier == nil || summary == nil || !h.Config.WhatsAppEnabled() {
		return
	}
	body := fmt.Sprintf("Call %s ended after %.0fs (%d lines).\n%s",
		summary.CallID, summary.DurationSeconds, summary.EntryCount, summary.SummaryText)
	ctx, cancel := context.WithTimeout(context.Background(), h.Config.CompletionTimeout)
	defer cancel()
	if err := h.Notifier.SendText(ctx, h.Config.WhatsAppNotifyTo, body); err != nil {
		logger.Warn("summary notification failed", "error", err)
	}
}

func (h CallHandler) dialUpstream(ctx context.Context) (session.UpstreamConn, error) {
	if h.DialUpstream != nil {
		return h.DialUpstream(ctx)
	}
	conn, err := upstream.Dial(ctx, upstream.Config{
		APIKey:    h.Config.OpenAIAPIKey,
		BaseWSURL: h.Config.RealtimeURL,
		Model:     h.Config.RealtimeModel,
	})
	if err != nil {
		return nil, err
	}
	if err := conn.Configure(ctx, upstream.SessionConfig{
		Voice:             h.Config.Voice,
		Instructions:      h.Config.Instructions,
		Temperature:       h.Config.Temperature,
		SilenceDurationMS: int(h.Config.VADSilence / time.Millisecond),
	}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (h CallHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.AllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.AllowedOrigins[origin]
	return ok
}

func (h CallHandler) writeWSError(conn *websocket.Conn, code, message string) {
	_ = conn.WriteJSON(protocol.NewServerError(code, message))
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message),
		time.Now().Add(2*time.Second))
}
