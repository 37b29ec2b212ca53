package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultRealtimeWSBase = "wss://api.openai.com/v1/realtime"

type Config struct {
	APIKey    string
	BaseWSURL string
	Model     string
}

// SessionConfig is sent as a session.update immediately after dialing.
type SessionConfig struct {
	Voice              string
	Instructions       string
	Temperature        float64
	SilenceDurationMS  int
	TranscriptionModel string
}

// Conn is a live connection to the realtime speech API. One writer
// mutex guards all outbound control messages; a read loop decodes
// server events onto the Events channel until the socket closes.
type Conn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	errMu   sync.Mutex

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once

	lastServerError string
	lastClose       string
}

func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("realtime api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("realtime model is required")
	}
	wsURL, err := buildRealtimeWSURL(strings.TrimSpace(cfg.BaseWSURL), strings.TrimSpace(cfg.Model))
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+strings.TrimSpace(cfg.APIKey))
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, err
	}
	out := &Conn{
		conn:   conn,
		events: make(chan Event, 256),
		closed: make(chan struct{}),
	}

	go out.readLoop()
	return out, nil
}

// Configure applies session settings: server VAD, pcm16 in both
// directions, input transcription, voice and persona.
func (c *Conn) Configure(ctx context.Context, cfg SessionConfig) error {
	silenceMS := cfg.SilenceDurationMS
	if silenceMS <= 0 {
		silenceMS = 800
	}
	transcription := strings.TrimSpace(cfg.TranscriptionModel)
	if transcription == "" {
		transcription = "whisper-1"
	}
	return c.writeJSON(ctx, map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"turn_detection": map[string]any{
				"type":                "server_vad",
				"silence_duration_ms": silenceMS,
			},
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
			"input_audio_transcription": map[string]any{
				"model": transcription,
			},
			"voice":        cfg.Voice,
			"instructions": cfg.Instructions,
			"modalities":   []string{"text", "audio"},
			"temperature":  cfg.Temperature,
		},
	})
}

// AppendAudio forwards one base64 chunk of caller audio into the input
// buffer.
func (c *Conn) AppendAudio(ctx context.Context, audioB64 string) error {
	return c.writeJSON(ctx, map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": audioB64,
	})
}

// CommitInput closes out the current input buffer as a completed user
// turn.
func (c *Conn) CommitInput(ctx context.Context) error {
	return c.writeJSON(ctx, map[string]any{"type": "input_audio_buffer.commit"})
}

// ClearInput drops any uncommitted caller audio.
func (c *Conn) ClearInput(ctx context.Context) error {
	return c.writeJSON(ctx, map[string]any{"type": "input_audio_buffer.clear"})
}

// CreateTextItem injects a text conversation item. previousItemID may
// be empty; when set the item threads after that item.
func (c *Conn) CreateTextItem(ctx context.Context, text, previousItemID string) error {
	msg := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	}
	if strings.TrimSpace(previousItemID) != "" {
		msg["previous_item_id"] = previousItemID
	}
	return c.writeJSON(ctx, msg)
}

// CreateResponse asks the model to start generating a reply.
func (c *Conn) CreateResponse(ctx context.Context) error {
	return c.writeJSON(ctx, map[string]any{"type": "response.create"})
}

// CancelResponse aborts the in-flight response generation.
func (c *Conn) CancelResponse(ctx context.Context) error {
	return c.writeJSON(ctx, map[string]any{"type": "response.cancel"})
}

// TruncateItem trims a spoken assistant item to the audio the caller
// actually heard.
func (c *Conn) TruncateItem(ctx context.Context, itemID string, audioEndMS int64) error {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return fmt.Errorf("item id is required")
	}
	if audioEndMS < 0 {
		audioEndMS = 0
	}
	return c.writeJSON(ctx, map[string]any{
		"type":          "conversation.item.truncate",
		"item_id":       itemID,
		"content_index": 0,
		"audio_end_ms":  audioEndMS,
	})
}

// Events yields decoded server events. The channel closes when the
// connection does.
func (c *Conn) Events() <-chan Event {
	if c == nil {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	return c.events
}

func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		close(c.closed)
		c.setLastClose("closed")
		_ = c.conn.Close()
	})
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				c.setLastClose(fmt.Sprintf("code=%d msg=%s", closeErr.Code, strings.TrimSpace(closeErr.Text)))
			} else {
				c.setLastClose(strings.TrimSpace(err.Error()))
			}
			return
		}

		var msg map[string]json.RawMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		event := decodeServerEvent(msg)
		if event == nil {
			continue
		}
		if serverErr, ok := event.(ServerError); ok {
			c.setLastServerError(serverErr.Message)
		}

		select {
		case c.events <- event:
		case <-c.closed:
			return
		}
	}
}

func decodeServerEvent(msg map[string]json.RawMessage) Event {
	switch decodeString(msg["type"]) {
	case "response.audio.delta":
		delta := decodeString(msg["delta"])
		if delta == "" {
			return nil
		}
		return AudioDelta{
			ItemID:     decodeString(msg["item_id"]),
			ResponseID: decodeString(msg["response_id"]),
			AudioB64:   delta,
		}
	case "response.audio_transcript.done":
		text := decodeString(msg["transcript"])
		if text == "" {
			return nil
		}
		return AssistantTranscriptDone{Text: text}
	case "conversation.item.input_audio_transcription.completed":
		text := decodeString(msg["transcript"])
		if text == "" {
			return nil
		}
		return UserTranscriptDone{Text: text}
	case "input_audio_buffer.speech_started":
		return SpeechStarted{AudioStartMS: decodeInt64(msg["audio_start_ms"])}
	case "input_audio_buffer.speech_stopped":
		return SpeechStopped{}
	case "response.done":
		return ResponseDone{ResponseID: decodeResponseID(msg["response"])}
	case "session.created":
		return SessionCreated{SessionID: decodeSessionID(msg["session"])}
	case "error":
		code, message := decodeErrorBody(msg["error"])
		if message == "" {
			message = "upstream error"
		}
		return ServerError{Code: code, Message: message}
	default:
		return nil
	}
}

func (c *Conn) writeJSON(ctx context.Context, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	}
	if err := c.conn.WriteJSON(payload); err != nil {
		reason := strings.TrimSpace(c.FailureReason())
		if reason == "" {
			return err
		}
		return fmt.Errorf("%w (realtime %s)", err, reason)
	}
	return nil
}

func buildRealtimeWSURL(base, model string) (string, error) {
	if strings.TrimSpace(base) == "" {
		base = defaultRealtimeWSBase
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid realtime ws base url: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/v1/realtime"
	}
	q := u.Query()
	if q.Get("model") == "" {
		q.Set("model", model)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func decodeString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var out string
	if err := json.Unmarshal(raw, &out); err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

func decodeInt64(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var out int64
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0
	}
	return out
}

func decodeResponseID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return ""
	}
	return strings.TrimSpace(out.ID)
}

func decodeSessionID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return ""
	}
	return strings.TrimSpace(out.ID)
}

func decodeErrorBody(raw json.RawMessage) (code, message string) {
	if len(raw) == 0 {
		return "", ""
	}
	var out struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", ""
	}
	return strings.TrimSpace(out.Code), strings.TrimSpace(out.Message)
}

func (c *Conn) setLastServerError(msg string) {
	if c == nil {
		return
	}
	msg = sanitizeReason(msg)
	if msg == "" {
		return
	}
	c.errMu.Lock()
	c.lastServerError = msg
	c.errMu.Unlock()
}

func (c *Conn) setLastClose(msg string) {
	if c == nil {
		return
	}
	msg = sanitizeReason(msg)
	if msg == "" {
		return
	}
	c.errMu.Lock()
	c.lastClose = msg
	c.errMu.Unlock()
}

// FailureReason summarizes the last server error and close frame for
// the session's close report.
func (c *Conn) FailureReason() string {
	if c == nil {
		return ""
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	parts := make([]string, 0, 2)
	if strings.TrimSpace(c.lastServerError) != "" {
		parts = append(parts, "server_error="+c.lastServerError)
	}
	if strings.TrimSpace(c.lastClose) != "" {
		parts = append(parts, "close="+c.lastClose)
	}
	return strings.Join(parts, " ")
}

func sanitizeReason(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return ""
	}
	msg = strings.ReplaceAll(msg, "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.Join(strings.Fields(msg), " ")
	if len(msg) > 300 {
		msg = msg[:300] + "…"
	}
	return msg
}
