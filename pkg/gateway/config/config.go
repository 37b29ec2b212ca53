package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultInstructions is the receptionist persona sent to the realtime
// API when EVA_INSTRUCTIONS is not set.
const DefaultInstructions = "You are Eva, the friendly phone receptionist for The Moving Company " +
	"(Movers.be). Greet callers warmly, answer questions about moving services, " +
	"and collect the details needed for a quote: the caller's name, where they " +
	"are moving from and to, how many rooms, whether a lift is needed, and any " +
	"special requirements. Keep answers short and conversational."

// DefaultGreeting is the line Eva opens the call with.
const DefaultGreeting = "Hi, I'm Eva, how can I help you?"

type Config struct {
	Addr string

	// Realtime speech API upstream.
	OpenAIAPIKey  string
	RealtimeURL   string
	RealtimeModel string
	Voice         string
	Instructions  string
	Greeting      string
	Temperature   float64

	// Server-side voice activity detection.
	VADSilence time.Duration

	// Barge-in policy.
	EchoGuardWindow time.Duration
	GreetingProtect time.Duration // 0 => disabled

	// Post-call summarization.
	SummaryModel         string
	SummaryMaxTokens     int
	StructuredMaxTokens  int
	MinTranscriptEntries int
	CompletionTimeout    time.Duration

	// Storage directories.
	CallLogDir string
	MovingDir  string

	// CORS / WS origin allowlist (empty => same-origin only for WS, CORS disabled).
	AllowedOrigins map[string]struct{}

	// WebSocket tuning.
	WSReadLimit      int64
	WSWriteTimeout   time.Duration
	WSPingInterval   time.Duration
	HandshakeTimeout time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration

	// Optional WhatsApp notification of completed call summaries.
	WhatsAppToken    string
	WhatsAppPhoneID  string
	WhatsAppNotifyTo string

	LogLevel string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                 envOr("EVA_ADDR", ":8080"),
		OpenAIAPIKey:         strings.TrimSpace(os.Getenv("EVA_OPENAI_API_KEY")),
		RealtimeURL:          envOr("EVA_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		RealtimeModel:        envOr("EVA_REALTIME_MODEL", "gpt-4o-realtime-preview-2024-10-01"),
		Voice:                envOr("EVA_VOICE", "shimmer"),
		Instructions:         envOr("EVA_INSTRUCTIONS", DefaultInstructions),
		Greeting:             envOr("EVA_GREETING", DefaultGreeting),
		Temperature:          envFloat64Or("EVA_TEMPERATURE", 0.6),
		VADSilence:           envDurationOr("EVA_VAD_SILENCE", 800*time.Millisecond),
		EchoGuardWindow:      envDurationOr("EVA_ECHO_GUARD_WINDOW", 350*time.Millisecond),
		GreetingProtect:      envDurationOr("EVA_GREETING_PROTECT", 0),
		SummaryModel:         envOr("EVA_SUMMARY_MODEL", "gpt-4o-mini"),
		SummaryMaxTokens:     envIntOr("EVA_SUMMARY_MAX_TOKENS", 300),
		StructuredMaxTokens:  envIntOr("EVA_STRUCTURED_MAX_TOKENS", 200),
		MinTranscriptEntries: envIntOr("EVA_MIN_TRANSCRIPT_ENTRIES", 2),
		CompletionTimeout:    envDurationOr("EVA_COMPLETION_TIMEOUT", 30*time.Second),
		CallLogDir:           envOr("EVA_CALL_LOG_DIR", "call_log"),
		MovingDir:            envOr("EVA_MOVING_DIR", "moving_requests"),
		AllowedOrigins:       make(map[string]struct{}),
		WSReadLimit:          envInt64Or("EVA_WS_READ_LIMIT", 1<<20), // 1 MiB
		WSWriteTimeout:       envDurationOr("EVA_WS_WRITE_TIMEOUT", 5*time.Second),
		WSPingInterval:       envDurationOr("EVA_WS_PING_INTERVAL", 20*time.Second),
		HandshakeTimeout:     envDurationOr("EVA_HANDSHAKE_TIMEOUT", 10*time.Second),
		ReadHeaderTimeout:    envDurationOr("EVA_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:          envDurationOr("EVA_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:  envDurationOr("EVA_SHUTDOWN_GRACE_PERIOD", 15*time.Second),
		WhatsAppToken:        strings.TrimSpace(os.Getenv("EVA_WHATSAPP_TOKEN")),
		WhatsAppPhoneID:      strings.TrimSpace(os.Getenv("EVA_WHATSAPP_PHONE_ID")),
		WhatsAppNotifyTo:     strings.TrimSpace(os.Getenv("EVA_WHATSAPP_NOTIFY_TO")),
		LogLevel:             envOr("EVA_LOG_LEVEL", "info"),
	}

	for _, origin := range splitCSV(os.Getenv("EVA_ALLOWED_ORIGINS")) {
		cfg.AllowedOrigins[origin] = struct{}{}
	}

	if cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("EVA_OPENAI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.RealtimeURL) == "" {
		return Config{}, fmt.Errorf("EVA_REALTIME_URL must not be empty")
	}
	if strings.TrimSpace(cfg.RealtimeModel) == "" {
		return Config{}, fmt.Errorf("EVA_REALTIME_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.Voice) == "" {
		return Config{}, fmt.Errorf("EVA_VOICE must not be empty")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return Config{}, fmt.Errorf("EVA_TEMPERATURE must be in [0, 2]")
	}
	if cfg.VADSilence <= 0 {
		return Config{}, fmt.Errorf("EVA_VAD_SILENCE must be > 0")
	}
	if cfg.EchoGuardWindow < 300*time.Millisecond || cfg.EchoGuardWindow > 500*time.Millisecond {
		return Config{}, fmt.Errorf("EVA_ECHO_GUARD_WINDOW must be between 300ms and 500ms")
	}
	if cfg.GreetingProtect < 0 {
		return Config{}, fmt.Errorf("EVA_GREETING_PROTECT must be >= 0")
	}
	if strings.TrimSpace(cfg.SummaryModel) == "" {
		return Config{}, fmt.Errorf("EVA_SUMMARY_MODEL must not be empty")
	}
	if cfg.SummaryMaxTokens <= 0 {
		return Config{}, fmt.Errorf("EVA_SUMMARY_MAX_TOKENS must be > 0")
	}
	if cfg.StructuredMaxTokens <= 0 {
		return Config{}, fmt.Errorf("EVA_STRUCTURED_MAX_TOKENS must be > 0")
	}
	if cfg.MinTranscriptEntries < 0 {
		return Config{}, fmt.Errorf("EVA_MIN_TRANSCRIPT_ENTRIES must be >= 0")
	}
	if cfg.CompletionTimeout <= 0 {
		return Config{}, fmt.Errorf("EVA_COMPLETION_TIMEOUT must be > 0")
	}
	if strings.TrimSpace(cfg.CallLogDir) == "" {
		return Config{}, fmt.Errorf("EVA_CALL_LOG_DIR must not be empty")
	}
	if strings.TrimSpace(cfg.MovingDir) == "" {
		return Config{}, fmt.Errorf("EVA_MOVING_DIR must not be empty")
	}
	if cfg.WSReadLimit <= 0 {
		return Config{}, fmt.Errorf("EVA_WS_READ_LIMIT must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("EVA_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("EVA_WS_PING_INTERVAL must be > 0")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("EVA_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("EVA_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("EVA_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("EVA_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if (cfg.WhatsAppToken != "" || cfg.WhatsAppPhoneID != "" || cfg.WhatsAppNotifyTo != "") &&
		(cfg.WhatsAppToken == "" || cfg.WhatsAppPhoneID == "" || cfg.WhatsAppNotifyTo == "") {
		return Config{}, fmt.Errorf("EVA_WHATSAPP_TOKEN, EVA_WHATSAPP_PHONE_ID and EVA_WHATSAPP_NOTIFY_TO must be set together")
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("EVA_LOG_LEVEL must be one of debug|info|warn|error")
	}

	return cfg, nil
}

// WhatsAppEnabled reports whether post-call WhatsApp notifications are
// configured.
func (c Config) WhatsAppEnabled() bool {
	return c.WhatsAppToken != "" && c.WhatsAppPhoneID != "" && c.WhatsAppNotifyTo != ""
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
