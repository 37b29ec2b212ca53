package config

import (
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	"EVA_ADDR",
	"EVA_OPENAI_API_KEY",
	"EVA_REALTIME_URL",
	"EVA_REALTIME_MODEL",
	"EVA_VOICE",
	"EVA_INSTRUCTIONS",
	"EVA_GREETING",
	"EVA_TEMPERATURE",
	"EVA_VAD_SILENCE",
	"EVA_ECHO_GUARD_WINDOW",
	"EVA_GREETING_PROTECT",
	"EVA_SUMMARY_MODEL",
	"EVA_SUMMARY_MAX_TOKENS",
	"EVA_STRUCTURED_MAX_TOKENS",
	"EVA_MIN_TRANSCRIPT_ENTRIES",
	"EVA_COMPLETION_TIMEOUT",
	"EVA_CALL_LOG_DIR",
	"EVA_MOVING_DIR",
	"EVA_ALLOWED_ORIGINS",
	"EVA_WS_READ_LIMIT",
	"EVA_WS_WRITE_TIMEOUT",
	"EVA_WS_PING_INTERVAL",
	"EVA_HANDSHAKE_TIMEOUT",
	"EVA_READ_HEADER_TIMEOUT",
	"EVA_READ_TIMEOUT",
	"EVA_SHUTDOWN_GRACE_PERIOD",
	"EVA_WHATSAPP_TOKEN",
	"EVA_WHATSAPP_PHONE_ID",
	"EVA_WHATSAPP_NOTIFY_TO",
	"EVA_LOG_LEVEL",
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("EVA_OPENAI_API_KEY", "sk-test")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.RealtimeURL != "wss://api.openai.com/v1/realtime" {
		t.Fatalf("RealtimeURL = %q", cfg.RealtimeURL)
	}
	if cfg.RealtimeModel != "gpt-4o-realtime-preview-2024-10-01" {
		t.Fatalf("RealtimeModel = %q", cfg.RealtimeModel)
	}
	if cfg.Voice != "shimmer" {
		t.Fatalf("Voice = %q, want shimmer", cfg.Voice)
	}
	if cfg.Temperature != 0.6 {
		t.Fatalf("Temperature = %v, want 0.6", cfg.Temperature)
	}
	if cfg.VADSilence != 800*time.Millisecond {
		t.Fatalf("VADSilence = %v, want 800ms", cfg.VADSilence)
	}
	if cfg.EchoGuardWindow != 350*time.Millisecond {
		t.Fatalf("EchoGuardWindow = %v, want 350ms", cfg.EchoGuardWindow)
	}
	if cfg.GreetingProtect != 0 {
		t.Fatalf("GreetingProtect = %v, want 0", cfg.GreetingProtect)
	}
	if cfg.SummaryModel != "gpt-4o-mini" {
		t.Fatalf("SummaryModel = %q", cfg.SummaryModel)
	}
	if cfg.SummaryMaxTokens != 300 || cfg.StructuredMaxTokens != 200 {
		t.Fatalf("token limits = %d/%d, want 300/200", cfg.SummaryMaxTokens, cfg.StructuredMaxTokens)
	}
	if cfg.MinTranscriptEntries != 2 {
		t.Fatalf("MinTranscriptEntries = %d, want 2", cfg.MinTranscriptEntries)
	}
	if cfg.CallLogDir != "call_log" {
		t.Fatalf("CallLogDir = %q", cfg.CallLogDir)
	}
	if cfg.WSReadLimit != 1<<20 {
		t.Fatalf("WSReadLimit = %d, want %d", cfg.WSReadLimit, int64(1<<20))
	}
	if cfg.WSWriteTimeout != 5*time.Second || cfg.WSPingInterval != 20*time.Second {
		t.Fatalf("ws timing = %v/%v", cfg.WSWriteTimeout, cfg.WSPingInterval)
	}
	if cfg.ShutdownGracePeriod != 15*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 15s", cfg.ShutdownGracePeriod)
	}
	if cfg.WhatsAppEnabled() {
		t.Fatal("WhatsAppEnabled() = true, want false")
	}
	if cfg.Instructions == "" {
		t.Fatal("Instructions empty, want default persona")
	}
	if cfg.Greeting != DefaultGreeting {
		t.Fatalf("Greeting = %q, want default", cfg.Greeting)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("EVA_OPENAI_API_KEY", "sk-test")
	t.Setenv("EVA_ADDR", ":9090")
	t.Setenv("EVA_VOICE", "alloy")
	t.Setenv("EVA_TEMPERATURE", "0.8")
	t.Setenv("EVA_VAD_SILENCE", "600ms")
	t.Setenv("EVA_ECHO_GUARD_WINDOW", "400ms")
	t.Setenv("EVA_GREETING_PROTECT", "2s")
	t.Setenv("EVA_SUMMARY_MAX_TOKENS", "150")
	t.Setenv("EVA_MIN_TRANSCRIPT_ENTRIES", "3")
	t.Setenv("EVA_ALLOWED_ORIGINS", "https://a.example, https://b.example,,")
	t.Setenv("EVA_WHATSAPP_TOKEN", "tok")
	t.Setenv("EVA_WHATSAPP_PHONE_ID", "123")
	t.Setenv("EVA_WHATSAPP_NOTIFY_TO", "32470000000")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":9090" || cfg.Voice != "alloy" || cfg.Temperature != 0.8 {
		t.Fatalf("overrides mismatch: %q/%q/%v", cfg.Addr, cfg.Voice, cfg.Temperature)
	}
	if cfg.VADSilence != 600*time.Millisecond || cfg.EchoGuardWindow != 400*time.Millisecond {
		t.Fatalf("timing mismatch: %v/%v", cfg.VADSilence, cfg.EchoGuardWindow)
	}
	if cfg.GreetingProtect != 2*time.Second {
		t.Fatalf("GreetingProtect = %v, want 2s", cfg.GreetingProtect)
	}
	if cfg.SummaryMaxTokens != 150 || cfg.MinTranscriptEntries != 3 {
		t.Fatalf("summary settings mismatch: %d/%d", cfg.SummaryMaxTokens, cfg.MinTranscriptEntries)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("AllowedOrigins len=%d, want 2", len(cfg.AllowedOrigins))
	}
	if _, ok := cfg.AllowedOrigins["https://b.example"]; !ok {
		t.Fatal("missing https://b.example")
	}
	if !cfg.WhatsAppEnabled() {
		t.Fatal("WhatsAppEnabled() = false, want true")
	}
}

func TestLoadFromEnv_RequiresAPIKey(t *testing.T) {
	clearGatewayEnv(t)

	_, err := LoadFromEnv()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "EVA_OPENAI_API_KEY") {
		t.Fatalf("error = %v, expected EVA_OPENAI_API_KEY in message", err)
	}
}

func TestLoadFromEnv_InvalidValues(t *testing.T) {
	cases := []struct {
		name      string
		env       map[string]string
		errSubstr string
	}{
		{
			name:      "echo guard below band",
			env:       map[string]string{"EVA_ECHO_GUARD_WINDOW": "100ms"},
			errSubstr: "EVA_ECHO_GUARD_WINDOW",
		},
		{
			name:      "echo guard above band",
			env:       map[string]string{"EVA_ECHO_GUARD_WINDOW": "900ms"},
			errSubstr: "EVA_ECHO_GUARD_WINDOW",
		},
		{
			name:      "zero vad silence",
			env:       map[string]string{"EVA_VAD_SILENCE": "0s"},
			errSubstr: "EVA_VAD_SILENCE",
		},
		{
			name:      "temperature out of range",
			env:       map[string]string{"EVA_TEMPERATURE": "3.0"},
			errSubstr: "EVA_TEMPERATURE",
		},
		{
			name:      "partial whatsapp config",
			env:       map[string]string{"EVA_WHATSAPP_TOKEN": "tok"},
			errSubstr: "EVA_WHATSAPP_TOKEN",
		},
		{
			name:      "bad log level",
			env:       map[string]string{"EVA_LOG_LEVEL": "loud"},
			errSubstr: "EVA_LOG_LEVEL",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearGatewayEnv(t)
			t.Setenv("EVA_OPENAI_API_KEY", "sk-test")
			for key, value := range tc.env {
				t.Setenv(key, value)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.errSubstr) {
				t.Fatalf("error = %v, expected substring %q", err, tc.errSubstr)
			}
		})
	}
}
