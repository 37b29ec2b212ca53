package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v18.0"

// Sender delivers outbound text notifications.
type Sender interface {
	SendText(ctx context.Context, to, body string) error
}

// WhatsApp sends text messages via the WhatsApp Cloud API.
type WhatsApp struct {
	token      string
	phoneID    string
	baseURL    string
	httpClient *http.Client
}

type WhatsAppConfig struct {
	Token   string
	PhoneID string
	BaseURL string
	Timeout time.Duration
}

func NewWhatsApp(cfg WhatsAppConfig) (*WhatsApp, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("whatsapp token is required")
	}
	if strings.TrimSpace(cfg.PhoneID) == "" {
		return nil, fmt.Errorf("whatsapp phone id is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WhatsApp{
		token:      strings.TrimSpace(cfg.Token),
		phoneID:    strings.TrimSpace(cfg.PhoneID),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (w *WhatsApp) SendText(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": body},
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := strings.TrimRight(w.baseURL, "/") + "/" + w.phoneID + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.token)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("whatsapp api: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// Noop is the Sender used when notifications are not configured.
type Noop struct{}

func (Noop) SendText(context.Context, string, string) error { return nil }
