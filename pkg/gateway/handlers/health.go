package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/moversbe/eva-gateway/pkg/gateway/config"
	"github.com/moversbe/eva-gateway/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK          bool     `json:"ok"`
		Draining    bool     `json:"draining"`
		ActiveCalls int64    `json:"active_calls"`
		Issues      []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	draining := h.Lifecycle.IsDraining()
	if draining {
		issues = append(issues, "gateway is draining")
	}
	if h.Config.OpenAIAPIKey == "" {
		issues = append(issues, "openai api key is not configured")
	}
	if h.Config.WSWriteTimeout <= 0 || h.Config.WSPingInterval <= 0 {
		issues = append(issues, "websocket timeouts must be > 0")
	}
	if h.Config.CompletionTimeout <= 0 {
		issues = append(issues, "completion timeout must be > 0")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:          ok,
		Draining:    draining,
		ActiveCalls: h.Lifecycle.ActiveCalls(),
		Issues:      issues,
	})
}
