package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/moversbe/eva-gateway/pkg/gateway/config"
	"github.com/moversbe/eva-gateway/pkg/gateway/lifecycle"
)

func healthyConfig() config.Config {
	return config.Config{
		OpenAIAPIKey:      "sk-test",
		WSWriteTimeout:    5 * time.Second,
		WSPingInterval:    20 * time.Second,
		CompletionTimeout: 30 * time.Second,
	}
}

func TestHealthHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if rr.Body.String() != "ok\n" {
		t.Fatalf("body=%q", rr.Body.String())
	}
}

func TestReadyHandler_OK(t *testing.T) {
	h := ReadyHandler{Config: healthyConfig(), Lifecycle: &lifecycle.Lifecycle{}}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestReadyHandler_Draining(t *testing.T) {
	lc := &lifecycle.Lifecycle{}
	lc.SetDraining(true)
	h := ReadyHandler{Config: healthyConfig(), Lifecycle: lc}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rr.Code)
	}
	var resp struct {
		OK       bool     `json:"ok"`
		Draining bool     `json:"draining"`
		Issues   []string `json:"issues"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.OK || !resp.Draining || len(resp.Issues) == 0 {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestReadyHandler_MissingAPIKey(t *testing.T) {
	cfg := healthyConfig()
	cfg.OpenAIAPIKey = ""
	h := ReadyHandler{Config: cfg, Lifecycle: &lifecycle.Lifecycle{}}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rr.Code)
	}
}
