package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/moversbe/eva-gateway/pkg/calllog"
	"github.com/moversbe/eva-gateway/pkg/gateway/config"
	"github.com/moversbe/eva-gateway/pkg/gateway/lifecycle"
	"github.com/moversbe/eva-gateway/pkg/gateway/metrics"
	gatewayserver "github.com/moversbe/eva-gateway/pkg/gateway/server"
	"github.com/moversbe/eva-gateway/pkg/moving"
	"github.com/moversbe/eva-gateway/pkg/notify"
	"github.com/moversbe/eva-gateway/pkg/summarize"
)

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig: config.LoadFromEnv,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func buildDependencies(cfg config.Config, logger *slog.Logger) (gatewayserver.Dependencies, error) {
	completer, err := summarize.New(summarize.Config{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.SummaryModel,
		Timeout: cfg.CompletionTimeout,
	})
	if err != nil {
		return gatewayserver.Dependencies{}, fmt.Errorf("summarize client: %w", err)
	}

	callLog, err := calllog.New(cfg.CallLogDir, completer, calllog.Options{
		MinEntries:          cfg.MinTranscriptEntries,
		SummaryMaxTokens:    cfg.SummaryMaxTokens,
		StructuredMaxTokens: cfg.StructuredMaxTokens,
		EndTimeout:          cfg.CompletionTimeout,
		Logger:              logger,
	})
	if err != nil {
		return gatewayserver.Dependencies{}, fmt.Errorf("call log: %w", err)
	}

	movingStore, err := moving.NewStore(cfg.MovingDir)
	if err != nil {
		return gatewayserver.Dependencies{}, fmt.Errorf("moving store: %w", err)
	}

	var notifier notify.Sender = notify.Noop{}
	if cfg.WhatsAppEnabled() {
		whatsapp, err := notify.NewWhatsApp(notify.WhatsAppConfig{
			Token:   cfg.WhatsAppToken,
			PhoneID: cfg.WhatsAppPhoneID,
			Timeout: cfg.CompletionTimeout,
		})
		if err != nil {
			return gatewayserver.Dependencies{}, fmt.Errorf("whatsapp sender: %w", err)
		}
		notifier = whatsapp
	}

	return gatewayserver.Dependencies{
		CallLog:     callLog,
		CallStore:   calllog.NewStore(cfg.CallLogDir),
		MovingStore: movingStore,
		Notifier:    notifier,
		Metrics:     metrics.New("eva"),
		Lifecycle:   &lifecycle.Lifecycle{},
	}, nil
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	serverDeps, err := buildDependencies(cfg, logger)
	if err != nil {
		return err
	}

	gw := gatewayserver.New(cfg, logger, serverDeps)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway",
		"addr", cfg.Addr,
		"realtime_model", cfg.RealtimeModel,
		"summary_model", cfg.SummaryModel,
		"whatsapp_notifications", cfg.WhatsAppEnabled(),
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	serverDeps.Lifecycle.SetDraining(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitForCalls(serverDeps.Lifecycle, cfg.ShutdownGracePeriod, logger)

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

// waitForCalls gives in-flight relay calls a chance to finish their
// background summarization before the process exits.
func waitForCalls(lc *lifecycle.Lifecycle, grace time.Duration, logger *slog.Logger) {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if lc.ActiveCalls() == 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	logger.Warn("shutdown grace period expired with calls still active", "active_calls", lc.ActiveCalls())
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}

	// A missing .env is fine; env vars may come from the environment.
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level: parseLogLevel(os.Getenv("EVA_LOG_LEVEL")),
	}))

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "eva-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
