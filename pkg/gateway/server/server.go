package server

import (
	"log/slog"
	"net/http"

	"github.com/moversbe/eva-gateway/pkg/calllog"
	"github.com/moversbe/eva-gateway/pkg/gateway/config"
	"github.com/moversbe/eva-gateway/pkg/gateway/handlers"
	"github.com/moversbe/eva-gateway/pkg/gateway/lifecycle"
	"github.com/moversbe/eva-gateway/pkg/gateway/metrics"
	"github.com/moversbe/eva-gateway/pkg/gateway/mw"
	"github.com/moversbe/eva-gateway/pkg/moving"
	"github.com/moversbe/eva-gateway/pkg/notify"
)

// Dependencies are the shared components the HTTP surface serves.
type Dependencies struct {
	CallLog     *calllog.Logger
	CallStore   *calllog.Store
	MovingStore *moving.Store
	Notifier    notify.Sender
	Metrics     *metrics.Metrics
	Lifecycle   *lifecycle.Lifecycle

	// DialUpstream is overridable for tests.
	DialUpstream handlers.DialFunc
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
	deps   Dependencies
}

func New(cfg config.Config, logger *slog.Logger, deps Dependencies) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = &lifecycle.Lifecycle{}
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		deps:   deps,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.deps.Lifecycle})
	if s.deps.Metrics != nil {
		s.mux.Handle("/metrics", s.deps.Metrics.Handler())
	}

	s.mux.Handle("/ws", handlers.CallHandler{
		Config:       s.cfg,
		Logger:       s.logger,
		Lifecycle:    s.deps.Lifecycle,
		Metrics:      s.deps.Metrics,
		CallLog:      s.deps.CallLog,
		Notifier:     s.deps.Notifier,
		DialUpstream: s.deps.DialUpstream,
	})

	callLogs := handlers.CallLogsHandler{
		Logger:  s.logger,
		CallLog: s.deps.CallLog,
		Store:   s.deps.CallStore,
	}
	s.mux.HandleFunc("GET /call-logs", callLogs.List)
	s.mux.HandleFunc("GET /call-logs/{id}", callLogs.Get)
	s.mux.HandleFunc("POST /call-logs/{id}/end", callLogs.End)

	mv := handlers.MovingHandler{
		Logger: s.logger,
		Store:  s.deps.MovingStore,
	}
	s.mux.HandleFunc("POST /moving-requests", mv.Create)
	s.mux.HandleFunc("GET /moving-requests", mv.List)
	s.mux.HandleFunc("GET /moving-requests/{id}", mv.Get)
	s.mux.HandleFunc("PATCH /moving-requests/{id}", mv.Update)
	s.mux.HandleFunc("POST /moving-requests/{id}/complete", mv.Complete)

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
