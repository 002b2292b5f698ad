package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"rank-alerts/internal/config"
	"rank-alerts/internal/logging"
	"rank-alerts/internal/monitor"
	"rank-alerts/internal/storage"
	"rank-alerts/internal/ws"
)

// MonitorController is the session-management surface the API exposes. The
// monitor Supervisor implements it.
type MonitorController interface {
	Start(projectID, domain string, keywords []string) error
	Stop(projectID string) error
	Session(projectID string) (monitor.SessionInfo, bool)
	Sessions() []monitor.SessionInfo
}

// Server hosts the REST API, the push channel, and the metrics endpoint.
type Server struct {
	cfg      config.ServerConfig
	hub      *ws.Hub
	handler  ws.CommandHandler
	monitor  MonitorController
	alerts   storage.AlertStore
	history  storage.HistoryStore
	gatherer prometheus.Gatherer
	logger   zerolog.Logger

	httpServer *http.Server
}

// Deps bundles the server's collaborators. alerts and history may be nil
// when the service runs without a database.
type Deps struct {
	Hub      *ws.Hub
	Handler  ws.CommandHandler
	Monitor  MonitorController
	Alerts   storage.AlertStore
	History  storage.HistoryStore
	Gatherer prometheus.Gatherer
}

// New wires the server and its routes.
func New(cfg config.ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		hub:      deps.Hub,
		handler:  deps.Handler,
		monitor:  deps.Monitor,
		alerts:   deps.Alerts,
		history:  deps.History,
		gatherer: deps.Gatherer,
		logger:   logging.Component(logger, "server"),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.logRequests)

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	if s.gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	router.HandleFunc("/ws/monitoring/{project_id}", s.handleWebSocket).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/projects/{project_id}/monitor", s.handleStartMonitoring).Methods(http.MethodPost)
	api.HandleFunc("/projects/{project_id}/monitor", s.handleStopMonitoring).Methods(http.MethodDelete)
	api.HandleFunc("/projects/{project_id}/monitor", s.handleSessionStatus).Methods(http.MethodGet)
	api.HandleFunc("/monitor/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/projects/{project_id}/alerts", s.handleListAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{alert_id}/read", s.handleMarkAlertRead).Methods(http.MethodPost)
	api.HandleFunc("/projects/{project_id}/keywords/{keyword}/history", s.handleHistory).Methods(http.MethodGet)

	return router
}

// Run serves until ctx is cancelled, then drains connections gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
