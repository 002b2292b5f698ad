package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"rank-alerts/internal/monitor"
	"rank-alerts/internal/storage"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

type startMonitoringBody struct {
	Domain   string   `json:"domain"`
	Keywords []string `json:"keywords"`
}

func (s *Server) handleStartMonitoring(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["project_id"]

	var body startMonitoringBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.monitor.Start(projectID, body.Domain, body.Keywords); err != nil {
		if errors.Is(err, monitor.ErrNoKeywords) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	info, _ := s.monitor.Session(projectID)
	writeJSON(w, http.StatusAccepted, info)
}

func (s *Server) handleStopMonitoring(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["project_id"]

	if err := s.monitor.Stop(projectID); err != nil {
		if errors.Is(err, monitor.ErrNotRunning) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["project_id"]
	info, _ := s.monitor.Session(projectID)
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Sessions())
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeError(w, http.StatusServiceUnavailable, "alert storage is not configured")
		return
	}

	projectID := mux.Vars(r)["project_id"]
	query := r.URL.Query()

	opts := storage.ListAlertsOptions{
		UnreadOnly: query.Get("unread") == "true",
		Limit:      intQuery(query.Get("limit"), 50),
		Offset:     intQuery(query.Get("offset"), 0),
	}

	alerts, err := s.alerts.ListAlerts(r.Context(), projectID, opts)
	if err != nil {
		s.logger.Error().Err(err).Str("project_id", projectID).Msg("alert listing failed")
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) handleMarkAlertRead(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeError(w, http.StatusServiceUnavailable, "alert storage is not configured")
		return
	}

	alertID := mux.Vars(r)["alert_id"]
	if err := s.alerts.MarkAlertRead(r.Context(), alertID); err != nil {
		if errors.Is(err, storage.ErrAlertNotFound) {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		s.logger.Error().Err(err).Str("alert_id", alertID).Msg("mark read failed")
		writeError(w, http.StatusInternalServerError, "failed to mark alert read")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history storage is not configured")
		return
	}

	vars := mux.Vars(r)
	projectID := vars["project_id"]
	keyword := vars["keyword"]

	now := time.Now().UTC()
	from := timeQuery(r.URL.Query().Get("from"), now.Add(-30*24*time.Hour))
	to := timeQuery(r.URL.Query().Get("to"), now)

	samples, err := s.history.ListPositions(r.Context(), projectID, keyword, from, to)
	if err != nil {
		s.logger.Error().Err(err).
			Str("project_id", projectID).
			Str("keyword", keyword).
			Msg("history listing failed")
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}

	type point struct {
		ObservedAt time.Time `json:"observed_at"`
		Position   *int      `json:"position"`
	}
	points := make([]point, 0, len(samples))
	for _, sample := range samples {
		points = append(points, point{ObservedAt: sample.ObservedAt, Position: sample.Position})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"project_id": projectID,
		"keyword":    keyword,
		"from":       from,
		"to":         to,
		"points":     points,
	})
}

func intQuery(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func timeQuery(raw string, fallback time.Time) time.Time {
	if raw == "" {
		return fallback
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fallback
	}
	return parsed
}
