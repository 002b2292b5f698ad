package ws

import (
	"time"
)

// Server-to-client message types.
const (
	MessageTypeConnected     = "connected"
	MessageTypeAlert         = "alert"
	MessageTypeRankingUpdate = "ranking_update"
	MessageTypePong          = "pong"
)

// Client-to-server message types.
const (
	MessageTypePing            = "ping"
	MessageTypeStartMonitoring = "start_monitoring"
	MessageTypeStopMonitoring  = "stop_monitoring"
)

// Envelope is the push-channel message frame used in both directions.
type Envelope struct {
	Type      string    `json:"type"`
	ProjectID string    `json:"project_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEnvelope stamps an outbound envelope.
func NewEnvelope(messageType, projectID string, data any) Envelope {
	return Envelope{
		Type:      messageType,
		ProjectID: projectID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// RankingUpdate is the payload of a ranking_update push message.
type RankingUpdate struct {
	Keyword     string `json:"keyword"`
	OldPosition *int   `json:"old_position"`
	NewPosition *int   `json:"new_position"`
	Change      int    `json:"change"`
}

// StartMonitoringRequest is the payload of a start_monitoring command.
type StartMonitoringRequest struct {
	Keywords []string `json:"keywords"`
}
