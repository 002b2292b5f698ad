package alerting

import (
	"time"

	"github.com/google/uuid"
)

// Type is the closed set of alert categories the engine can raise.
type Type string

const (
	TypeRankDrop       Type = "rank_drop"
	TypeRankGain       Type = "rank_gain"
	TypeNewCompetitor  Type = "new_competitor"
	TypeLostFeature    Type = "lost_feature"
	TypeGainedFeature  Type = "gained_feature"
	TypeVolatility     Type = "volatility"
	TypeTechnicalIssue Type = "technical_issue"
)

// Types lists every alert type; serialization and dispatch tables are
// validated against it.
var Types = []Type{
	TypeRankDrop,
	TypeRankGain,
	TypeNewCompetitor,
	TypeLostFeature,
	TypeGainedFeature,
	TypeVolatility,
	TypeTechnicalIssue,
}

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is an immutable, severity-tagged alert. Created once by the
// classifier (or the supervisor for technical issues) and never mutated.
type Event struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	Keyword   string         `json:"keyword"`
	Type      Type           `json:"type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewEvent stamps identity and creation time onto an alert.
func NewEvent(projectID, keyword string, typ Type, severity Severity, message string, data map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Keyword:   keyword,
		Type:      typ,
		Severity:  severity,
		Message:   message,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}
