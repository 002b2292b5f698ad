package storage

import (
	"encoding/json"
	"time"
)

// AlertRecord is a persisted alert row. Rows are append-only; only the read
// marker is ever updated.
type AlertRecord struct {
	ID        string
	ProjectID string
	Keyword   string
	Type      string
	Severity  string
	Message   string
	Data      json.RawMessage
	Read      bool
	CreatedAt time.Time
}

// PositionSample is one durable ranking-history point for a keyword.
// Position is nil when the domain was not found in the observed depth.
type PositionSample struct {
	ObservedAt time.Time
	Position   *int
}

// ListAlertsOptions narrow an alert listing.
type ListAlertsOptions struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}
