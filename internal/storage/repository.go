package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rank-alerts/internal/alerting"
	"rank-alerts/internal/serp"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrAlertNotFound indicates a mark-read target does not exist.
	ErrAlertNotFound = errors.New("storage: alert not found")
)

const (
	insertAlertSQL = `INSERT INTO alerts (
        id,
        project_id,
        keyword,
        alert_type,
        severity,
        message,
        data,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    );`

	listAlertsSQL = `SELECT
        id,
        project_id,
        keyword,
        alert_type,
        severity,
        message,
        data,
        read,
        created_at
    FROM alerts
    WHERE project_id = $1
      AND ($2::bool IS FALSE OR read = FALSE)
    ORDER BY created_at DESC
    LIMIT $3 OFFSET $4;`

	markAlertReadSQL = `UPDATE alerts SET read = TRUE WHERE id = $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	insertSnapshotSQL = `INSERT INTO ranking_history (
        project_id,
        keyword,
        position,
        url,
        serp_features,
        competitors,
        observed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    );`

	listPositionsSQL = `SELECT
        observed_at,
        position
    FROM ranking_history
    WHERE project_id = $1
      AND keyword = $2
      AND observed_at >= $3
      AND observed_at < $4
    ORDER BY observed_at;`

	deleteSnapshotsBeforeSQL = `DELETE FROM ranking_history WHERE observed_at < $1;`
)

// AlertStore defines the alert persistence and query surface consumed by
// the dispatcher and the surrounding API layer.
type AlertStore interface {
	InsertAlert(ctx context.Context, event alerting.Event) error
	ListAlerts(ctx context.Context, projectID string, opts ListAlertsOptions) ([]AlertRecord, error)
	MarkAlertRead(ctx context.Context, alertID string) error
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// HistoryStore defines durable ranking-history persistence.
type HistoryStore interface {
	InsertSnapshot(ctx context.Context, snapshot serp.RankingSnapshot) error
	ListPositions(ctx context.Context, projectID, keyword string, from, to time.Time) ([]PositionSample, error)
	DeleteSnapshotsBefore(ctx context.Context, olderThan time.Time) error
}

// Store aggregates access to alerts and ranking history.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertAlert persists one alert event append-only.
func (s *Store) InsertAlert(ctx context.Context, event alerting.Event) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var data []byte
	if event.Data != nil {
		if data, err = json.Marshal(event.Data); err != nil {
			return fmt.Errorf("marshal alert data: %w", err)
		}
	}

	_, execErr := pool.Exec(ctx, insertAlertSQL,
		event.ID,
		event.ProjectID,
		event.Keyword,
		string(event.Type),
		string(event.Severity),
		event.Message,
		data,
		event.CreatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert alert: %w", execErr)
	}
	return nil
}

// ListAlerts lists alerts for a project, newest first.
func (s *Store) ListAlerts(ctx context.Context, projectID string, opts ListAlertsOptions) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, queryErr := pool.Query(ctx, listAlertsSQL, projectID, opts.UnreadOnly, limit, opts.Offset)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// MarkAlertRead flags one alert as read.
func (s *Store) MarkAlertRead(ctx context.Context, alertID string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, markAlertReadSQL, alertID)
	if execErr != nil {
		return fmt.Errorf("mark alert read: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

// InsertSnapshot appends one ranking observation to the durable history.
func (s *Store) InsertSnapshot(ctx context.Context, snapshot serp.RankingSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	features, err := json.Marshal(snapshot.SERPFeatures)
	if err != nil {
		return fmt.Errorf("marshal serp features: %w", err)
	}
	competitors, err := json.Marshal(snapshot.Competitors)
	if err != nil {
		return fmt.Errorf("marshal competitors: %w", err)
	}

	var position interface{}
	if snapshot.Position != nil {
		position = *snapshot.Position
	}

	_, execErr := pool.Exec(ctx, insertSnapshotSQL,
		snapshot.ProjectID,
		snapshot.Keyword,
		position,
		snapshot.URL,
		features,
		competitors,
		snapshot.ObservedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert snapshot: %w", execErr)
	}
	return nil
}

// ListPositions returns the position series for a keyword within a window.
func (s *Store) ListPositions(ctx context.Context, projectID, keyword string, from, to time.Time) ([]PositionSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPositionsSQL, projectID, keyword, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list positions: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]PositionSample, 0)
	for rows.Next() {
		var (
			observedAt time.Time
			position   sql.NullInt64
		)
		if err := rows.Scan(&observedAt, &position); err != nil {
			return nil, err
		}
		sample := PositionSample{ObservedAt: observedAt}
		if position.Valid {
			value := int(position.Int64)
			sample.Position = &value
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// DeleteSnapshotsBefore trims the durable history beyond the retention
// horizon.
func (s *Store) DeleteSnapshotsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteSnapshotsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete snapshots before: %w", execErr)
	}
	return nil
}

func scanAlert(rows pgx.Rows) (AlertRecord, error) {
	var (
		rec  AlertRecord
		data []byte
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.ProjectID,
		&rec.Keyword,
		&rec.Type,
		&rec.Severity,
		&rec.Message,
		&data,
		&rec.Read,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}
	if len(data) > 0 {
		rec.Data = json.RawMessage(data)
	}
	return rec, nil
}

var _ AlertStore = (*Store)(nil)
var _ HistoryStore = (*Store)(nil)
