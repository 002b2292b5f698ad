package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rank-alerts/internal/alerting"
	"rank-alerts/internal/analysis"
	"rank-alerts/internal/fetcher"
	"rank-alerts/internal/logging"
	"rank-alerts/internal/metrics"
	"rank-alerts/internal/scheduler"
	"rank-alerts/internal/snapshot"
	"rank-alerts/internal/storage"
	"rank-alerts/pkg/retry"
)

var (
	// ErrNoKeywords rejects a session with nothing to monitor.
	ErrNoKeywords = errors.New("monitor: at least one keyword is required")
	// ErrNotRunning marks a stop request for an unknown project.
	ErrNotRunning = errors.New("monitor: project is not being monitored")
)

// Status is the lifecycle state of one project session.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// SessionInfo is a point-in-time view of a monitoring session.
type SessionInfo struct {
	ProjectID   string    `json:"project_id"`
	Domain      string    `json:"domain"`
	Keywords    []string  `json:"keywords"`
	Status      Status    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	LastCheckAt time.Time `json:"last_check_at,omitempty"`
	NextCheckAt time.Time `json:"next_check_at,omitempty"`
}

// Options tune the supervisor. Zero values fall back to engine defaults.
type Options struct {
	Interval     time.Duration
	Concurrency  int
	FetchTimeout time.Duration
	// FailureAlertAfter raises a technical_issue alert once this many
	// consecutive cycles fail for every keyword.
	FailureAlertAfter int
	Retry             retry.Config
	// ResolveDomain maps a project to its tracked domain for sessions
	// started over the push channel. Nil treats the project id as the
	// domain itself.
	ResolveDomain func(projectID string) (string, error)
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 30 * time.Second
	}
	if o.FailureAlertAfter <= 0 {
		o.FailureAlertAfter = 3
	}
	if o.Retry.Attempts <= 0 {
		o.Retry = retry.DefaultConfig()
	}
	return o
}

type session struct {
	projectID string
	domain    string
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	// guarded by Supervisor.mu
	keywords    []string
	status      Status
	lastCheckAt time.Time
	nextCheckAt time.Time
	// consecutive all-keyword cycle failures, owned by the session loop
	failures int
}

// Supervisor owns the lifecycle of per-project monitoring sessions. Each
// running project gets one polling loop; keyword fetches within a cycle are
// bounded by a shared concurrency limit per session.
type Supervisor struct {
	fetcher    fetcher.RankFetcher
	snapshots  *snapshot.Store
	analyzer   *analysis.Analyzer
	classifier *alerting.Classifier
	dispatcher *alerting.Dispatcher
	cooldown   *alerting.CooldownGate
	history    storage.HistoryStore
	broadcast  alerting.Broadcaster
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	opts       Options

	baseCtx context.Context

	mu       sync.Mutex
	sessions map[string]*session
}

// Deps bundles the supervisor's collaborators. history, broadcast, and
// metrics may be nil.
type Deps struct {
	Fetcher    fetcher.RankFetcher
	Snapshots  *snapshot.Store
	Analyzer   *analysis.Analyzer
	Classifier *alerting.Classifier
	Dispatcher *alerting.Dispatcher
	Cooldown   *alerting.CooldownGate
	History    storage.HistoryStore
	Broadcast  alerting.Broadcaster
	Metrics    *metrics.Metrics
}

// NewSupervisor wires a supervisor. baseCtx bounds every session; cancelling
// it stops all loops.
func NewSupervisor(baseCtx context.Context, deps Deps, opts Options, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		fetcher:    deps.Fetcher,
		snapshots:  deps.Snapshots,
		analyzer:   deps.Analyzer,
		classifier: deps.Classifier,
		dispatcher: deps.Dispatcher,
		cooldown:   deps.Cooldown,
		history:    deps.History,
		broadcast:  deps.Broadcast,
		metrics:    deps.Metrics,
		logger:     logging.Component(logger, "monitor"),
		opts:       opts.withDefaults(),
		baseCtx:    baseCtx,
		sessions:   make(map[string]*session),
	}
}

// Start begins (or updates) monitoring for a project. Starting an already
// running project replaces its keyword set atomically; in-flight fetches for
// removed keywords finish but their results are discarded.
func (s *Supervisor) Start(projectID, domain string, keywords []string) error {
	keywords = dedupeKeywords(keywords)
	if len(keywords) == 0 {
		return ErrNoKeywords
	}
	if domain == "" {
		return fmt.Errorf("monitor: domain is required for project %q", projectID)
	}

	s.mu.Lock()
	for {
		sess, ok := s.sessions[projectID]
		if !ok {
			break
		}
		if sess.status != StatusStopping {
			sess.keywords = keywords
			s.logger.Info().
				Str("project_id", projectID).
				Int("keywords", len(keywords)).
				Msg("monitoring session updated")
			s.mu.Unlock()
			return nil
		}

		// A stop is in flight for this project. Installing a replacement
		// now would let the stop's table cleanup remove the new session
		// and orphan its loop, so wait for the old loop to exit first.
		s.mu.Unlock()
		<-sess.done
		s.finalize(sess)
		s.mu.Lock()
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	sess := &session{
		projectID: projectID,
		domain:    domain,
		keywords:  keywords,
		status:    StatusStarting,
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: time.Now().UTC(),
	}
	s.sessions[projectID] = sess
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
	}
	s.logger.Info().
		Str("project_id", projectID).
		Str("domain", domain).
		Int("keywords", len(keywords)).
		Msg("monitoring session started")

	go s.run(ctx, sess)
	return nil
}

// Stop halts monitoring for a project and blocks until its loop has exited.
// In-memory history and cooldown state for the project are discarded.
func (s *Supervisor) Stop(projectID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[projectID]
	if !ok {
		s.mu.Unlock()
		return ErrNotRunning
	}
	if sess.status == StatusStopping {
		// Another caller is already tearing this session down.
		s.mu.Unlock()
		<-sess.done
		return nil
	}
	sess.status = StatusStopping
	s.mu.Unlock()

	sess.cancel()
	<-sess.done
	s.finalize(sess)
	return nil
}

// finalize removes a stopped session from the table and discards its
// per-project state. The table entry is removed only while it still points
// at this session: a Start that raced the stop and already installed a
// replacement must not lose it. Cleanup runs exactly once, on whichever
// caller performed the removal.
func (s *Supervisor) finalize(sess *session) {
	s.mu.Lock()
	current, ok := s.sessions[sess.projectID]
	if !ok || current != sess {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, sess.projectID)
	s.mu.Unlock()

	if s.cooldown != nil {
		s.cooldown.Reset(sess.projectID)
	}
	if s.snapshots != nil {
		s.snapshots.Drop(sess.projectID)
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Dec()
	}

	s.logger.Info().Str("project_id", sess.projectID).Msg("monitoring session stopped")
}

// StopAll stops every session. Used on shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.Stop(id); err != nil && !errors.Is(err, ErrNotRunning) {
			s.logger.Warn().Err(err).Str("project_id", id).Msg("session shutdown failed")
		}
	}
}

// StartMonitoring implements the push-channel command surface.
func (s *Supervisor) StartMonitoring(projectID string, keywords []string) error {
	domain := projectID
	if s.opts.ResolveDomain != nil {
		resolved, err := s.opts.ResolveDomain(projectID)
		if err != nil {
			return fmt.Errorf("resolve domain: %w", err)
		}
		domain = resolved
	}
	return s.Start(projectID, domain, keywords)
}

// StopMonitoring implements the push-channel command surface.
func (s *Supervisor) StopMonitoring(projectID string) error {
	return s.Stop(projectID)
}

// Session reports the state of one project session.
func (s *Supervisor) Session(projectID string) (SessionInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[projectID]
	if !ok {
		return SessionInfo{ProjectID: projectID, Status: StatusStopped}, false
	}
	return sess.info(), true
}

// Sessions lists all live sessions ordered by project id.
func (s *Supervisor) Sessions() []SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		infos = append(infos, sess.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ProjectID < infos[j].ProjectID })
	return infos
}

// info must be called with Supervisor.mu held.
func (sess *session) info() SessionInfo {
	return SessionInfo{
		ProjectID:   sess.projectID,
		Domain:      sess.domain,
		Keywords:    append([]string(nil), sess.keywords...),
		Status:      sess.status,
		StartedAt:   sess.startedAt,
		LastCheckAt: sess.lastCheckAt,
		NextCheckAt: sess.nextCheckAt,
	}
}

func (s *Supervisor) run(ctx context.Context, sess *session) {
	defer close(sess.done)

	sched := scheduler.New(scheduler.Options{
		Interval:  s.opts.Interval,
		Immediate: true,
	}, s.logger.With().Str("project_id", sess.projectID).Logger())

	err := sched.Run(ctx, func(tickCtx context.Context, at time.Time) error {
		s.cycle(tickCtx, sess, at)

		// The session advertises Starting until its first cycle has run
		// to completion.
		s.mu.Lock()
		if sess.status == StatusStarting {
			sess.status = StatusRunning
		}
		s.mu.Unlock()
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Str("project_id", sess.projectID).Msg("session loop exited")
	}
}

func dedupeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}
