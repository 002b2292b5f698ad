package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"rank-alerts/internal/alerting"
	"rank-alerts/internal/analysis"
	"rank-alerts/internal/serp"
	"rank-alerts/internal/snapshot"
	"rank-alerts/pkg/retry"
)

type funcFetcher struct {
	fn func(ctx context.Context, projectID, domain, keyword string) (serp.RankingSnapshot, error)
}

func (f *funcFetcher) Fetch(ctx context.Context, projectID, domain, keyword string) (serp.RankingSnapshot, error) {
	return f.fn(ctx, projectID, domain, keyword)
}

type captureStore struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (c *captureStore) InsertAlert(_ context.Context, event alerting.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureStore) snapshot() []alerting.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]alerting.Event(nil), c.events...)
}

type captureBroadcaster struct {
	mu    sync.Mutex
	calls []string
}

func (c *captureBroadcaster) Broadcast(projectID, messageType string, _ any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, projectID+"/"+messageType)
}

func (c *captureBroadcaster) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func rankedSnapshot(projectID, keyword string, position int) serp.RankingSnapshot {
	return serp.RankingSnapshot{
		ProjectID:  projectID,
		Keyword:    keyword,
		Position:   serp.IntPtr(position),
		ObservedAt: time.Now().UTC(),
	}
}

func newTestSupervisor(t *testing.T, fetch *funcFetcher, store *captureStore, bc *captureBroadcaster) (*Supervisor, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	snapshots := snapshot.NewStore(time.Hour)
	cooldown := alerting.NewCooldownGate(time.Hour, 0.5)
	classifier := alerting.NewClassifier(alerting.Thresholds{}, cooldown, zerolog.Nop())
	dispatcher := alerting.NewDispatcher(store, nil, nil, nil, zerolog.Nop())

	var broadcast alerting.Broadcaster
	if bc != nil {
		broadcast = bc
	}

	s := NewSupervisor(ctx, Deps{
		Fetcher:    fetch,
		Snapshots:  snapshots,
		Analyzer:   analysis.NewAnalyzer(24*time.Hour, 10),
		Classifier: classifier,
		Dispatcher: dispatcher,
		Cooldown:   cooldown,
		Broadcast:  broadcast,
	}, Options{
		Interval:     time.Hour,
		Concurrency:  2,
		FetchTimeout: time.Second,
		Retry:        retry.Config{Attempts: 1, BaseDelay: time.Millisecond},
	}, zerolog.Nop())

	return s, cancel
}

// injectSession registers a running session without starting its loop, so
// cycles can be driven synchronously from the test.
func injectSession(s *Supervisor, projectID, domain string, keywords []string) *session {
	sess := &session{
		projectID: projectID,
		domain:    domain,
		keywords:  keywords,
		status:    StatusRunning,
		cancel:    func() {},
		done:      make(chan struct{}),
		startedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.sessions[projectID] = sess
	s.mu.Unlock()
	return sess
}

// waitForStatus polls until the project session reports the wanted status.
func waitForStatus(t *testing.T, s *Supervisor, projectID string, want Status) SessionInfo {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		info, _ := s.Session(projectID)
		if info.Status == want {
			return info
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never reached %s, last seen %+v", want, info)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestStartValidation(t *testing.T) {
	fetch := &funcFetcher{fn: func(_ context.Context, projectID, _, keyword string) (serp.RankingSnapshot, error) {
		return rankedSnapshot(projectID, keyword, 1), nil
	}}
	s, cancel := newTestSupervisor(t, fetch, &captureStore{}, nil)
	defer cancel()

	if err := s.Start("p1", "example.com", nil); !errors.Is(err, ErrNoKeywords) {
		t.Fatalf("expected ErrNoKeywords, got %v", err)
	}
	if err := s.Start("p1", "", []string{"kw"}); err == nil {
		t.Fatal("empty domain must be rejected")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	fetched := make(chan string, 16)
	fetch := &funcFetcher{fn: func(_ context.Context, projectID, _, keyword string) (serp.RankingSnapshot, error) {
		select {
		case fetched <- keyword:
		default:
		}
		return rankedSnapshot(projectID, keyword, 3), nil
	}}
	s, cancel := newTestSupervisor(t, fetch, &captureStore{}, nil)
	defer cancel()

	if err := s.Start("p1", "example.com", []string{"go hosting"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-fetched:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle never fetched")
	}

	waitForStatus(t, s, "p1", StatusRunning)

	if err := s.Stop("p1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, ok := s.Session("p1"); ok {
		t.Fatal("session must be gone after stop")
	}
	if err := s.Stop("p1"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("second stop should report ErrNotRunning, got %v", err)
	}
}

func TestRestartDuringStopKeepsNewSession(t *testing.T) {
	entered := make(chan struct{}, 16)
	release := make(chan struct{})
	fetch := &funcFetcher{fn: func(_ context.Context, projectID, _, keyword string) (serp.RankingSnapshot, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return rankedSnapshot(projectID, keyword, 3), nil
	}}
	s, cancel := newTestSupervisor(t, fetch, &captureStore{}, nil)
	defer cancel()

	if err := s.Start("p1", "example.com", []string{"kw"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	// The first cycle is mid-fetch, so the loop cannot exit yet.
	<-entered

	stopDone := make(chan error, 1)
	go func() { stopDone <- s.Stop("p1") }()
	waitForStatus(t, s, "p1", StatusStopping)

	startDone := make(chan error, 1)
	go func() { startDone <- s.Start("p1", "example.com", []string{"kw2"}) }()

	// The replacement must not be installed while the old loop is alive.
	select {
	case err := <-startDone:
		t.Fatalf("start completed before the stopping loop exited: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-stopDone; err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := <-startDone; err != nil {
		t.Fatalf("restart: %v", err)
	}

	info, ok := s.Session("p1")
	if !ok {
		t.Fatal("replacement session missing from the table")
	}
	if len(info.Keywords) != 1 || info.Keywords[0] != "kw2" {
		t.Fatalf("replacement keywords wrong: %v", info.Keywords)
	}
	if err := s.Stop("p1"); err != nil {
		t.Fatalf("replacement session must remain stoppable: %v", err)
	}
}

func TestRunningOnlyAfterFirstCycle(t *testing.T) {
	release := make(chan struct{})
	fetch := &funcFetcher{fn: func(_ context.Context, projectID, _, keyword string) (serp.RankingSnapshot, error) {
		<-release
		return rankedSnapshot(projectID, keyword, 3), nil
	}}
	s, cancel := newTestSupervisor(t, fetch, &captureStore{}, nil)
	defer cancel()

	if err := s.Start("p1", "example.com", []string{"kw"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	info, ok := s.Session("p1")
	if !ok || info.Status != StatusStarting {
		t.Fatalf("session must report starting before its first cycle completes, got %+v", info)
	}

	close(release)
	waitForStatus(t, s, "p1", StatusRunning)
	s.StopAll()
}

func TestStartReplacesKeywords(t *testing.T) {
	fetch := &funcFetcher{fn: func(_ context.Context, projectID, _, keyword string) (serp.RankingSnapshot, error) {
		return rankedSnapshot(projectID, keyword, 3), nil
	}}
	s, cancel := newTestSupervisor(t, fetch, &captureStore{}, nil)
	defer cancel()

	if err := s.Start("p1", "example.com", []string{"a", "b"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.StopAll()

	if err := s.Start("p1", "example.com", []string{"c"}); err != nil {
		t.Fatalf("restart: %v", err)
	}

	info, _ := s.Session("p1")
	if len(info.Keywords) != 1 || info.Keywords[0] != "c" {
		t.Fatalf("keyword set not replaced: %v", info.Keywords)
	}
}

func TestColdStartRaisesNoAlerts(t *testing.T) {
	store := &captureStore{}
	fetch := &funcFetcher{fn: func(_ context.Context, projectID, _, keyword string) (serp.RankingSnapshot, error) {
		return rankedSnapshot(projectID, keyword, 7), nil
	}}
	s, cancel := newTestSupervisor(t, fetch, store, nil)
	defer cancel()

	sess := injectSession(s, "p1", "example.com", []string{"kw"})
	s.cycle(context.Background(), sess, time.Now().UTC())

	if events := store.snapshot(); len(events) != 0 {
		t.Fatalf("first observation must not alert, got %d events", len(events))
	}
	if s.snapshots.Len("p1", "kw") != 1 {
		t.Fatal("snapshot must still be recorded on cold start")
	}
}

func TestDropRaisesAlertAndPushesUpdate(t *testing.T) {
	store := &captureStore{}
	bc := &captureBroadcaster{}

	positions := []int{5, 15}
	var call int
	var mu sync.Mutex
	fetch := &funcFetcher{fn: func(_ context.Context, projectID, _, keyword string) (serp.RankingSnapshot, error) {
		mu.Lock()
		pos := positions[call]
		call++
		mu.Unlock()
		return rankedSnapshot(projectID, keyword, pos), nil
	}}
	s, cancel := newTestSupervisor(t, fetch, store, bc)
	defer cancel()

	sess := injectSession(s, "p1", "example.com", []string{"kw"})
	s.cycle(context.Background(), sess, time.Now().UTC())
	s.cycle(context.Background(), sess, time.Now().UTC())

	events := store.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(events))
	}
	if events[0].Type != alerting.TypeRankDrop || events[0].Severity != alerting.SeverityCritical {
		t.Fatalf("unexpected alert: %+v", events[0])
	}

	var sawUpdate bool
	for _, c := range bc.snapshot() {
		if c == "p1/ranking_update" {
			sawUpdate = true
		}
	}
	if !sawUpdate {
		t.Fatal("position change must push a ranking_update")
	}
}

func TestUnchangedPositionPushesNoUpdate(t *testing.T) {
	store := &captureStore{}
	bc := &captureBroadcaster{}
	fetch := &funcFetcher{fn: func(_ context.Context, projectID, _, keyword string) (serp.RankingSnapshot, error) {
		return rankedSnapshot(projectID, keyword, 5), nil
	}}
	s, cancel := newTestSupervisor(t, fetch, store, bc)
	defer cancel()

	sess := injectSession(s, "p1", "example.com", []string{"kw"})
	s.cycle(context.Background(), sess, time.Now().UTC())
	s.cycle(context.Background(), sess, time.Now().UTC())

	for _, c := range bc.snapshot() {
		if c == "p1/ranking_update" {
			t.Fatal("stable position must not push a ranking_update")
		}
	}
	if events := store.snapshot(); len(events) != 0 {
		t.Fatalf("stable position must not alert, got %d events", len(events))
	}
}

func TestRemovedKeywordResultDiscarded(t *testing.T) {
	store := &captureStore{}
	fetch := &funcFetcher{fn: func(_ context.Context, projectID, _, keyword string) (serp.RankingSnapshot, error) {
		return rankedSnapshot(projectID, keyword, 4), nil
	}}
	s, cancel := newTestSupervisor(t, fetch, store, nil)
	defer cancel()

	sess := injectSession(s, "p1", "example.com", []string{"kw"})

	// The keyword is dropped from the session while its fetch is in
	// flight; the late result must not be recorded.
	s.mu.Lock()
	sess.keywords = []string{"other"}
	s.mu.Unlock()

	if err := s.observe(context.Background(), "p1", "example.com", "kw", time.Now().UTC()); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if s.snapshots.Len("p1", "kw") != 0 {
		t.Fatal("result for a removed keyword must be discarded")
	}
}

func TestTechnicalIssueAfterConsecutiveFailures(t *testing.T) {
	store := &captureStore{}
	fetch := &funcFetcher{fn: func(_ context.Context, _, _, _ string) (serp.RankingSnapshot, error) {
		return serp.RankingSnapshot{}, errors.New("boom")
	}}
	s, cancel := newTestSupervisor(t, fetch, store, nil)
	defer cancel()
	s.opts.FailureAlertAfter = 3

	sess := injectSession(s, "p1", "example.com", []string{"kw"})
	for i := 0; i < 3; i++ {
		s.cycle(context.Background(), sess, time.Now().UTC())
	}

	events := store.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected one technical_issue alert, got %d", len(events))
	}
	if events[0].Type != alerting.TypeTechnicalIssue {
		t.Fatalf("unexpected alert type %s", events[0].Type)
	}

	// A successful cycle resets the streak.
	s.mu.Lock()
	sess.failures = 2
	s.mu.Unlock()
	s.trackCycleOutcome(context.Background(), sess, false)

	s.mu.Lock()
	streak := sess.failures
	s.mu.Unlock()
	if streak != 0 {
		t.Fatalf("streak should reset on success, got %d", streak)
	}
}
