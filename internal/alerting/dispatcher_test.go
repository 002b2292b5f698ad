package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeStore struct {
	mu       sync.Mutex
	events   []Event
	failures int
}

func (f *fakeStore) InsertAlert(ctx context.Context, event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("write failed")
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeBroadcaster) Broadcast(projectID, messageType string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, projectID+"/"+messageType)
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []Event
	err   error
	fired chan struct{}
}

func (f *fakeNotifier) Name() string { return "fake" }

func (f *fakeNotifier) Send(ctx context.Context, event Event) error {
	f.mu.Lock()
	f.sent = append(f.sent, event)
	f.mu.Unlock()
	if f.fired != nil {
		close(f.fired)
	}
	return f.err
}

func testEvent() Event {
	return NewEvent("p1", "seo tools", TypeRankDrop, SeverityWarning, "Ranking dropped from #10 to #15", nil)
}

func TestRaisePersistsAndBroadcasts(t *testing.T) {
	store := &fakeStore{}
	broadcaster := &fakeBroadcaster{}
	notifier := &fakeNotifier{fired: make(chan struct{})}

	d := NewDispatcher(store, broadcaster, []Notifier{notifier}, nil, zerolog.Nop())
	d.Raise(context.Background(), testEvent())

	if store.count() != 1 {
		t.Fatalf("expected alert persisted once, got %d", store.count())
	}
	if len(broadcaster.messages) != 1 || broadcaster.messages[0] != "p1/alert" {
		t.Fatalf("expected one alert broadcast to p1, got %v", broadcaster.messages)
	}

	select {
	case <-notifier.fired:
	case <-time.After(time.Second):
		t.Fatal("notifier was never invoked")
	}
}

func TestRaiseRetriesPersistenceOnce(t *testing.T) {
	store := &fakeStore{failures: 1}
	d := NewDispatcher(store, nil, nil, nil, zerolog.Nop())
	d.Raise(context.Background(), testEvent())

	if store.count() != 1 {
		t.Fatalf("a single write failure should be retried, got %d persisted", store.count())
	}
}

func TestRaiseSurvivesPersistenceFailure(t *testing.T) {
	store := &fakeStore{failures: 2}
	broadcaster := &fakeBroadcaster{}
	d := NewDispatcher(store, broadcaster, nil, nil, zerolog.Nop())
	d.Raise(context.Background(), testEvent())

	if len(broadcaster.messages) != 1 {
		t.Fatal("broadcast must happen even when persistence fails twice")
	}
}

func TestRaiseIgnoresNotifierErrors(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("channel down"), fired: make(chan struct{})}
	broadcaster := &fakeBroadcaster{}
	d := NewDispatcher(nil, broadcaster, []Notifier{notifier}, nil, zerolog.Nop())
	d.Raise(context.Background(), testEvent())

	select {
	case <-notifier.fired:
	case <-time.After(time.Second):
		t.Fatal("notifier was never invoked")
	}
	if len(broadcaster.messages) != 1 {
		t.Fatal("notifier failure must not affect the push channel")
	}
}
