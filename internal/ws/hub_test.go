package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestHub() *Hub {
	return NewHub(nil, zerolog.Nop())
}

func newTestClient(h *Hub) *Client {
	return NewClient(h, nil, nil, zerolog.Nop())
}

// deadClient has no queue capacity, so any delivery attempt fails.
func deadClient(h *Hub) *Client {
	c := newTestClient(h)
	c.send = make(chan []byte)
	return c
}

func receive(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case payload := <-c.send:
		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return Envelope{}
	}
}

func TestBroadcastReachesProjectSubscribers(t *testing.T) {
	hub := newTestHub()
	a := newTestClient(hub)
	b := newTestClient(hub)
	other := newTestClient(hub)

	hub.Subscribe(a, "p1")
	hub.Subscribe(b, "p1")
	hub.Subscribe(other, "p2")

	hub.Broadcast("p1", MessageTypeAlert, map[string]string{"id": "x"})

	for _, c := range []*Client{a, b} {
		env := receive(t, c)
		if env.Type != MessageTypeAlert || env.ProjectID != "p1" {
			t.Fatalf("unexpected envelope: %+v", env)
		}
		if env.Timestamp.IsZero() {
			t.Fatal("envelope must carry a timestamp")
		}
	}

	select {
	case <-other.send:
		t.Fatal("subscriber of another project must not receive the message")
	default:
	}
}

func TestBroadcastPrunesDeadConnections(t *testing.T) {
	// Three subscribers, one dead: the other two still receive the
	// message and the dead one is removed from the registry.
	hub := newTestHub()
	a := newTestClient(hub)
	b := newTestClient(hub)
	dead := deadClient(hub)

	hub.Subscribe(a, "p1")
	hub.Subscribe(dead, "p1")
	hub.Subscribe(b, "p1")

	hub.Broadcast("p1", MessageTypeAlert, nil)

	receive(t, a)
	receive(t, b)

	if got := hub.SubscriberCount("p1"); got != 2 {
		t.Fatalf("dead connection should be pruned, count = %d", got)
	}

	// A second broadcast still reaches the survivors.
	hub.Broadcast("p1", MessageTypeRankingUpdate, nil)
	receive(t, a)
	receive(t, b)
}

func TestBroadcastAll(t *testing.T) {
	hub := newTestHub()
	a := newTestClient(hub)
	b := newTestClient(hub)
	hub.Subscribe(a, "p1")
	hub.Subscribe(b, "p2")

	hub.BroadcastAll(MessageTypePong, nil)

	receive(t, a)
	receive(t, b)
}

func TestResubscribeMovesProject(t *testing.T) {
	hub := newTestHub()
	c := newTestClient(hub)

	hub.Subscribe(c, "p1")
	hub.Subscribe(c, "p2")

	if hub.SubscriberCount("p1") != 0 {
		t.Fatal("client must leave the previous project on resubscribe")
	}
	if hub.SubscriberCount("p2") != 1 {
		t.Fatal("client must join the new project")
	}

	hub.Broadcast("p2", MessageTypeAlert, nil)
	env := receive(t, c)
	if env.ProjectID != "p2" {
		t.Fatalf("expected p2 envelope, got %+v", env)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	hub := newTestHub()
	c := newTestClient(hub)
	hub.Subscribe(c, "p1")

	hub.Unsubscribe(c)
	hub.Unsubscribe(c)

	if hub.SubscriberCount("p1") != 0 {
		t.Fatal("unsubscribe should remove the client")
	}

	// Broadcasting after unsubscribe must not panic on the closed queue.
	hub.Broadcast("p1", MessageTypeAlert, nil)
}

func TestConcurrentSubscribeBroadcast(t *testing.T) {
	hub := newTestHub()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			c := newTestClient(hub)
			hub.Subscribe(c, "p1")
			hub.Unsubscribe(c)
		}
	}()

	for i := 0; i < 200; i++ {
		hub.Broadcast("p1", MessageTypeAlert, nil)
		hub.BroadcastAll(MessageTypeRankingUpdate, nil)
	}
	<-done
}
