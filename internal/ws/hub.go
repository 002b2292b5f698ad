package ws

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"rank-alerts/internal/logging"
	"rank-alerts/internal/metrics"
)

// Hub is the connection registry: it tracks live subscriber connections
// grouped by project and fans messages out to them.
//
// It is the one resource mutated by every project's monitoring loop at
// once, so subscribe/unsubscribe/broadcast are serialized through an
// internal mutex. Delivery is at-most-once, best-effort: a connection that
// cannot take a message is pruned rather than failing the broadcast.
type Hub struct {
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	projects map[string]map[*Client]struct{}
}

// NewHub constructs an empty registry. met may be nil.
func NewHub(met *metrics.Metrics, logger zerolog.Logger) *Hub {
	return &Hub{
		logger:   logging.Component(logger, "ws_hub"),
		metrics:  met,
		projects: make(map[string]map[*Client]struct{}),
	}
}

// Subscribe associates a connection with a project, moving it from any
// previous association. A connection belongs to at most one project.
func (h *Hub) Subscribe(c *Client, projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.registered {
		h.detachLocked(c)
	} else {
		c.registered = true
		if h.metrics != nil {
			h.metrics.ConnectedClients.Inc()
		}
	}

	clients, ok := h.projects[projectID]
	if !ok {
		clients = make(map[*Client]struct{})
		h.projects[projectID] = clients
	}
	clients[c] = struct{}{}
	c.projectID = projectID

	h.logger.Debug().
		Str("project_id", projectID).
		Int("subscribers", len(clients)).
		Msg("client subscribed")
}

// Unsubscribe removes a connection from the registry and closes its
// outbound queue. Safe to call more than once.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) detachLocked(c *Client) {
	if clients, ok := h.projects[c.projectID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.projects, c.projectID)
		}
	}
}

func (h *Hub) removeLocked(c *Client) {
	if !c.registered {
		return
	}
	h.detachLocked(c)
	c.registered = false
	c.closeSend()
	if h.metrics != nil {
		h.metrics.ConnectedClients.Dec()
	}

	h.logger.Debug().
		Str("project_id", c.projectID).
		Msg("client unsubscribed")
}

// Broadcast pushes a message to every subscriber of a project.
func (h *Hub) Broadcast(projectID, messageType string, data any) {
	payload, err := json.Marshal(NewEnvelope(messageType, projectID, data))
	if err != nil {
		h.logger.Error().Err(err).Str("type", messageType).Msg("failed to marshal broadcast")
		return
	}
	h.deliver(h.snapshotProject(projectID), payload)
}

// BroadcastAll pushes a message to every subscriber of every project.
func (h *Hub) BroadcastAll(messageType string, data any) {
	payload, err := json.Marshal(NewEnvelope(messageType, "", data))
	if err != nil {
		h.logger.Error().Err(err).Str("type", messageType).Msg("failed to marshal broadcast")
		return
	}
	h.deliver(h.snapshotAll(), payload)
}

// deliver sends without holding the lock, then prunes clients whose queue
// rejected the message so one dead connection never affects the rest.
func (h *Hub) deliver(clients []*Client, payload []byte) {
	var stale []*Client
	for _, c := range clients {
		if !c.trySend(payload) {
			stale = append(stale, c)
		}
	}
	if len(stale) == 0 {
		return
	}

	h.mu.Lock()
	for _, c := range stale {
		h.removeLocked(c)
	}
	h.mu.Unlock()

	h.logger.Info().Int("pruned", len(stale)).Msg("removed unresponsive subscribers")
}

func (h *Hub) snapshotProject(projectID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]*Client, 0, len(h.projects[projectID]))
	for c := range h.projects[projectID] {
		clients = append(clients, c)
	}
	return clients
}

func (h *Hub) snapshotAll() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var clients []*Client
	for _, project := range h.projects {
		for c := range project {
			clients = append(clients, c)
		}
	}
	return clients
}

// SubscriberCount reports the live connections for a project.
func (h *Hub) SubscriberCount(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.projects[projectID])
}
