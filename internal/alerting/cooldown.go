package alerting

import (
	"sync"
	"time"
)

// CooldownGate suppresses repeat alerts of the same (project, keyword, type)
// within a window, unless the new magnitude exceeds the previous triggering
// magnitude by the escalation margin. This keeps noisy rankings from causing
// alert storms while still surfacing genuinely escalating problems.
type CooldownGate struct {
	window time.Duration
	margin float64

	mu    sync.Mutex
	fired map[cooldownKey]firing
	now   func() time.Time
}

type cooldownKey struct {
	projectID string
	keyword   string
	typ       Type
}

type firing struct {
	at        time.Time
	magnitude float64
}

// NewCooldownGate builds a gate. Defaults: 1h window, 50% escalation margin.
func NewCooldownGate(window time.Duration, margin float64) *CooldownGate {
	if window <= 0 {
		window = time.Hour
	}
	if margin < 0 {
		margin = 0.5
	}
	return &CooldownGate{
		window: window,
		margin: margin,
		fired:  make(map[cooldownKey]firing),
		now:    time.Now,
	}
}

// Allow reports whether an alert with the given magnitude may fire, and if
// so records the firing. Magnitude is abs(position delta) for rank alerts
// and the volatility value for volatility alerts.
func (g *CooldownGate) Allow(projectID, keyword string, typ Type, magnitude float64) bool {
	key := cooldownKey{projectID: projectID, keyword: keyword, typ: typ}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.fired[key]; ok && now.Sub(last.at) < g.window {
		if magnitude <= last.magnitude*(1+g.margin) {
			return false
		}
	}

	g.fired[key] = firing{at: now, magnitude: magnitude}
	return true
}

// Reset forgets all recorded firings for a project, so a restarted session
// starts with a clean slate.
func (g *CooldownGate) Reset(projectID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for key := range g.fired {
		if key.projectID == projectID {
			delete(g.fired, key)
		}
	}
}
