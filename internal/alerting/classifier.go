package alerting

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"rank-alerts/internal/detector"
	"rank-alerts/internal/logging"
	"rank-alerts/internal/serp"
)

// Thresholds configure alert triggering. Zero values fall back to defaults.
type Thresholds struct {
	// Drop is the minimum worsening (positions) that raises a RankDrop.
	Drop int
	// Gain is the minimum improvement (positions) that raises a RankGain.
	Gain int
	// Volatility is the coefficient-of-variation level raising a
	// Volatility warning; twice this level escalates to critical.
	Volatility float64
}

func (t Thresholds) withDefaults() Thresholds {
	if t.Drop <= 0 {
		t.Drop = 3
	}
	if t.Gain <= 0 {
		t.Gain = 3
	}
	if t.Volatility <= 0 {
		t.Volatility = 0.30
	}
	return t
}

// Classifier maps a diff plus volatility metric into zero or more alerts,
// applying cooldown suppression per (project, keyword, type).
type Classifier struct {
	thresholds Thresholds
	cooldown   *CooldownGate
	logger     zerolog.Logger
}

// NewClassifier constructs a classifier. The cooldown gate may be shared
// across project loops; it synchronizes internally.
func NewClassifier(thresholds Thresholds, cooldown *CooldownGate, logger zerolog.Logger) *Classifier {
	return &Classifier{
		thresholds: thresholds.withDefaults(),
		cooldown:   cooldown,
		logger:     logging.Component(logger, "classifier"),
	}
}

// Classify evaluates one keyword transition. previous is nil on cold start,
// in which case the diff is empty and nothing fires.
func (c *Classifier) Classify(previous *serp.RankingSnapshot, current serp.RankingSnapshot, diff detector.Diff, volatility float64) []Event {
	var events []Event

	if e, ok := c.rankChange(previous, current, diff); ok {
		events = append(events, e)
	}
	if e, ok := c.newCompetitors(current, diff); ok {
		events = append(events, e)
	}
	events = append(events, c.featureChanges(current, diff)...)
	if e, ok := c.volatilitySpike(current, volatility); ok {
		events = append(events, e)
	}

	for _, e := range events {
		c.logger.Info().
			Str("project_id", e.ProjectID).
			Str("keyword", e.Keyword).
			Str("type", string(e.Type)).
			Str("severity", string(e.Severity)).
			Msg(e.Message)
	}

	return events
}

// rankChange handles numeric deltas plus the entered/exited signals. A
// single transition can raise at most one of RankDrop and RankGain.
func (c *Classifier) rankChange(previous *serp.RankingSnapshot, current serp.RankingSnapshot, diff detector.Diff) (Event, bool) {
	switch {
	case diff.Exited:
		// Fell out of the observed depth entirely.
		magnitude := 0.0
		data := map[string]any{"exited": true}
		if previous != nil && previous.Position != nil {
			magnitude = float64(*previous.Position)
			data["previous_position"] = *previous.Position
		}
		if !c.allow(current, TypeRankDrop, magnitude) {
			return Event{}, false
		}
		return NewEvent(current.ProjectID, current.Keyword, TypeRankDrop, SeverityCritical,
			fmt.Sprintf("%q dropped out of the ranked results", current.Keyword), data), true

	case diff.Entered:
		data := map[string]any{"entered": true}
		if current.Position != nil {
			data["current_position"] = *current.Position
		}
		if !c.allow(current, TypeRankGain, float64(positionOrZero(current.Position))) {
			return Event{}, false
		}
		return NewEvent(current.ProjectID, current.Keyword, TypeRankGain, SeverityInfo,
			fmt.Sprintf("%q entered the ranked results at #%d", current.Keyword, positionOrZero(current.Position)), data), true

	case diff.PositionDelta == nil:
		return Event{}, false
	}

	delta := *diff.PositionDelta
	magnitude := math.Abs(float64(delta))
	data := map[string]any{
		"previous_position": *previous.Position,
		"current_position":  *current.Position,
		"change":            delta,
	}

	if delta <= -c.thresholds.Drop {
		if !c.allow(current, TypeRankDrop, magnitude) {
			return Event{}, false
		}
		return NewEvent(current.ProjectID, current.Keyword, TypeRankDrop, dropSeverity(int(magnitude)),
			fmt.Sprintf("Ranking dropped from #%d to #%d", *previous.Position, *current.Position), data), true
	}

	if delta >= c.thresholds.Gain {
		if !c.allow(current, TypeRankGain, magnitude) {
			return Event{}, false
		}
		return NewEvent(current.ProjectID, current.Keyword, TypeRankGain, SeverityInfo,
			fmt.Sprintf("Ranking improved from #%d to #%d", *previous.Position, *current.Position), data), true
	}

	return Event{}, false
}

// dropSeverity is monotonically non-decreasing in the drop magnitude.
func dropSeverity(magnitude int) Severity {
	switch {
	case magnitude >= 10:
		return SeverityCritical
	case magnitude >= 5:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

func (c *Classifier) newCompetitors(current serp.RankingSnapshot, diff detector.Diff) (Event, bool) {
	if len(diff.CompetitorsAdded) == 0 {
		return Event{}, false
	}
	if !c.allow(current, TypeNewCompetitor, float64(len(diff.CompetitorsAdded))) {
		return Event{}, false
	}

	added := append([]string(nil), diff.CompetitorsAdded...)
	sort.Strings(added)

	return NewEvent(current.ProjectID, current.Keyword, TypeNewCompetitor, SeverityInfo,
		"New competitors detected: "+strings.Join(added, ", "),
		map[string]any{"new_competitors": added}), true
}

func (c *Classifier) featureChanges(current serp.RankingSnapshot, diff detector.Diff) []Event {
	var events []Event

	if diff.HasFeatureRemoved(serp.FeatureFeaturedSnippet) && c.allow(current, TypeLostFeature, 1) {
		events = append(events, NewEvent(current.ProjectID, current.Keyword, TypeLostFeature, SeverityCritical,
			"Lost featured snippet",
			map[string]any{"lost_features": diff.FeaturesRemoved}))
	}
	if diff.HasFeatureAdded(serp.FeatureFeaturedSnippet) && c.allow(current, TypeGainedFeature, 1) {
		events = append(events, NewEvent(current.ProjectID, current.Keyword, TypeGainedFeature, SeverityInfo,
			"Gained featured snippet",
			map[string]any{"gained_features": diff.FeaturesAdded}))
	}

	return events
}

func (c *Classifier) volatilitySpike(current serp.RankingSnapshot, volatility float64) (Event, bool) {
	if volatility <= c.thresholds.Volatility {
		return Event{}, false
	}
	if !c.allow(current, TypeVolatility, volatility) {
		return Event{}, false
	}

	severity := SeverityWarning
	if volatility > 2*c.thresholds.Volatility {
		severity = SeverityCritical
	}

	return NewEvent(current.ProjectID, current.Keyword, TypeVolatility, severity,
		fmt.Sprintf("High SERP volatility detected: %.2f%%", volatility*100),
		map[string]any{"volatility": volatility}), true
}

func (c *Classifier) allow(current serp.RankingSnapshot, typ Type, magnitude float64) bool {
	if c.cooldown == nil {
		return true
	}
	allowed := c.cooldown.Allow(current.ProjectID, current.Keyword, typ, magnitude)
	if !allowed {
		c.logger.Debug().
			Str("project_id", current.ProjectID).
			Str("keyword", current.Keyword).
			Str("type", string(typ)).
			Float64("magnitude", magnitude).
			Msg("alert suppressed by cooldown")
	}
	return allowed
}

func positionOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
