package detector

import (
	"rank-alerts/internal/serp"
)

// Diff is the structured change between two consecutive snapshots of the
// same keyword.
//
// PositionDelta is previous minus current, so a positive delta means the
// keyword moved toward rank 1. It is set (zero included) whenever both
// sides were ranked, and nil when either side was unranked; those
// transitions are surfaced as Entered/Exited instead of a number.
type Diff struct {
	PositionDelta      *int
	Entered            bool
	Exited             bool
	CompetitorsAdded   []string
	CompetitorsRemoved []string
	FeaturesAdded      []string
	FeaturesRemoved    []string
}

// PositionMoved reports whether the position actually changed. A zero
// delta records that both snapshots were ranked without counting as
// movement.
func (d Diff) PositionMoved() bool {
	return d.PositionDelta != nil && *d.PositionDelta != 0
}

// Empty reports whether the diff carries no change signal at all.
func (d Diff) Empty() bool {
	return !d.PositionMoved() && !d.Entered && !d.Exited &&
		len(d.CompetitorsAdded) == 0 && len(d.CompetitorsRemoved) == 0 &&
		len(d.FeaturesAdded) == 0 && len(d.FeaturesRemoved) == 0
}

// Detect compares the previous snapshot (nil on cold start) with the
// current one. The first observation ever yields an empty diff so no alert
// fires on cold start.
func Detect(previous *serp.RankingSnapshot, current serp.RankingSnapshot) Diff {
	if previous == nil {
		return Diff{}
	}

	var diff Diff

	switch {
	case previous.Ranked() && current.Ranked():
		delta := *previous.Position - *current.Position
		diff.PositionDelta = &delta
	case !previous.Ranked() && current.Ranked():
		diff.Entered = true
	case previous.Ranked() && !current.Ranked():
		diff.Exited = true
	}

	diff.CompetitorsAdded, diff.CompetitorsRemoved = setDiff(previous.CompetitorDomains(), current.CompetitorDomains())
	diff.FeaturesAdded, diff.FeaturesRemoved = setDiff(previous.FeatureSet(), current.FeatureSet())

	return diff
}

// HasFeatureRemoved reports whether the named feature was lost.
func (d Diff) HasFeatureRemoved(feature string) bool {
	return contains(d.FeaturesRemoved, feature)
}

// HasFeatureAdded reports whether the named feature was gained.
func (d Diff) HasFeatureAdded(feature string) bool {
	return contains(d.FeaturesAdded, feature)
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

// setDiff returns (current-previous, previous-current).
func setDiff(previous, current map[string]struct{}) (added, removed []string) {
	for v := range current {
		if _, ok := previous[v]; !ok {
			added = append(added, v)
		}
	}
	for v := range previous {
		if _, ok := current[v]; !ok {
			removed = append(removed, v)
		}
	}
	return added, removed
}
