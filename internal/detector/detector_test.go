package detector

import (
	"sort"
	"testing"

	"rank-alerts/internal/serp"
)

func ranked(pos int, features []string, competitors ...string) serp.RankingSnapshot {
	snap := serp.RankingSnapshot{
		ProjectID:    "p1",
		Keyword:      "seo tools",
		Position:     serp.IntPtr(pos),
		SERPFeatures: features,
	}
	for i, domain := range competitors {
		snap.Competitors = append(snap.Competitors, serp.Competitor{Position: i + 1, Domain: domain})
	}
	return snap
}

func unranked() serp.RankingSnapshot {
	return serp.RankingSnapshot{ProjectID: "p1", Keyword: "seo tools"}
}

func TestColdStartProducesEmptyDiff(t *testing.T) {
	diff := Detect(nil, ranked(15, []string{"featured_snippet"}, "rival.com"))
	if !diff.Empty() {
		t.Fatalf("first observation must yield an empty diff: %+v", diff)
	}
}

func TestPositionDelta(t *testing.T) {
	prev := ranked(15, nil)
	diff := Detect(&prev, ranked(12, nil))
	if diff.PositionDelta == nil || *diff.PositionDelta != 3 {
		t.Fatalf("15 -> 12 should be delta +3, got %v", diff.PositionDelta)
	}

	diff = Detect(&prev, ranked(25, nil))
	if diff.PositionDelta == nil || *diff.PositionDelta != -10 {
		t.Fatalf("15 -> 25 should be delta -10, got %v", diff.PositionDelta)
	}

}

func TestUnchangedPositionReportsZeroDelta(t *testing.T) {
	prev := ranked(15, nil)
	diff := Detect(&prev, ranked(15, nil))

	if diff.PositionDelta == nil || *diff.PositionDelta != 0 {
		t.Fatalf("both sides ranked must always carry a delta, got %v", diff.PositionDelta)
	}
	if diff.PositionMoved() {
		t.Fatal("zero delta must not count as movement")
	}
	if !diff.Empty() {
		t.Fatalf("zero delta alone must leave the diff empty: %+v", diff)
	}
}

func TestEnteredExited(t *testing.T) {
	prev := unranked()
	diff := Detect(&prev, ranked(8, nil))
	if !diff.Entered || diff.PositionDelta != nil {
		t.Fatalf("unranked -> ranked must be an entered signal, got %+v", diff)
	}

	prevRanked := ranked(8, nil)
	diff = Detect(&prevRanked, unranked())
	if !diff.Exited || diff.PositionDelta != nil {
		t.Fatalf("ranked -> unranked must be an exited signal, got %+v", diff)
	}
}

func TestCompetitorDelta(t *testing.T) {
	prev := ranked(5, nil, "rival-a.com", "rival-b.com")
	diff := Detect(&prev, ranked(5, nil, "rival-b.com", "rival-c.com"))

	sort.Strings(diff.CompetitorsAdded)
	sort.Strings(diff.CompetitorsRemoved)
	if len(diff.CompetitorsAdded) != 1 || diff.CompetitorsAdded[0] != "rival-c.com" {
		t.Fatalf("unexpected competitors added: %v", diff.CompetitorsAdded)
	}
	if len(diff.CompetitorsRemoved) != 1 || diff.CompetitorsRemoved[0] != "rival-a.com" {
		t.Fatalf("unexpected competitors removed: %v", diff.CompetitorsRemoved)
	}
}

func TestFeatureDelta(t *testing.T) {
	prev := ranked(5, []string{"featured_snippet", "people_also_ask"})
	diff := Detect(&prev, ranked(5, []string{"people_also_ask", "local_pack"}))

	if !diff.HasFeatureRemoved("featured_snippet") {
		t.Fatalf("featured_snippet should be removed: %v", diff.FeaturesRemoved)
	}
	if !diff.HasFeatureAdded("local_pack") {
		t.Fatalf("local_pack should be added: %v", diff.FeaturesAdded)
	}
	if diff.HasFeatureRemoved("people_also_ask") || diff.HasFeatureAdded("people_also_ask") {
		t.Fatal("unchanged feature must not appear in either delta")
	}
}
