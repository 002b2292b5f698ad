package serp

import (
	"strings"
	"time"
)

// FeatureFeaturedSnippet is the SERP feature whose loss is always treated
// as critical.
const FeatureFeaturedSnippet = "featured_snippet"

// RankingSnapshot is one point-in-time observation of a keyword's search
// ranking for a project's domain. Position is nil when the domain was not
// found within the observed result depth.
type RankingSnapshot struct {
	ProjectID    string       `json:"project_id"`
	Keyword      string       `json:"keyword"`
	Position     *int         `json:"position"`
	URL          string       `json:"url,omitempty"`
	SERPFeatures []string     `json:"serp_features,omitempty"`
	Competitors  []Competitor `json:"competitors,omitempty"`
	ObservedAt   time.Time    `json:"observed_at"`
}

// Competitor is another domain observed in the same result page.
type Competitor struct {
	Position int    `json:"position"`
	Domain   string `json:"domain"`
	Title    string `json:"title,omitempty"`
}

// Ranked reports whether the domain appeared in the observed results.
func (s RankingSnapshot) Ranked() bool {
	return s.Position != nil
}

// FeatureSet returns the observed SERP features as a set, normalised to
// lower case.
func (s RankingSnapshot) FeatureSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.SERPFeatures))
	for _, feature := range s.SERPFeatures {
		set[strings.ToLower(feature)] = struct{}{}
	}
	return set
}

// CompetitorDomains returns the competitor domains as a set.
func (s RankingSnapshot) CompetitorDomains() map[string]struct{} {
	set := make(map[string]struct{}, len(s.Competitors))
	for _, competitor := range s.Competitors {
		if competitor.Domain == "" {
			continue
		}
		set[competitor.Domain] = struct{}{}
	}
	return set
}

// IntPtr is a convenience for building optional positions.
func IntPtr(v int) *int {
	return &v
}
