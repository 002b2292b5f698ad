package fetcher

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"rank-alerts/internal/logging"
	"rank-alerts/internal/serp"
)

const liveSerpPath = "/v3/serp/google/organic/live/advanced"

// Options parameterise the DataForSEO SERP fetcher.
type Options struct {
	BaseURL         string
	Login           string
	Password        string
	LocationCode    int
	LanguageCode    string
	Depth           int
	CompetitorLimit int
	Timeout         time.Duration
	UserAgent       string
}

// DataForSEO fetches live SERP data and reduces it to ranking snapshots.
type DataForSEO struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	auth    string
}

// NewDataForSEO constructs a SERP fetcher.
func NewDataForSEO(opts Options, logger zerolog.Logger) *DataForSEO {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.LanguageCode == "" {
		opts.LanguageCode = "en"
	}
	if opts.LocationCode == 0 {
		opts.LocationCode = 2840
	}
	if opts.Depth <= 0 {
		opts.Depth = 100
	}
	if opts.CompetitorLimit <= 0 {
		opts.CompetitorLimit = 5
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.dataforseo.com"
	}

	credentials := base64.StdEncoding.EncodeToString([]byte(opts.Login + ":" + opts.Password))

	return &DataForSEO{
		opts:    opts,
		logger:  logging.Component(logger, "serp_fetcher"),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		auth:    "Basic " + credentials,
	}
}

// Fetch retrieves a live SERP and extracts the project's position,
// competitor set, and SERP features for the keyword.
func (d *DataForSEO) Fetch(ctx context.Context, projectID, domain, keyword string) (serp.RankingSnapshot, error) {
	if domain == "" {
		return serp.RankingSnapshot{}, errors.New("project domain required")
	}
	if keyword == "" {
		return serp.RankingSnapshot{}, errors.New("keyword required")
	}

	payload := []liveTask{{
		Keyword:      keyword,
		LocationCode: d.opts.LocationCode,
		LanguageCode: d.opts.LanguageCode,
		Depth:        d.opts.Depth,
		Device:       "desktop",
	}}

	body, err := json.Marshal(payload)
	if err != nil {
		return serp.RankingSnapshot{}, fmt.Errorf("marshal serp task: %w", err)
	}

	endpoint := d.baseURL + liveSerpPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return serp.RankingSnapshot{}, fmt.Errorf("create serp request: %w", err)
	}
	req.Header.Set("Authorization", d.auth)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(d.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return serp.RankingSnapshot{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return serp.RankingSnapshot{}, &FetchError{Kind: KindMalformed, Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return serp.RankingSnapshot{}, &FetchError{Kind: KindRateLimited, Code: resp.StatusCode, Err: errors.New("serp api rate limited")}
	}
	if resp.StatusCode != http.StatusOK {
		return serp.RankingSnapshot{}, &FetchError{
			Kind: KindUpstream,
			Code: resp.StatusCode,
			Err:  fmt.Errorf("serp api status %d: %s", resp.StatusCode, strings.TrimSpace(string(payloadBytes))),
		}
	}

	var live liveResponse
	if err := json.Unmarshal(payloadBytes, &live); err != nil {
		return serp.RankingSnapshot{}, &FetchError{Kind: KindMalformed, Err: err}
	}

	items, err := live.items()
	if err != nil {
		return serp.RankingSnapshot{}, &FetchError{Kind: KindMalformed, Err: err}
	}

	snapshot := d.reduce(projectID, domain, keyword, items)

	d.logger.Debug().
		Str("project_id", projectID).
		Str("keyword", keyword).
		Bool("ranked", snapshot.Ranked()).
		Int("competitors", len(snapshot.Competitors)).
		Msg("serp fetched")

	return snapshot, nil
}

// reduce folds raw SERP items into a snapshot: first organic hit for the
// project domain becomes the position, remaining organic results become
// competitors, non-organic item types become the feature set.
func (d *DataForSEO) reduce(projectID, domain, keyword string, items []serpItem) serp.RankingSnapshot {
	snapshot := serp.RankingSnapshot{
		ProjectID:  projectID,
		Keyword:    keyword,
		ObservedAt: time.Now().UTC(),
	}

	featureSet := make(map[string]struct{})
	rank := 0
	for _, item := range items {
		if item.Type != "organic" {
			if _, seen := featureSet[item.Type]; !seen {
				featureSet[item.Type] = struct{}{}
				snapshot.SERPFeatures = append(snapshot.SERPFeatures, item.Type)
			}
			continue
		}

		rank++
		if snapshot.Position == nil && matchesDomain(item, domain) {
			snapshot.Position = serp.IntPtr(rank)
			snapshot.URL = item.URL
			continue
		}

		if len(snapshot.Competitors) < d.opts.CompetitorLimit {
			snapshot.Competitors = append(snapshot.Competitors, serp.Competitor{
				Position: rank,
				Domain:   item.Domain,
				Title:    item.Title,
			})
		}
	}

	return snapshot
}

func matchesDomain(item serpItem, domain string) bool {
	if item.Domain != "" && strings.EqualFold(strings.TrimPrefix(item.Domain, "www."), strings.TrimPrefix(domain, "www.")) {
		return true
	}
	return item.URL != "" && strings.Contains(item.URL, domain)
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Kind: KindTimeout, Err: err}
	}
	return &FetchError{Kind: KindUpstream, Err: err}
}

type liveTask struct {
	Keyword      string `json:"keyword"`
	LocationCode int    `json:"location_code"`
	LanguageCode string `json:"language_code"`
	Depth        int    `json:"depth"`
	Device       string `json:"device"`
}

type serpItem struct {
	Type   string `json:"type"`
	Domain string `json:"domain"`
	URL    string `json:"url"`
	Title  string `json:"title"`
}

type liveResponse struct {
	StatusCode int `json:"status_code"`
	Tasks      []struct {
		StatusCode int `json:"status_code"`
		Result     []struct {
			Items []serpItem `json:"items"`
		} `json:"result"`
	} `json:"tasks"`
}

func (r liveResponse) items() ([]serpItem, error) {
	if len(r.Tasks) == 0 {
		return nil, errors.New("serp response has no tasks")
	}
	task := r.Tasks[0]
	if len(task.Result) == 0 {
		return nil, errors.New("serp task has no result")
	}
	return task.Result[0].Items, nil
}

var _ RankFetcher = (*DataForSEO)(nil)
