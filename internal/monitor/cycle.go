package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"rank-alerts/internal/alerting"
	"rank-alerts/internal/detector"
	"rank-alerts/internal/fetcher"
	"rank-alerts/internal/serp"
	"rank-alerts/internal/ws"
	"rank-alerts/pkg/retry"
)

// cycle polls every keyword of the session once, bounded by the configured
// concurrency, and feeds each observation through detection, analysis, and
// classification.
func (s *Supervisor) cycle(ctx context.Context, sess *session, at time.Time) {
	s.mu.Lock()
	keywords := append([]string(nil), sess.keywords...)
	domain := sess.domain
	s.mu.Unlock()

	if len(keywords) == 0 {
		return
	}

	start := time.Now()
	var failed atomic.Int64

	sem := make(chan struct{}, s.opts.Concurrency)
	var wg sync.WaitGroup
	for _, keyword := range keywords {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}

		wg.Add(1)
		go func(keyword string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.observe(ctx, sess.projectID, domain, keyword, at); err != nil {
				failed.Add(1)
			}
		}(keyword)
	}
	wg.Wait()

	s.mu.Lock()
	sess.lastCheckAt = at
	sess.nextCheckAt = at.Add(s.opts.Interval)
	s.mu.Unlock()

	outcome := "ok"
	if int(failed.Load()) == len(keywords) {
		outcome = "failed"
	}
	if s.metrics != nil {
		s.metrics.CyclesTotal.WithLabelValues(sess.projectID, outcome).Inc()
		s.metrics.CycleDuration.WithLabelValues(sess.projectID).Observe(time.Since(start).Seconds())
	}

	s.trackCycleOutcome(ctx, sess, outcome == "failed")
}

// observe fetches one keyword, records the snapshot, and raises whatever
// alerts the transition warrants.
func (s *Supervisor) observe(ctx context.Context, projectID, domain, keyword string, at time.Time) error {
	var snap serp.RankingSnapshot

	cfg := s.opts.Retry
	cfg.RetryIf = fetcher.Retryable
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.Debug().Err(err).
			Str("project_id", projectID).
			Str("keyword", keyword).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("retrying keyword fetch")
	}

	err := retry.Do(ctx, cfg, func() error {
		fetchCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
		defer cancel()

		fetched, fetchErr := s.fetcher.Fetch(fetchCtx, projectID, domain, keyword)
		if fetchErr != nil {
			return fetchErr
		}
		snap = fetched
		return nil
	})
	if err != nil {
		s.recordFetchError(projectID, keyword, err)
		return err
	}

	// A cancelled session must not write results that raced its shutdown.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !s.keywordActive(projectID, keyword) {
		return nil
	}

	previous, hadPrevious := s.snapshots.Latest(projectID, keyword)
	s.snapshots.Append(snap)

	if s.history != nil {
		if insertErr := s.history.InsertSnapshot(ctx, snap); insertErr != nil {
			s.logger.Warn().Err(insertErr).
				Str("project_id", projectID).
				Str("keyword", keyword).
				Msg("failed to persist ranking snapshot")
		}
	}

	var prevRef *serp.RankingSnapshot
	if hadPrevious {
		prevRef = &previous
	}

	diff := detector.Detect(prevRef, snap)
	window := s.snapshots.Window(projectID, keyword, at.Add(-s.analyzer.Window()))
	volatility, _ := s.analyzer.Volatility(window)

	for _, event := range s.classifier.Classify(prevRef, snap, diff, volatility) {
		s.dispatcher.Raise(ctx, event)
	}

	s.pushRankingUpdate(projectID, keyword, prevRef, snap, diff)
	return nil
}

// keywordActive reports whether the keyword is still part of the session's
// current keyword set.
func (s *Supervisor) keywordActive(projectID, keyword string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[projectID]
	if !ok || sess.status == StatusStopping {
		return false
	}
	for _, kw := range sess.keywords {
		if kw == keyword {
			return true
		}
	}
	return false
}

func (s *Supervisor) pushRankingUpdate(projectID, keyword string, previous *serp.RankingSnapshot, current serp.RankingSnapshot, diff detector.Diff) {
	if s.broadcast == nil {
		return
	}
	if !diff.PositionMoved() && !diff.Entered && !diff.Exited {
		return
	}

	update := ws.RankingUpdate{
		Keyword:     keyword,
		NewPosition: current.Position,
	}
	if previous != nil {
		update.OldPosition = previous.Position
	}
	if diff.PositionDelta != nil {
		update.Change = *diff.PositionDelta
	}

	s.broadcast.Broadcast(projectID, ws.MessageTypeRankingUpdate, update)
}

func (s *Supervisor) recordFetchError(projectID, keyword string, err error) {
	kind := "upstream"
	var fe *fetcher.FetchError
	if errors.As(err, &fe) {
		kind = fe.Kind.String()
	}
	if s.metrics != nil {
		s.metrics.FetchErrorsTotal.WithLabelValues(kind).Inc()
	}
	s.logger.Warn().Err(err).
		Str("project_id", projectID).
		Str("keyword", keyword).
		Str("kind", kind).
		Msg("keyword fetch failed")
}

// trackCycleOutcome counts consecutive fully-failed cycles and raises a
// technical_issue alert once the configured streak is reached. The counter
// resets on the alert so a persistent outage re-alerts only after another
// full streak.
func (s *Supervisor) trackCycleOutcome(ctx context.Context, sess *session, cycleFailed bool) {
	s.mu.Lock()
	if !cycleFailed {
		sess.failures = 0
		s.mu.Unlock()
		return
	}
	sess.failures++
	streak := sess.failures
	shouldAlert := streak >= s.opts.FailureAlertAfter
	if shouldAlert {
		sess.failures = 0
	}
	s.mu.Unlock()

	if !shouldAlert || s.dispatcher == nil {
		return
	}

	event := alerting.NewEvent(sess.projectID, "", alerting.TypeTechnicalIssue, alerting.SeverityWarning,
		fmt.Sprintf("SERP data source unreachable for %d consecutive cycles", streak),
		map[string]any{"consecutive_failures": streak})
	s.dispatcher.Raise(ctx, event)
}
