package app

import (
	"context"
	"errors"
	"time"

	"rank-alerts/internal/alerting"
	"rank-alerts/internal/detector"
	"rank-alerts/internal/serp"
)

// SimulateAlert 按给定的排名序列重放一次检测与告警流程。
//
// The series is replayed as consecutive observations of one keyword, so a
// drop inside it exercises the full detector, classifier, and notification
// path without touching the live data source.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if opts.ProjectID == "" || opts.Keyword == "" {
		return errors.New("--project and --keyword are required")
	}
	if len(opts.Positions) < 2 {
		return errors.New("at least two positions are required to simulate a transition")
	}

	notifiers := a.newNotifiers()
	if len(notifiers) == 0 {
		return errors.New("未配置任何告警通道")
	}

	classifier := alerting.NewClassifier(alerting.Thresholds{
		Drop:       a.Config.Alerting.DropThreshold,
		Gain:       a.Config.Alerting.GainThreshold,
		Volatility: a.Config.Alerting.VolatilityThreshold,
	}, nil, a.Logger)

	base := time.Now().UTC().Add(-time.Duration(len(opts.Positions)) * a.Config.Monitor.Interval)

	var previous *serp.RankingSnapshot
	var raised int
	for i, position := range opts.Positions {
		current := serp.RankingSnapshot{
			ProjectID:  opts.ProjectID,
			Keyword:    opts.Keyword,
			ObservedAt: base.Add(time.Duration(i) * a.Config.Monitor.Interval),
		}
		if position > 0 {
			current.Position = serp.IntPtr(position)
		}

		diff := detector.Detect(previous, current)
		for _, event := range classifier.Classify(previous, current, diff, 0) {
			raised++
			// Deliver synchronously so the command only exits once every
			// channel has been tried.
			for _, notifier := range notifiers {
				if err := notifier.Send(ctx, event); err != nil {
					a.Logger.Warn().Err(err).Str("channel", notifier.Name()).Msg("simulated alert delivery failed")
				}
			}
		}

		snapshot := current
		previous = &snapshot
	}

	if raised == 0 {
		a.Logger.Info().Msg("simulation raised no alerts; series stayed within thresholds")
	} else {
		a.Logger.Info().Int("alerts", raised).Msg("simulation complete")
	}
	return nil
}
