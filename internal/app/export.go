package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"rank-alerts/internal/storage"
)

// Export renders the position history of one keyword as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.ProjectID == "" || opts.Keyword == "" {
		return errors.New("--project and --keyword are required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-30 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	samples, err := store.ListPositions(ctx, opts.ProjectID, opts.Keyword, from, to)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().
			Str("project_id", opts.ProjectID).
			Str("keyword", opts.Keyword).
			Msg("no history found for export window")
		return nil
	}

	downsampled := downsamplePositions(samples, opts.MaxPoints)
	a.Logger.Info().Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting history")

	if opts.CSVPath != "" {
		if err := writePositionsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writePositionsPNG(opts.PNGPath, opts.Keyword, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsamplePositions(samples []storage.PositionSample, max int) []storage.PositionSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}

	result := make([]storage.PositionSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writePositionsCSV(path string, samples []storage.PositionSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"observed_at", "position"}); err != nil {
		return err
	}

	for _, sample := range samples {
		position := ""
		if sample.Position != nil {
			position = strconv.Itoa(*sample.Position)
		}
		if err := writer.Write([]string{sample.ObservedAt.Format(time.RFC3339), position}); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writePositionsPNG(path, keyword string, samples []storage.PositionSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, 0, len(samples))
	positions := make([]float64, 0, len(samples))
	for _, sample := range samples {
		if sample.Position == nil {
			continue
		}
		x = append(x, sample.ObservedAt)
		positions = append(positions, float64(*sample.Position))
	}
	if len(x) < 2 {
		return errors.New("not enough ranked data points to render a chart")
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Position",
			// Rank 1 belongs at the top of the chart.
			Range: &chart.ContinuousRange{
				Min:        0,
				Max:        maxFloat(positions) + 1,
				Descending: true,
			},
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    keyword,
				XValues: x,
				YValues: positions,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func maxFloat(values []float64) float64 {
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
