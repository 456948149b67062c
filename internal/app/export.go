package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"impact-curator/internal/domain"
)

// ExportOptions hold parameters for exporting the curated dataset.
type ExportOptions struct {
	CSVPath  string
	JSONPath string
	PNGPath  string
	// Status restricts CSV and JSON output to one verification status.
	Status string
	// Title and ClaimedAt pick the event charted to PNGPath.
	Title     string
	ClaimedAt string
	MaxPoints int
}

// Export writes the dataset as CSV and/or JSON, and charts one event's window as PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.JSONPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv, --json or --png must be provided")
	}
	if opts.PNGPath != "" && (opts.Title == "" || opts.ClaimedAt == "") {
		return errors.New("--png needs --title and --claimed")
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	p, err := a.newPipeline(ctx, nil, nil, false)
	if err != nil {
		return err
	}
	defer p.close()

	if opts.CSVPath != "" || opts.JSONPath != "" {
		var events []domain.CuratedEvent
		if opts.Status != "" {
			status, err := domain.ParseEventStatus(opts.Status)
			if err != nil {
				return err
			}
			events, err = p.repo.ListEventsByStatus(ctx, status)
			if err != nil {
				return err
			}
		} else {
			events, err = p.repo.ListEvents(ctx)
			if err != nil {
				return err
			}
		}
		a.Logger.Info().Int("events", len(events)).Msg("exporting dataset")

		if opts.CSVPath != "" {
			if err := writeEventsCSV(opts.CSVPath, events); err != nil {
				return err
			}
		}
		if opts.JSONPath != "" {
			if err := writeJSON(opts.JSONPath, events); err != nil {
				return err
			}
		}
	}

	if opts.PNGPath != "" {
		claimed, err := domain.ParseTimestamp(opts.ClaimedAt)
		if err != nil {
			return fmt.Errorf("invalid --claimed value: %w", err)
		}
		event, err := p.repo.GetEvent(ctx, domain.NewEventKey(opts.Title, claimed))
		if err != nil {
			return fmt.Errorf("load event: %w", err)
		}
		if err := writeWindowPNG(opts.PNGPath, event, opts.MaxPoints); err != nil {
			return err
		}
	}
	return nil
}

func downsampleCandles(candles []domain.Candle, max int) []domain.Candle {
	if max <= 1 || len(candles) <= max {
		return candles
	}

	result := make([]domain.Candle, 0, max)
	step := float64(len(candles)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(candles) {
			idx = len(candles) - 1
		}
		result = append(result, candles[idx])
	}
	return result
}

func horizonLabels(events []domain.CuratedEvent) []string {
	seen := make(map[string]struct{})
	for _, e := range events {
		for label := range e.Moves {
			seen[label] = struct{}{}
		}
	}
	labels := make([]string, 0, len(seen))
	for label := range seen {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		di, ei := time.ParseDuration(labels[i])
		dj, ej := time.ParseDuration(labels[j])
		if ei == nil && ej == nil && di != dj {
			return di < dj
		}
		return labels[i] < labels[j]
	})
	return labels
}

func writeEventsCSV(path string, events []domain.CuratedEvent) error {
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

	labels := horizonLabels(events)
	header := []string{"id", "title", "claimed_timestamp", "description", "class", "source", "verification_status", "alignment_lag_seconds", "classification", "suggested_timestamp", "candles", "reference_index"}
	for _, label := range labels {
		header = append(header, "move_"+label+"_pct")
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, e := range events {
		suggested := ""
		if e.SuggestedAt != nil {
			suggested = e.SuggestedAt.UTC().Format(time.RFC3339)
		}
		lag := ""
		if e.LagSeconds != nil {
			lag = strconv.FormatFloat(*e.LagSeconds, 'f', -1, 64)
		}
		record := []string{
			e.ID,
			e.Title,
			e.ClaimedAt.UTC().Format(time.RFC3339Nano),
			e.Description,
			e.Class,
			e.Source,
			string(e.Status),
			lag,
			string(e.Classification),
			suggested,
			strconv.Itoa(e.Window.Len()),
			strconv.Itoa(e.Window.RefIndex),
		}
		for _, label := range labels {
			if v, ok := e.Moves.Get(label); ok {
				record = append(record, v.String())
			} else {
				record = append(record, "")
			}
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// writeWindowPNG charts close and volume with markers at the claimed time and the
// located impulse.
func writeWindowPNG(path string, event domain.CuratedEvent, maxPoints int) error {
	if event.Window.Len() == 0 {
		return fmt.Errorf("event %q has no price window", event.Title)
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	candles := downsampleCandles(event.Window.Candles, maxPoints)
	x := make([]time.Time, len(candles))
	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	lo, hi := math.Inf(1), math.Inf(-1)
	vlo, vhi := math.Inf(1), math.Inf(-1)
	for i, c := range candles {
		x[i] = c.Time
		closes[i] = c.Close.InexactFloat64()
		volumes[i] = c.Volume.InexactFloat64()
		lo, hi = math.Min(lo, closes[i]), math.Max(hi, closes[i])
		vlo, vhi = math.Min(vlo, volumes[i]), math.Max(vhi, volumes[i])
	}
	// the renderer rejects a zero-height range
	if hi-lo < 1e-9 {
		lo, hi = lo-1, hi+1
	}

	series := []chart.Series{
		chart.TimeSeries{Name: "Close", XValues: x, YValues: closes},
		marker("Claimed", event.ClaimedAt, lo, hi, drawing.ColorBlue),
	}
	if vhi > vlo {
		series = append(series, chart.TimeSeries{
			Name:    "Volume",
			XValues: x,
			YValues: volumes,
			YAxis:   chart.YAxisSecondary,
			Style:   chart.Style{StrokeColor: drawing.ColorFromHex("b0b0b0")},
		})
	}
	if event.LagSeconds != nil {
		impulseAt := event.ClaimedAt.Add(time.Duration(*event.LagSeconds * float64(time.Second)))
		series = append(series, marker("Impulse", impulseAt, lo, hi, drawing.ColorRed))
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  strings.TrimSpace(fmt.Sprintf("%s (%s)", event.Title, event.Classification)),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatterWithFormat("15:04:05"),
		},
		YAxis: chart.YAxis{
			Name:           "Close",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name: "Volume",
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// marker is a vertical line at t spanning the price range.
func marker(name string, t time.Time, lo, hi float64, color drawing.Color) chart.TimeSeries {
	return chart.TimeSeries{
		Name:    name,
		XValues: []time.Time{t, t},
		YValues: []float64{lo, hi},
		Style:   chart.Style{StrokeColor: color, StrokeWidth: 2, StrokeDashArray: []float64{4, 4}},
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
