package app

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"impact-curator/internal/domain"
)

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Status string
	Spikes bool
}

// Show prints curated events, or spikes with Spikes set, newest first.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	p, err := a.newPipeline(ctx, nil, nil, false)
	if err != nil {
		return err
	}
	defer p.close()

	if opts.Spikes {
		return a.showSpikes(ctx, p, opts)
	}

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
	if len(events) == 0 {
		fmt.Fprintln(a.Out, "no events found")
		return nil
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].ClaimedAt.After(events[j].ClaimedAt) })
	if opts.Limit > 0 && len(events) > opts.Limit {
		events = events[:opts.Limit]
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Claimed (UTC)\tTitle\tStatus\tLag(s)\tClass\tMoves\tText")
	for _, e := range events {
		text := "-"
		if e.HasDescription() {
			text = strconv.Itoa(len(e.Description))
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ClaimedAt.UTC().Format(time.RFC3339),
			sanitizeInline(e.Title),
			e.Status,
			formatLag(e.LagSeconds),
			e.Classification,
			formatMoves(e.Moves),
			text,
		)
	}
	writer.Flush()
	return nil
}

func (a *App) showSpikes(ctx context.Context, p *pipeline, opts ShowOptions) error {
	var (
		spikes []domain.Spike
		err    error
	)
	if opts.Status != "" {
		status, perr := domain.ParseSpikeStatus(opts.Status)
		if perr != nil {
			return perr
		}
		spikes, err = p.repo.ListSpikesByStatus(ctx, status)
	} else {
		spikes, err = p.repo.ListSpikes(ctx, "")
	}
	if err != nil {
		return err
	}
	sort.SliceStable(spikes, func(i, j int) bool { return spikes[i].Time.After(spikes[j].Time) })
	if opts.Limit > 0 && len(spikes) > opts.Limit {
		spikes = spikes[:opts.Limit]
	}
	if len(spikes) == 0 {
		fmt.Fprintln(a.Out, "no spikes found")
		return nil
	}
	a.printSpikes(spikes)
	return nil
}

func formatLag(lag *float64) string {
	if lag == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*lag, 'f', -1, 64)
}

// formatMoves renders "5m=+5.00% 30m=n/a" in horizon-label order.
func formatMoves(m domain.MoveMetrics) string {
	if len(m) == 0 {
		return "-"
	}
	labels := make([]string, 0, len(m))
	for label := range m {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		di, ei := time.ParseDuration(labels[i])
		dj, ej := time.ParseDuration(labels[j])
		if ei == nil && ej == nil {
			return di < dj
		}
		return labels[i] < labels[j]
	})
	parts := make([]string, 0, len(labels))
	for _, label := range labels {
		v, ok := m.Get(label)
		if !ok {
			parts = append(parts, label+"=n/a")
			continue
		}
		sign := ""
		if v.Sign() > 0 {
			sign = "+"
		}
		parts = append(parts, fmt.Sprintf("%s=%s%s%%", label, sign, v.StringFixed(2)))
	}
	return strings.Join(parts, " ")
}
