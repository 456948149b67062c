package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"impact-curator/internal/domain"
	"impact-curator/internal/report"
	"impact-curator/internal/service"
)

// AnalyzeOptions configure the analyze command.
type AnalyzeOptions struct {
	ClaimsPath  string
	CandlesPath string
	DryRun      bool
}

// Analyze locates the market impulse for each claim, aligns it and curates the result.
func (a *App) Analyze(ctx context.Context, opts AnalyzeOptions) error {
	if opts.ClaimsPath == "" {
		return errors.New("--claims must be provided")
	}
	claims, err := service.LoadClaims(opts.ClaimsPath)
	if err != nil {
		return err
	}

	batch := report.NewBatch("analyze", a.now())
	source, err := a.newSource(opts.CandlesPath, batch)
	if err != nil {
		return err
	}
	p, err := a.newPipeline(ctx, source, nil, opts.DryRun)
	if err != nil {
		return err
	}
	defer p.close()

	events, err := p.service.AnalyzeClaims(ctx, claims, batch)
	if err != nil {
		return err
	}
	a.printAnalysis(events)
	return a.finish(batch)
}

func (a *App) printAnalysis(events []domain.CuratedEvent) {
	if len(events) == 0 {
		fmt.Fprintln(a.Out, "no claims analysed")
		return
	}
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Claimed (UTC)\tTitle\tLag(s)\tClass\tSuggested\tMoves")
	for _, e := range events {
		suggested := "-"
		if e.SuggestedAt != nil {
			suggested = e.SuggestedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ClaimedAt.UTC().Format(time.RFC3339),
			sanitizeInline(e.Title),
			formatLag(e.LagSeconds),
			e.Classification,
			suggested,
			formatMoves(e.Moves),
		)
	}
	writer.Flush()
}
