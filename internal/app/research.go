package app

import (
	"context"
	"errors"
	"fmt"

	"impact-curator/internal/report"
	"impact-curator/internal/service"
)

// ResearchOptions configure the research command.
type ResearchOptions struct {
	FindingsPath string
}

// Research applies external research findings to spikes and curated events.
func (a *App) Research(ctx context.Context, opts ResearchOptions) error {
	if opts.FindingsPath == "" {
		return errors.New("--findings must be provided")
	}
	batch := report.NewBatch("research", a.now())
	findings, err := service.LoadFindings(opts.FindingsPath, batch)
	if err != nil {
		return err
	}

	p, err := a.newPipeline(ctx, nil, nil, false)
	if err != nil {
		return err
	}
	defer p.close()

	if err := p.service.ApplyFindings(ctx, findings, batch); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "applied %d of %d findings\n", batch.Processed, len(findings))
	return a.finish(batch)
}
