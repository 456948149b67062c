package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"impact-curator/internal/curator"
	"impact-curator/internal/domain"
)

// MarkOptions configure the mark command.
type MarkOptions struct {
	Symbol string
	At     string
	Status string
}

// Mark moves one spike along its research states on an operator's say-so.
func (a *App) Mark(ctx context.Context, opts MarkOptions) error {
	if opts.At == "" || opts.Status == "" {
		return errors.New("--at and --status must be provided")
	}
	at, err := domain.ParseTimestamp(opts.At)
	if err != nil {
		return fmt.Errorf("invalid --at value: %w", err)
	}
	status, err := domain.ParseSpikeStatus(opts.Status)
	if err != nil {
		return fmt.Errorf("invalid --status value: %w", err)
	}
	symbol := opts.Symbol
	if symbol == "" {
		symbol = a.Config.Fetcher.Symbol
	}

	p, err := a.newPipeline(ctx, nil, nil, false)
	if err != nil {
		return err
	}
	defer p.close()

	key := domain.SpikeKey{Symbol: symbol, Time: at.UTC()}
	spike, err := p.curator.TransitionSpike(ctx, key, status, curator.SourceOperator)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s %s is now %s\n", spike.Symbol, spike.Time.UTC().Format(time.RFC3339), spike.Status)
	return nil
}
