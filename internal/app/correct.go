package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"impact-curator/internal/domain"
)

// CorrectOptions configure the correct command.
type CorrectOptions struct {
	Title       string
	ClaimedAt   string
	Confirm     bool
	Reanalyze   bool
	CandlesPath string
}

// Correct shows, and with Confirm applies, the timestamp correction proposed for one event.
func (a *App) Correct(ctx context.Context, opts CorrectOptions) error {
	if strings.TrimSpace(opts.Title) == "" || opts.ClaimedAt == "" {
		return errors.New("--title and --claimed must be provided")
	}
	claimed, err := domain.ParseTimestamp(opts.ClaimedAt)
	if err != nil {
		return fmt.Errorf("invalid --claimed value: %w", err)
	}
	key := domain.NewEventKey(opts.Title, claimed)

	source, err := a.newSource(opts.CandlesPath, nil)
	if err != nil {
		return err
	}
	p, err := a.newPipeline(ctx, source, nil, false)
	if err != nil {
		return err
	}
	defer p.close()

	event, err := p.repo.GetEvent(ctx, key)
	if err != nil {
		return fmt.Errorf("load event %s: %w", key, err)
	}
	if event.SuggestedAt == nil {
		fmt.Fprintf(a.Out, "no correction proposed for %q (%s)\n", event.Title, event.Classification)
		return nil
	}

	fmt.Fprintf(a.Out, "%q claimed %s, impulse at %s (lag %ss, %s)\n",
		event.Title,
		event.ClaimedAt.UTC().Format(time.RFC3339),
		event.SuggestedAt.UTC().Format(time.RFC3339),
		formatLag(event.LagSeconds),
		event.Classification,
	)
	if !opts.Confirm {
		fmt.Fprintln(a.Out, "re-run with --confirm to apply")
		return nil
	}

	corrected, err := p.service.Correct(ctx, key, true, opts.Reanalyze)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "corrected to %s (%s)\n", corrected.ClaimedAt.UTC().Format(time.RFC3339), corrected.Classification)
	return nil
}
