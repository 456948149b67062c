package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"impact-curator/internal/curator"
	"impact-curator/internal/report"
	"impact-curator/internal/service"
)

// DedupOptions configure the dedup command.
type DedupOptions struct {
	InputPath  string
	OutputPath string
	// Apply merges the deduplicated records into the store.
	Apply bool
}

// Dedup collapses records sharing (title, claimed timestamp) in a dataset file.
// Running it on its own output changes nothing.
func (a *App) Dedup(ctx context.Context, opts DedupOptions) error {
	if opts.InputPath == "" {
		return errors.New("--input must be provided")
	}
	if opts.OutputPath == "" && !opts.Apply {
		return errors.New("at least one of --output or --apply must be provided")
	}

	events, err := service.LoadEvents(opts.InputPath)
	if err != nil {
		return err
	}
	batch := report.NewBatch("dedup", a.now())
	deduped, decisions := curator.Dedup(events)
	for _, d := range decisions {
		batch.Decide(d.Key, d.Action, d.Reason)
		a.Logger.Info().Str("key", d.Key).Str("action", d.Action).Str("reason", d.Reason).Msg("dedup decision")
	}

	if opts.OutputPath != "" {
		if err := writeJSON(opts.OutputPath, deduped); err != nil {
			return err
		}
	}
	fmt.Fprintf(a.Out, "%d records in, %d out, %d decisions\n", len(events), len(deduped), len(decisions))

	if opts.Apply {
		p, err := a.newPipeline(ctx, nil, nil, false)
		if err != nil {
			return err
		}
		defer p.close()
		applied, err := p.curator.Upsert(ctx, deduped, batch)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "%d records written\n", len(applied))
	}
	return a.finish(batch)
}

func writeJSON(path string, v any) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
