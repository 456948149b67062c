package app

import (
	"context"
	"fmt"
	"text/tabwriter"

	"impact-curator/internal/curator"
)

// AuditOptions configure the audit command.
type AuditOptions struct {
	MinTextLength int
	// FailOnIssues turns any finding into a non-zero exit.
	FailOnIssues bool
}

// Audit prints quality issues found in the curated dataset. It never writes.
func (a *App) Audit(ctx context.Context, opts AuditOptions) error {
	p, err := a.newPipeline(ctx, nil, nil, false)
	if err != nil {
		return err
	}
	defer p.close()

	minText := opts.MinTextLength
	if minText <= 0 {
		minText = a.Config.Curator.MinTextLength
	}
	issues, err := p.curator.Audit(ctx, curator.AuditOptions{MinTextLength: minText})
	if err != nil {
		return err
	}

	if len(issues) == 0 {
		fmt.Fprintln(a.Out, "no issues found")
		return nil
	}
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Event\tIssue\tDetail")
	for _, issue := range issues {
		fmt.Fprintf(writer, "%s\t%s\t%s\n", sanitizeInline(issue.Key), issue.Kind, sanitizeInline(issue.Detail))
	}
	writer.Flush()

	a.Logger.Info().Int("issues", len(issues)).Msg("audit complete")
	if opts.FailOnIssues {
		return fmt.Errorf("audit found %d issues", len(issues))
	}
	return nil
}
