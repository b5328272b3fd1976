package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xelth-com/arkikgo/internal/app"
	"github.com/xelth-com/arkikgo/internal/arkik"
	"github.com/xelth-com/arkikgo/internal/config"
	"github.com/xelth-com/arkikgo/internal/logging"
	"github.com/xelth-com/arkikgo/internal/services/importer"
)

type importOptions struct {
	file       string
	plantID    string
	commit     bool
	unattended bool
	reportPath string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newImportCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newImportCmd() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "arkik-import",
		Short: "Stage an Arkik export and optionally commit it",
		Long: "Reads an Arkik export (xlsx or csv), validates it against the plant's master data,\n" +
			"detects duplicates and matches orders. Without --commit nothing is written.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.file, "file", "", "Arkik export to import (required)")
	cmd.Flags().StringVar(&opts.plantID, "plant", "", "Plant ID (default: ARKIK_PLANT_ID)")
	cmd.Flags().BoolVar(&opts.commit, "commit", false, "Commit the staged rows (default is dry-run)")
	cmd.Flags().BoolVar(&opts.unattended, "unattended", false, "Apply safe defaults to every pending decision before commit")
	cmd.Flags().StringVar(&opts.reportPath, "report", "", "Write the PDF report to this path")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Override LOG_LEVEL")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// printSink writes commit progress to the terminal
type printSink struct {
	out io.Writer
}

func (p printSink) Publish(_ string, event any) {
	if ev, ok := event.(arkik.ProgressEvent); ok {
		fmt.Fprintf(p.out, "  [%d/%d] %s %s\n", ev.Processed, ev.Total, ev.Outcome.Number, ev.Outcome.Result)
	}
}

func runImport(ctx context.Context, out io.Writer, opts importOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	cfg.Log.Format = "text"
	logger := logging.NewWithWriter(cfg.Log, os.Stderr)

	f, err := os.Open(opts.file)
	if err != nil {
		return err
	}
	defer f.Close()

	a, err := app.New(ctx, cfg, logger, app.Options{Progress: printSink{out: out}})
	if err != nil {
		return err
	}
	defer a.Close()

	opened, err := a.Imports.OpenFile(ctx, opts.plantID, filepath.Base(opts.file), f)
	if err != nil {
		return err
	}
	id := opened.Session.ID
	if opened.Previous != nil {
		fmt.Fprintf(out, "⚠️  this file was already imported (session %s, %s)\n", opened.Previous.ID, opened.Previous.Status)
	}
	printSummary(out, arkik.Summarize(opened.Session))

	var runErr error
	if opts.commit {
		runErr = commit(ctx, out, a.Imports, id, opts.unattended)
	} else {
		printBlockers(out, opened.Session.Blockers())
		fmt.Fprintln(out, "dry run: nothing written (use --commit)")
	}

	if opts.reportPath != "" {
		pdf, err := a.Imports.ReportPDF(id)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.reportPath, pdf, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(out, "report written to %s\n", opts.reportPath)
	}

	// release whatever is left open; a fully committed session is already closed
	if err := a.Imports.Abandon(context.WithoutCancel(ctx), id); err != nil && !errors.Is(err, arkik.ErrSessionNotFound) {
		logger.WithError(err).Warn("could not close import session")
	}
	return runErr
}

func commit(ctx context.Context, out io.Writer, imports *importer.Service, id string, unattended bool) error {
	rep, err := imports.Commit(ctx, id, unattended)
	var blocked *arkik.BlockedError
	if errors.As(err, &blocked) {
		printBlockers(out, blocked.Blockers)
		return fmt.Errorf("%w: rerun with --unattended to apply safe defaults", err)
	}
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RESULT\tROWS")
	for _, r := range []arkik.OutcomeResult{arkik.OutcomeCreated, arkik.OutcomeUpdated, arkik.OutcomeSkipped, arkik.OutcomeFailed, arkik.OutcomeNotProcessed} {
		fmt.Fprintf(tw, "%s\t%d\n", r, rep.Counts[r])
	}
	tw.Flush()

	if n := rep.Counts[arkik.OutcomeFailed]; n > 0 {
		for _, o := range rep.Outcomes {
			if o.Result == arkik.OutcomeFailed {
				fmt.Fprintf(out, "  row %d %s: %s\n", o.RowNumber, o.Number, o.Error)
			}
		}
		return fmt.Errorf("%d rows failed", n)
	}
	if rep.Cancelled {
		return context.Canceled
	}
	return nil
}

func printSummary(out io.Writer, sum arkik.Summary) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "session\t%s\n", sum.SessionID)
	fmt.Fprintf(tw, "rows\t%d\n", sum.TotalRows)
	fmt.Fprintf(tw, "valid / warnings / errors\t%d / %d / %d\n", sum.Valid, sum.Warnings, sum.Errors)
	fmt.Fprintf(tw, "repeated in file\t%d\n", sum.Repeats)
	fmt.Fprintf(tw, "duplicates\t%d\n", sum.Duplicates)
	fmt.Fprintf(tw, "abnormal status\t%d\n", sum.Abnormal)
	fmt.Fprintf(tw, "matched by order ref\t%d\n", sum.MatchedByRef)
	fmt.Fprintf(tw, "pending decisions\t%d\n", sum.Pending)
	fmt.Fprintf(tw, "total volume\t%s m³\n", sum.TotalVolume.StringFixed(2))
	tw.Flush()
}

func printBlockers(out io.Writer, blockers []arkik.Blocker) {
	if len(blockers) == 0 {
		return
	}
	fmt.Fprintf(out, "%d decisions pending:\n", len(blockers))
	for _, b := range blockers {
		fmt.Fprintf(out, "  row %d %s [%s] %s\n", b.RowNumber, b.Number, b.Kind, b.Message)
	}
}
