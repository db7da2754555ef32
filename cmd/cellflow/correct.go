package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/Veraticus/cellflow/internal/cli"
	"github.com/Veraticus/cellflow/internal/common"
	"github.com/Veraticus/cellflow/internal/correction"
	"github.com/Veraticus/cellflow/internal/model"
	"github.com/spf13/cobra"
)

func correctCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correct",
		Short: "Apply correction rules to a dataset",
		Long: `Apply every enabled correction rule. Generic rules run first over the
correctable columns, then column rules. A rewritten cell becomes CORRECTED.

With --recursive the passes repeat until no rule changes anything or the
iteration cap is reached. With --only-invalid only cells currently INVALID
or INVALID_CORRECTABLE are touched. --dry-run reports what would change
without writing.`,
		RunE: runCorrect,
	}

	addDatasetFlag(cmd)
	addOutputFlag(cmd)
	cmd.Flags().Bool("dry-run", false, "report changes without writing them")
	cmd.Flags().Bool("recursive", false, "repeat until the rules settle (default from engine.recursive)")
	cmd.Flags().Bool("only-invalid", false, "only touch cells marked invalid (default from engine.only_invalid)")
	cmd.Flags().Int("max-iterations", 0, "override the iteration cap for this run")
	cmd.Flags().BoolP("verbose", "v", false, "list every rewritten cell")

	return cmd
}

func runCorrect(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	dryRun, _ := flags.GetBool("dry-run")
	verbose, _ := flags.GetBool("verbose")

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStorage(store)

	rules, err := store.EnabledRules(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to load correction rules: %w", err)
	}
	if len(rules) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No enabled correction rules. Add one with 'cellflow rules add'."))
		return nil
	}

	s, err := openSession(ctx, store, datasetName(cmd), true)
	if err != nil {
		return err
	}
	defer s.Close()

	opts := s.hub.CorrectionOptions()
	if flags.Changed("recursive") {
		opts.Recursive, _ = flags.GetBool("recursive")
	}
	if flags.Changed("only-invalid") {
		if onlyInvalid, _ := flags.GetBool("only-invalid"); onlyInvalid {
			opts.Mode = model.ModeOnlyInvalid
		} else {
			opts.Mode = model.ModeAllCells
		}
	}
	if flags.Changed("max-iterations") {
		opts.MaxIterations, _ = flags.GetInt("max-iterations")
	}

	var (
		report *model.CorrectionReport
		runErr error
	)
	if dryRun {
		report, runErr = s.hub.Preview(ctx, rules, opts)
	} else {
		report, runErr = applyCorrection(ctx, cmd, s, rules, opts)
	}
	if report == nil {
		return runErr
	}

	common.LogInfo("Correction finished", common.Fields{
		"dataset":    s.name,
		"run_id":     report.RunID,
		"dry_run":    dryRun,
		"changed":    report.Changed,
		"iterations": report.Iterations,
	})

	out := cmd.OutOrStdout()
	if format != cli.FormatTable {
		if err := cli.Encode(out, format, report); err != nil {
			return err
		}
	} else {
		cli.PrintCorrectionReport(out, report, dryRun, verbose)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func applyCorrection(ctx context.Context, cmd *cobra.Command, s *session, rules []model.CorrectionRule, opts correction.Options) (*model.CorrectionReport, error) {
	progress, err := cli.TrackCorrection(s.hub, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	run := s.hub.StartCorrection(ctx, rules, opts)
	runErr := run.Wait()
	progress.Finish()

	report := run.Report()
	if report == nil {
		return nil, runErr
	}
	// Committed passes are kept even after an interrupt or a fault.
	if err := s.saveCorrection(context.WithoutCancel(ctx), report); err != nil {
		return report, err
	}
	return report, runErr
}
