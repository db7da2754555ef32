package main

import (
	"errors"
	"fmt"

	"github.com/Veraticus/cellflow/internal/cli"
	"github.com/Veraticus/cellflow/internal/common"
	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "Show recorded correction runs",
		Long: `Without arguments, list the most recent correction runs of a dataset.
With a run ID, list every cell that run rewrote.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistory,
	}

	addDatasetFlag(cmd)
	addOutputFlag(cmd)
	cmd.Flags().IntP("limit", "n", 20, "number of runs to list")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStorage(store)

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		entries, err := store.CorrectionLog(ctx, args[0])
		if errors.Is(err, common.ErrNotFound) {
			return common.NewUserError(fmt.Sprintf("no correction run %q", args[0]), err)
		}
		if err != nil {
			return err
		}
		if format != cli.FormatTable {
			return cli.Encode(out, format, entries)
		}
		cli.PrintEntries(out, entries)
		return nil
	}

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := store.ListCorrectionRuns(ctx, datasetName(cmd), limit)
	if err != nil {
		return err
	}
	if format != cli.FormatTable {
		return cli.Encode(out, format, runs)
	}
	cli.PrintRuns(out, runs)
	return nil
}
