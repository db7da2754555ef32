package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/Veraticus/cellflow/internal/cli"
	"github.com/Veraticus/cellflow/internal/common"
	"github.com/spf13/cobra"
)

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate every cell of a dataset",
		Long: `Validate every cell against the column rules in the validation section of
the config file, in chunks. Each cell ends VALID or INVALID; with
--mark-correctable, invalid cells that an enabled correction rule would
rewrite become INVALID_CORRECTABLE.

Interrupting keeps the results of every chunk already checked.`,
		RunE: runValidate,
	}

	addDatasetFlag(cmd)
	addOutputFlag(cmd)
	cmd.Flags().Bool("mark-correctable", false, "mark invalid cells that a rule would fix")

	return cmd
}

func runValidate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	markCorrectable, _ := cmd.Flags().GetBool("mark-correctable")

	if len(settings.Validation) == 0 {
		return common.NewUserError("no validation rules configured", errors.New("add a validation section to the config file"))
	}
	validator, err := settings.Validator()
	if err != nil {
		return err
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStorage(store)

	// Every cell is checked, so stored statuses are not restored.
	s, err := openSession(ctx, store, datasetName(cmd), false)
	if err != nil {
		return err
	}
	defer s.Close()

	progress, err := cli.TrackValidation(s.hub, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	run := s.hub.StartValidation(ctx, validator)
	runErr := run.Wait()
	progress.Finish()
	report := run.Report()

	// Completed chunks are kept even after an interrupt.
	saveCtx := context.WithoutCancel(ctx)
	if markCorrectable && !report.Canceled {
		rules, err := store.EnabledRules(saveCtx, nil)
		if err != nil {
			return fmt.Errorf("failed to load correction rules: %w", err)
		}
		marked, err := s.hub.MarkCorrectable(saveCtx, rules)
		if err != nil {
			return err
		}
		common.LogDebug("Marked correctable cells", common.Fields{"cells": len(marked)})
	}
	if err := s.saveStatuses(saveCtx); err != nil {
		return fmt.Errorf("failed to save statuses: %w", err)
	}

	common.LogInfo("Validation finished", common.Fields{
		"dataset":   s.name,
		"run_id":    run.ID(),
		"processed": report.Processed,
		"invalid":   report.Invalid,
		"canceled":  report.Canceled,
	})

	out := cmd.OutOrStdout()
	if format != cli.FormatTable {
		if err := cli.Encode(out, format, report); err != nil {
			return err
		}
	} else {
		cli.PrintValidationReport(out, report, s.hub.StatusCounts())
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
