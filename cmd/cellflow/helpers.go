package main

import (
	"context"
	"fmt"

	"github.com/Veraticus/cellflow/internal/cli"
	"github.com/Veraticus/cellflow/internal/common"
	"github.com/Veraticus/cellflow/internal/dataset"
	"github.com/Veraticus/cellflow/internal/model"
	"github.com/Veraticus/cellflow/internal/propagation"
	"github.com/Veraticus/cellflow/internal/storage"
	"github.com/spf13/cobra"
)

// initStorage opens the configured database and brings its schema up to
// date.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(settings.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func closeStorage(store *storage.SQLiteStorage) {
	if err := store.Close(); err != nil {
		common.LogError(err, "Failed to close storage", nil)
	}
}

func addDatasetFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("dataset", "d", "", "dataset name (default from database.dataset)")
}

func datasetName(cmd *cobra.Command) string {
	if name, _ := cmd.Flags().GetString("dataset"); name != "" {
		return name
	}
	return settings.Database.Dataset
}

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", string(cli.FormatTable), "output format (table, json, yaml)")
}

func outputFormat(cmd *cobra.Command) (cli.Format, error) {
	raw, _ := cmd.Flags().GetString("output")
	return cli.ParseFormat(raw)
}

// session is a stored dataset loaded into a running hub.
type session struct {
	store *storage.SQLiteStorage
	hub   *propagation.Hub
	table *dataset.Table
	name  string
}

// openSession loads the named dataset and starts a hub over it. With
// restore set the stored statuses are loaded too.
func openSession(ctx context.Context, store *storage.SQLiteStorage, name string, restore bool) (*session, error) {
	table, err := store.LoadDataset(ctx, name)
	if err != nil {
		return nil, common.NewUserError(fmt.Sprintf("cannot load dataset %q", name), err)
	}

	hub, err := propagation.New(table, settings, propagation.WithFaultSink(func(id model.ObserverID, err error) {
		common.LogWarn("Observer refresh failed", common.Fields{"observer": id.String(), "error": err.Error()})
	}))
	if err != nil {
		return nil, err
	}
	hub.Start(ctx)

	s := &session{store: store, hub: hub, table: table, name: name}
	if restore {
		statuses, err := store.LoadStatuses(ctx, name)
		if err != nil {
			hub.Close()
			return nil, err
		}
		if err := hub.RestoreStatuses(ctx, statuses); err != nil {
			hub.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *session) Close() {
	s.hub.Close()
}

// saveStatuses persists the hub's current statuses.
func (s *session) saveStatuses(ctx context.Context) error {
	return s.store.SaveStatuses(ctx, s.name, s.hub.StatusEntries())
}

// saveCorrection persists the cells a run changed, the resulting statuses,
// the run log and rule usage.
func (s *session) saveCorrection(ctx context.Context, report *model.CorrectionReport) error {
	if err := s.store.SaveCells(ctx, s.name, s.table, report.ChangedCells()); err != nil {
		return fmt.Errorf("failed to save corrected cells: %w", err)
	}
	if err := s.saveStatuses(ctx); err != nil {
		return fmt.Errorf("failed to save statuses: %w", err)
	}
	if err := s.store.SaveCorrectionReport(ctx, s.name, report); err != nil {
		return fmt.Errorf("failed to record correction run: %w", err)
	}
	if err := s.store.RecordRuleUse(ctx, report.Entries); err != nil {
		return fmt.Errorf("failed to record rule use: %w", err)
	}
	return nil
}
