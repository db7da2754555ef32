package main

import (
	"context"
	"fmt"

	"github.com/Veraticus/cellflow/internal/common"
	"github.com/Veraticus/cellflow/internal/metrics"
	"github.com/Veraticus/cellflow/internal/model"
	"github.com/Veraticus/cellflow/internal/tui"
	"github.com/Veraticus/cellflow/internal/tui/themes"
	"github.com/Veraticus/cellflow/internal/watch"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func viewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Browse a dataset in an interactive grid",
		Long: `Open an interactive grid over a dataset. Cells are colored by status and
the grid refreshes as validation and correction runs commit.

Keys: v validate, c correct, p preview corrections, x cancel a run, ? help.

With --watch the grid reloads whenever another cellflow process writes to
the database.`,
		RunE: runView,
	}

	addDatasetFlag(cmd)
	cmd.Flags().Bool("watch", false, "reload when the database changes on disk")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (default from metrics.addr)")
	cmd.Flags().String("theme", "", "color theme (default, catppuccin-mocha)")

	return cmd
}

func runView(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	watchDB, _ := flags.GetBool("watch")
	metricsAddr, _ := flags.GetString("metrics-addr")
	if metricsAddr == "" {
		metricsAddr = settings.Metrics.Addr
	}
	theme, _ := flags.GetString("theme")
	if theme == "" {
		theme = settings.UI.Theme
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStorage(store)

	s, err := openSession(ctx, store, datasetName(cmd), true)
	if err != nil {
		return err
	}
	defer s.Close()

	opts := []tui.Option{
		tui.WithHub(s.hub),
		tui.WithRules(store),
		tui.WithTheme(themes.GetTheme(theme)),
		tui.WithTitle("▦ " + s.name),
		tui.WithResultHooks(
			func(ctx context.Context, _ model.ValidationReport) error {
				return s.saveStatuses(context.WithoutCancel(ctx))
			},
			func(ctx context.Context, report *model.CorrectionReport) error {
				return s.saveCorrection(context.WithoutCancel(ctx), report)
			},
		),
	}
	if len(settings.Validation) > 0 {
		v, err := settings.Validator()
		if err != nil {
			return err
		}
		opts = append(opts, tui.WithValidator(v))
	}

	g, gctx := errgroup.WithContext(ctx)
	program, err := tui.New(gctx, opts...)
	if err != nil {
		return err
	}

	g.Go(func() error {
		defer cancel()
		return program.Run()
	})

	if metricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, metricsAddr)
		})
	}

	if watchDB {
		watcher, err := watch.NewFileWatcher(store.Path(), settings.UI.WatchDebounce, func(ctx context.Context) {
			program.Send(tui.Reloaded(s.reload(ctx)))
		})
		if err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		if err := watcher.Start(gctx); err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("failed to watch database: %w", err)
		}
		defer watcher.Stop()
	}

	return g.Wait()
}

// reload replaces the in-memory dataset and statuses with the stored copy.
// Only cells that differ are written, so reloading after our own save is a
// no-op.
func (s *session) reload(ctx context.Context) error {
	stored, err := s.store.LoadDataset(ctx, s.name)
	if err != nil {
		return err
	}
	statuses, err := s.store.LoadStatuses(ctx, s.name)
	if err != nil {
		return err
	}

	err = s.hub.Do(ctx, func() error {
		if err := s.table.Sync(stored); err != nil {
			return err
		}
		s.table.Commit()
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.hub.RestoreStatuses(ctx, statuses); err != nil {
		return err
	}

	common.LogDebug("Dataset reloaded", common.Fields{"dataset": s.name, "rows": stored.RowCount()})
	return nil
}
