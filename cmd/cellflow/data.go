package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Veraticus/cellflow/internal/cli"
	"github.com/Veraticus/cellflow/internal/common"
	"github.com/Veraticus/cellflow/internal/config"
	"github.com/Veraticus/cellflow/internal/dataset"
	"github.com/Veraticus/cellflow/internal/model"
	"github.com/spf13/cobra"
)

func dataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Manage stored datasets",
	}

	cmd.AddCommand(dataImportCmd())
	cmd.AddCommand(dataExportCmd())
	cmd.AddCommand(dataShowCmd())
	cmd.AddCommand(dataSetCmd())
	cmd.AddCommand(dataListCmd())
	cmd.AddCommand(dataDeleteCmd())

	return cmd
}

func dataImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a CSV file as a dataset",
		Long: `Import a CSV file. The first record names the columns. Importing over an
existing dataset replaces it and discards its stored statuses.

The dataset is named after the file unless --dataset is given.`,
		Args: cobra.ExactArgs(1),
		RunE: runDataImport,
	}
	addDatasetFlag(cmd)
	return cmd
}

func runDataImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := config.ExpandPath(args[0])

	name, _ := cmd.Flags().GetString("dataset")
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	table, err := readCSV(f)
	if err != nil {
		return common.NewUserError(fmt.Sprintf("cannot import %s", path), err)
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStorage(store)

	if err := store.SaveDataset(ctx, name, table); err != nil {
		return fmt.Errorf("failed to save dataset: %w", err)
	}

	common.LogInfo("Dataset imported", common.Fields{"dataset": name, "rows": table.RowCount(), "columns": len(table.Columns())})
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Imported %q: %d rows × %d columns", name, table.RowCount(), len(table.Columns()))))
	return nil
}

// readCSV reads a header record followed by data records. Short records are
// padded with empty cells.
func readCSV(r io.Reader) (*dataset.Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("file is empty")
	}
	if err != nil {
		return nil, err
	}

	var rows [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) > len(header) {
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("line %d has %d fields, header has %d", line, len(record), len(header))
		}
		for len(record) < len(header) {
			record = append(record, "")
		}
		rows = append(rows, record)
	}
	return dataset.FromRows(header, rows)
}

func writeCSV(w io.Writer, r dataset.Reader) error {
	columns := r.Columns()
	values := make([][]string, len(columns))
	for i, c := range columns {
		col, err := r.ReadColumn(c)
		if err != nil {
			return err
		}
		values[i] = col
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(columns); err != nil {
		return err
	}
	record := make([]string, len(columns))
	for row := 0; row < r.RowCount(); row++ {
		for i := range columns {
			record[i] = values[i][row]
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func dataExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [FILE]",
		Short: "Write a dataset as CSV",
		Long:  `Write a dataset as CSV to FILE, or to standard output when FILE is omitted.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer closeStorage(store)

			table, err := store.LoadDataset(ctx, datasetName(cmd))
			if err != nil {
				return err
			}

			if len(args) == 0 {
				return writeCSV(cmd.OutOrStdout(), table)
			}
			f, err := os.Create(config.ExpandPath(args[0]))
			if err != nil {
				return err
			}
			if err := writeCSV(f, table); err != nil {
				_ = f.Close()
				return err
			}
			return f.Close()
		},
	}
	addDatasetFlag(cmd)
	return cmd
}

func dataShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a dataset with cell statuses",
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			name := datasetName(cmd)
			table, err := store.LoadDataset(ctx, name)
			if err != nil {
				return err
			}
			statuses, err := store.LoadStatuses(ctx, name)
			if err != nil {
				return err
			}

			if format != cli.FormatTable {
				doc, err := showDocument(table, statuses)
				if err != nil {
					return err
				}
				return cli.Encode(cmd.OutOrStdout(), format, doc)
			}
			return cli.PrintGrid(cmd.OutOrStdout(), table, statuses)
		},
	}
	addDatasetFlag(cmd)
	addOutputFlag(cmd)
	return cmd
}

type cellDocument struct {
	Value  string `json:"value" yaml:"value"`
	Status string `json:"status,omitempty" yaml:"status,omitempty"`
}

type datasetDocument struct {
	Columns []string         `json:"columns" yaml:"columns"`
	Rows    [][]cellDocument `json:"rows" yaml:"rows"`
}

func showDocument(r dataset.Reader, statuses []model.StatusUpdate) (datasetDocument, error) {
	byCell := make(map[model.CellCoordinate]model.CellStatus, len(statuses))
	for _, s := range statuses {
		byCell[s.Cell] = s.Status
	}

	columns := r.Columns()
	doc := datasetDocument{Columns: columns, Rows: make([][]cellDocument, r.RowCount())}
	for i := range doc.Rows {
		doc.Rows[i] = make([]cellDocument, len(columns))
	}
	for c, name := range columns {
		values, err := r.ReadColumn(name)
		if err != nil {
			return datasetDocument{}, err
		}
		for row, v := range values {
			doc.Rows[row][c] = cellDocument{Value: v, Status: string(byCell[model.Cell(row, name)])}
		}
	}
	return doc, nil
}

func dataSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set ROW COLUMN VALUE",
		Short: "Change one cell",
		Long: `Change one cell. Editing a cell resets its status to UNCHECKED until the
next validation.`,
		Args: cobra.ExactArgs(3),
		RunE: runDataSet,
	}
	addDatasetFlag(cmd)
	return cmd
}

func runDataSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	row, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid row %q", args[0])
	}
	column, value := args[1], args[2]

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

	var changed bool
	err = s.hub.Do(ctx, func() error {
		if err := s.table.WriteCell(row, column, value); err != nil {
			return err
		}
		changed = !s.table.Commit().IsEmpty()
		return nil
	})
	if err != nil {
		return common.NewUserError("cannot set cell", err)
	}
	if !changed {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Cell already has that value."))
		return nil
	}

	if err := persistEdit(ctx, s, row, column); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Set (%d, %s) = %q", row, column, value)))
	return nil
}

func persistEdit(ctx context.Context, s *session, row int, column string) error {
	if err := s.store.SaveCells(ctx, s.name, s.table, []model.CellCoordinate{model.Cell(row, column)}); err != nil {
		return fmt.Errorf("failed to save cell: %w", err)
	}
	return s.saveStatuses(ctx)
}

func dataListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored datasets",
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			infos, err := store.ListDatasets(ctx)
			if err != nil {
				return err
			}
			if format != cli.FormatTable {
				return cli.Encode(cmd.OutOrStdout(), format, infos)
			}
			cli.PrintDatasets(cmd.OutOrStdout(), infos)
			return nil
		},
	}
	addOutputFlag(cmd)
	return cmd
}

func dataDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a stored dataset and its statuses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer closeStorage(store)

			if err := store.DeleteDataset(ctx, args[0]); err != nil {
				if errors.Is(err, common.ErrNotFound) {
					return common.NewUserError(fmt.Sprintf("dataset %q does not exist", args[0]), err)
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Deleted dataset %q", args[0])))
			return nil
		},
	}
}
