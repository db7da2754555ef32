package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/Veraticus/cellflow/internal/cli"
	"github.com/Veraticus/cellflow/internal/common"
	"github.com/Veraticus/cellflow/internal/model"
	"github.com/spf13/cobra"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage correction rules",
		Long: `Correction rules rewrite a cell whose whole value equals the rule's match
into its replacement. Generic rules apply to every correctable column and
run first; column rules apply to one named column and run second.`,
	}

	cmd.AddCommand(rulesAddCmd())
	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesEditCmd())
	cmd.AddCommand(rulesToggleCmd("enable", true))
	cmd.AddCommand(rulesToggleCmd("disable", false))
	cmd.AddCommand(rulesDeleteCmd())

	return cmd
}

func rulesAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add NAME MATCH REPLACEMENT",
		Short: "Create a correction rule",
		Example: `  cellflow rules add smith JohnSmiht "John Smith"
  cellflow rules add reds Rds Reds --column Team --priority 10`,
		Args: cobra.ExactArgs(3),
		RunE: runRulesAdd,
	}

	cmd.Flags().String("column", "", "limit the rule to one column")
	cmd.Flags().Int("priority", 0, "lower priorities apply first")
	cmd.Flags().Bool("disabled", false, "create the rule disabled")

	return cmd
}

func runRulesAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	column, _ := cmd.Flags().GetString("column")
	priority, _ := cmd.Flags().GetInt("priority")
	disabled, _ := cmd.Flags().GetBool("disabled")

	rule := model.CorrectionRule{
		Name:        args[0],
		Match:       args[1],
		Replacement: args[2],
		Scope:       model.ScopeGeneric,
		Priority:    priority,
		Enabled:     !disabled,
	}
	if column != "" {
		rule.Scope = model.ScopeColumn
		rule.Column = column
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStorage(store)

	if err := store.CreateRule(ctx, &rule); err != nil {
		if errors.Is(err, common.ErrDuplicateEntry) {
			return common.NewUserError(fmt.Sprintf("a %s rule already matches %q", rule.Scope, rule.Match), err)
		}
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Created rule %d (%s)", rule.ID, rule.Name)))
	return nil
}

func rulesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List correction rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			enabledOnly, _ := cmd.Flags().GetBool("enabled")

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer closeStorage(store)

			var rules []model.CorrectionRule
			if enabledOnly {
				rules, err = store.EnabledRules(ctx, nil)
			} else {
				rules, err = store.ListRules(ctx)
			}
			if err != nil {
				return fmt.Errorf("failed to list rules: %w", err)
			}

			if format != cli.FormatTable {
				return cli.Encode(cmd.OutOrStdout(), format, rules)
			}
			cli.PrintRules(cmd.OutOrStdout(), rules)
			return nil
		},
	}

	cmd.Flags().Bool("enabled", false, "only enabled rules, in application order")
	addOutputFlag(cmd)

	return cmd
}

func rulesEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit ID",
		Short: "Change a correction rule",
		Args:  cobra.ExactArgs(1),
		RunE:  runRulesEdit,
	}

	cmd.Flags().String("name", "", "new name")
	cmd.Flags().String("match", "", "new match value")
	cmd.Flags().String("replace", "", "new replacement")
	cmd.Flags().String("column", "", "limit the rule to this column")
	cmd.Flags().Bool("generic", false, "make the rule apply to every correctable column")
	cmd.Flags().Int("priority", 0, "new priority")

	return cmd
}

func runRulesEdit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := ruleID(args[0])
	if err != nil {
		return err
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStorage(store)

	rule, err := store.GetRule(ctx, id)
	if err != nil {
		return notFound(err, id)
	}

	flags := cmd.Flags()
	if flags.Changed("name") {
		rule.Name, _ = flags.GetString("name")
	}
	if flags.Changed("match") {
		rule.Match, _ = flags.GetString("match")
	}
	if flags.Changed("replace") {
		rule.Replacement, _ = flags.GetString("replace")
	}
	if flags.Changed("priority") {
		rule.Priority, _ = flags.GetInt("priority")
	}
	generic, _ := flags.GetBool("generic")
	switch {
	case generic && flags.Changed("column"):
		return errors.New("--generic and --column are mutually exclusive")
	case generic:
		rule.Scope, rule.Column = model.ScopeGeneric, ""
	case flags.Changed("column"):
		rule.Column, _ = flags.GetString("column")
		rule.Scope = model.ScopeColumn
	}

	if err := store.UpdateRule(ctx, rule); err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Updated rule %d", id)))
	return nil
}

func rulesToggleCmd(verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " ID",
		Short: verb + " a correction rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := ruleID(args[0])
			if err != nil {
				return err
			}

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer closeStorage(store)

			if err := store.SetRuleEnabled(ctx, id, enabled); err != nil {
				return notFound(err, id)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Rule %d %sd", id, verb)))
			return nil
		},
	}
}

func rulesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a correction rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := ruleID(args[0])
			if err != nil {
				return err
			}

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer closeStorage(store)

			if err := store.DeleteRule(ctx, id); err != nil {
				return notFound(err, id)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Deleted rule %d", id)))
			return nil
		},
	}
}

func ruleID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid rule ID %q", arg)
	}
	return id, nil
}

func notFound(err error, id int) error {
	if errors.Is(err, common.ErrNotFound) {
		return common.NewUserError(fmt.Sprintf("rule %d does not exist", id), err)
	}
	return err
}
