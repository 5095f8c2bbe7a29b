package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/hakken/internal/notion"
)

var repairApply bool

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect and repair the CRM database schema",
}

var schemaValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the CRM database against the required schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		crm, limiter, err := openCRM(slog.Default())
		if err != nil {
			return err
		}
		defer crm.Close()
		defer func() { _ = limiter.Close() }()

		report, err := crm.ValidateSchema(ctx, true)
		if err != nil {
			return err
		}
		if err := writeOutput(report); err != nil {
			return err
		}
		if report.Valid {
			fmt.Println("Schema OK")
			return nil
		}
		return fmt.Errorf("schema invalid: %s", report.Summary())
	},
}

var schemaRepairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Create missing CRM properties and select options",
	Long: `Plan the schema changes needed to bring the CRM database in line and,
with --apply, execute them. Wrong property types cannot be fixed without
data loss and abort the repair.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		crm, limiter, err := openCRM(slog.Default())
		if err != nil {
			return err
		}
		defer crm.Close()
		defer func() { _ = limiter.Close() }()

		plan, err := crm.RepairSchema(ctx, !repairApply)
		if err != nil {
			return err
		}
		if len(plan.Operations) == 0 && len(plan.CannotAutoFix) == 0 {
			fmt.Println("Schema OK, nothing to repair")
			return writeOutput(plan)
		}
		for _, op := range plan.Operations {
			switch op.Kind {
			case notion.RepairCreateProperty:
				fmt.Printf("  create property %q (%s)\n", op.Property, op.PropType)
			case notion.RepairAddSelectOption:
				fmt.Printf("  add option %q to %q\n", op.Option, op.Property)
			default:
				fmt.Printf("  %s %q\n", op.Kind, op.Property)
			}
		}
		for _, msg := range plan.CannotAutoFix {
			fmt.Printf("  cannot auto-fix: %s\n", msg)
		}
		if !repairApply {
			fmt.Println("Dry run - pass --apply to execute")
		}
		return writeOutput(plan)
	},
}

func init() {
	schemaRepairCmd.Flags().BoolVar(&repairApply, "apply", false, "execute the repair plan instead of printing it")
	schemaCmd.AddCommand(schemaValidateCmd, schemaRepairCmd)
	rootCmd.AddCommand(schemaCmd)
}
