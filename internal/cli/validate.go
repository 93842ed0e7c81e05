package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/rules"
	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/sandbox"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the rule document against the schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rs, _, err := loadRuleSet()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d resources, %d derived fields, %d quality gates\n",
				len(rs.Resources), len(rs.Derived), len(rs.QualityGates))
			return nil
		},
	}
}

func newScanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Statically scan rule expressions for sandbox violations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := loadRuleText()
			if err != nil {
				return err
			}
			report := sandbox.ScanRulesText(text)
			fmt.Fprintln(cmd.OutOrStdout(), report.Summary())
			if len(report.Issues) == 0 {
				return nil
			}
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Category", "Expression", "Message"})
			for _, issue := range report.Issues {
				t.AppendRow(table.Row{issue.Category, issue.Expr, issue.Message})
			}
			t.Render()
			return fmt.Errorf("scan found %d issue(s)", len(report.Issues))
		},
	}
}

func newExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export <path>",
		Short: "Write the canonical JSON form of the rule document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := loadRuleText()
			if err != nil {
				return err
			}
			path, err := rules.ExportRules(text, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported rules to %s\n", path)
			return nil
		},
	}
}

func newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <path>",
		Short: "Load and validate a rule file, printing its canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			canonical, err := rules.ImportRules(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), canonical)
			return nil
		},
	}
}
