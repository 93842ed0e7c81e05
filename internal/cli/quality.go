package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/quality"
)

func newCoverageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "coverage",
		Short: "Report field coverage over the corpus",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rs, _, err := loadRuleSet()
			if err != nil {
				return err
			}
			corpus, err := loadCorpus()
			if err != nil {
				return err
			}
			report, err := quality.ComputeFieldCoverage(rs, corpus)
			if err != nil {
				return err
			}
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Resource", "Field", "Non-Empty", "Total", "Distinct", "Ratio"})
			for _, rc := range report.Resources {
				for _, f := range rc.Fields {
					t.AppendRow(table.Row{rc.Resource, f.Field, f.NonEmpty, f.Total, f.Distinct,
						fmt.Sprintf("%.2f", f.Ratio())})
				}
			}
			t.Render()
			fmt.Fprintf(cmd.OutOrStdout(), "overall coverage: %.2f over %d file(s)\n",
				report.OverallRatio(), report.Files)
			return nil
		},
	}
}

func newGatesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "gates",
		Short: "Evaluate configured quality gates over the corpus",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rs, _, err := loadRuleSet()
			if err != nil {
				return err
			}
			corpus, err := loadCorpus()
			if err != nil {
				return err
			}
			coverage, err := quality.ComputeFieldCoverage(rs, corpus)
			if err != nil {
				return err
			}
			report := quality.EvaluateQualityGates(rs, coverage)
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Gate", "Threshold", "Actual", "Status"})
			for _, g := range report.Results {
				status := "pass"
				if !g.Passed {
					status = "FAIL: " + g.Reason
				}
				t.AppendRow(table.Row{g.Gate,
					fmt.Sprintf("%.2f", g.Threshold),
					fmt.Sprintf("%.2f", g.Actual),
					status})
			}
			t.Render()
			if !report.Passed() {
				return fmt.Errorf("%d quality gate(s) failed", report.FailedCount())
			}
			return nil
		},
	}
}
