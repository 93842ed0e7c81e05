package cli

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/diff"
	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/rules"
	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/snapshot"
)

func newDiffCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <rules-a> <rules-b>",
		Short: "Compare extraction output of two rule documents over the corpus",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadRuleSetFrom(args[0])
			if err != nil {
				return err
			}
			b, err := loadRuleSetFrom(args[1])
			if err != nil {
				return err
			}
			corpus, err := loadCorpus()
			if err != nil {
				return err
			}
			report, err := diff.DiffRuleSets(a, b, corpus)
			if err != nil {
				return err
			}
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Resource", "Rows A", "Rows B", "Only A", "Only B", "Overlap"})
			for _, rd := range report.Resources {
				t.AppendRow(table.Row{rd.Resource, rd.CountA, rd.CountB, rd.OnlyA, rd.OnlyB, rd.Overlap})
			}
			total := report.Totals()
			t.AppendFooter(table.Row{"total", total.CountA, total.CountB, total.OnlyA, total.OnlyB, total.Overlap})
			t.Render()
			if report.Identical() {
				fmt.Fprintln(cmd.OutOrStdout(), "rule sets produce identical output")
			}
			return nil
		},
	}
}

func newSnapshotCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture and compare extraction snapshots",
	}
	cmd.AddCommand(newSnapshotSaveCommand(), newSnapshotCheckCommand())
	return cmd
}

func newSnapshotSaveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Capture a snapshot of current extraction output",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rs, text, err := loadRuleSet()
			if err != nil {
				return err
			}
			corpus, err := loadCorpus()
			if err != nil {
				return err
			}
			snap, err := snapshot.Generate(rs, corpus, text)
			if err != nil {
				return err
			}
			path, err := snapshot.Save(snap, cfg.SnapshotDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s saved to %s\n", snap.ID, path)
			return nil
		},
	}
}

func newSnapshotCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <baseline.json>",
		Short: "Compare current extraction output against a baseline snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseline, err := snapshot.Load(args[0])
			if err != nil {
				return err
			}
			rs, text, err := loadRuleSet()
			if err != nil {
				return err
			}
			corpus, err := loadCorpus()
			if err != nil {
				return err
			}
			current, err := snapshot.Generate(rs, corpus, text)
			if err != nil {
				return err
			}
			diffs := snapshot.Compare(baseline, current)
			if len(diffs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no differences against baseline")
				return nil
			}
			for _, d := range diffs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", d.Category, d.Detail)
			}
			return fmt.Errorf("%d difference(s) against baseline", len(diffs))
		},
	}
}

func loadRuleSetFrom(path string) (*rules.RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules from %s: %w", path, err)
	}
	payload, err := rules.ParseDocument(string(raw))
	if err != nil {
		return nil, err
	}
	return rules.FromMapping(payload)
}
