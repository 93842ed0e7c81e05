package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/guard"
	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/state"
)

func newSimulateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Dry-run the rule document against the corpus",
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, _, err := runSimulation(0)
			if err != nil {
				return err
			}
			printSimulation(cmd, result)
			if !result.Passed {
				return fmt.Errorf("simulation did not pass")
			}
			return nil
		},
	}
}

func newApplyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Simulate and, on a passing result, apply with audit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			// Record the document being applied so audit rows carry its
			// version; saving an unchanged document reuses the latest one.
			text, err := loadRuleText()
			if err != nil {
				return err
			}
			version, err := store.SaveRuleVersion(text, "")
			if err != nil {
				return err
			}

			result, g, err := runSimulation(version.Version)
			if err != nil {
				return err
			}
			printSimulation(cmd, result)
			if !result.Passed {
				return fmt.Errorf("simulation did not pass; not applying")
			}

			applied, err := g.Apply(result.ID, store.DB())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied simulation %d: %d audit row(s), rules hash %s, rule version %d\n",
				applied.SimID, applied.AuditRows, applied.RulesHash, version.Version)
			return nil
		},
	}
}

func newAuditCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent apply audit records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store := state.NewStore()
			if err := store.Open(cfg.StatePath); err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(); err != nil {
				return err
			}
			rows, err := store.ListAudit(limit)
			if err != nil {
				return err
			}
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"ID", "Sim", "Resource", "Rows", "Hash", "Applied At"})
			for _, row := range rows {
				t.AppendRow(table.Row{row.ID, row.SimID, row.Resource, row.RowCount,
					row.RulesHash, row.AppliedAt.Format("2006-01-02 15:04:05")})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum audit rows to list")
	return cmd
}

func runSimulation(ruleVersion int64) (*guard.SimulationResult, *guard.Guard, error) {
	text, err := loadRuleText()
	if err != nil {
		return nil, nil, err
	}
	corpus, err := loadCorpus()
	if err != nil {
		return nil, nil, err
	}
	g := guard.New(guard.Options{
		DisallowCustomCode: cfg.DisallowCustomCode,
		RuleVersion:        ruleVersion,
		Logger:             logger,
	})
	result, err := g.Simulate(text, corpus)
	if err != nil {
		return nil, nil, err
	}
	return result, g, nil
}

func printSimulation(cmd *cobra.Command, result *guard.SimulationResult) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Resource", "Distinct Rows"})
	for _, name := range sortedKeys(result.RowCounts) {
		t.AppendRow(table.Row{name, result.RowCounts[name]})
	}
	t.Render()

	status := "PASSED"
	if !result.Passed {
		status = "FAILED"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "simulation %d %s (rules hash %s)\n",
		result.ID, status, result.RulesHash)
	for _, reason := range result.Reasons {
		fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", reason)
	}
}
