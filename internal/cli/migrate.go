package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/migrate"
	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/state"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Preview schema changes the rules imply for the destination db",
		Long: `Diffs the rule-implied schema against the live SQLite schema and
prints planned CREATE TABLE / ADD COLUMN statements plus advisory type
notes. Nothing is executed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rs, _, err := loadRuleSet()
			if err != nil {
				return err
			}
			store := state.NewStore()
			if err := store.Open(cfg.StatePath); err != nil {
				return err
			}
			defer store.Close()

			preview, err := migrate.GeneratePreview(rs, store.DB())
			if err != nil {
				return err
			}
			if len(preview.Changes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Kind", "Table", "Column", "Statement / Note"})
			for _, c := range preview.Changes {
				detail := c.SQL
				if detail == "" {
					detail = c.Comment
				}
				t.AppendRow(table.Row{string(c.Kind), c.Table, c.Column, detail})
			}
			t.Render()
			return nil
		},
	}
}
