package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/state"
)

func newVersionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "Manage rule document versions",
	}
	cmd.AddCommand(newVersionsListCommand(), newVersionsSaveCommand(), newVersionsShowCommand())
	return cmd
}

func openStore() (*state.Store, error) {
	store := state.NewStore()
	if err := store.Open(cfg.StatePath); err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func newVersionsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored rule versions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			versions, err := store.ListRuleVersions()
			if err != nil {
				return err
			}
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Version", "Hash", "Note", "Created At"})
			for _, v := range versions {
				t.AppendRow(table.Row{v.Version, v.Hash, v.Note,
					v.CreatedAt.Format("2006-01-02 15:04:05")})
			}
			t.Render()
			return nil
		},
	}
}

func newVersionsSaveCommand() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Store the current rule document as a new version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, text, err := loadRuleSet()
			if err != nil {
				return err
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			v, err := store.SaveRuleVersion(text, note)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (hash %s)\n", v.Version, v.Hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "note stored with the version")
	return cmd
}

func newVersionsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <version>",
		Short: "Print the stored document of one version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var version int64
			if _, err := fmt.Sscanf(args[0], "%d", &version); err != nil {
				return fmt.Errorf("invalid version number %q", args[0])
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			v, err := store.GetRuleVersion(version)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), v.Document)
			return nil
		},
	}
}
