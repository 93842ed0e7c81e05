package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ChubbyChuckles-Inc/RosterPlanner-sub002/internal/extract"
)

func newPreviewCommand() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "preview [file]",
		Short: "Apply rules to the corpus (or one file) and summarize matches",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, _, err := loadRuleSet()
			if err != nil {
				return err
			}
			corpus, err := loadCorpus()
			if err != nil {
				return err
			}

			if len(args) == 1 {
				html, ok := corpus[args[0]]
				if !ok {
					return fmt.Errorf("file %s not found in corpus", args[0])
				}
				preview, err := extract.GeneratePreview(rs, html, !raw)
				if err != nil {
					return err
				}
				t := table.NewWriter()
				t.SetOutputMirror(cmd.OutOrStdout())
				t.AppendHeader(table.Row{"Resource", "Kind", "Records", "Warnings"})
				for _, s := range preview.Summaries {
					t.AppendRow(table.Row{s.Resource, s.Kind, s.RecordCount, len(s.Warnings)})
				}
				t.Render()
				for _, e := range preview.Errors {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: [%s] %s\n", e.Severity, e.Resource, e.Message)
				}
				return nil
			}

			bundle, err := extract.AdaptRuleSetOverFiles(rs, corpus)
			if err != nil {
				return err
			}
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Resource", "Kind", "Distinct Rows", "Files", "Warnings"})
			for _, name := range sortedKeys(bundle.Resources) {
				res := bundle.Resources[name]
				t.AppendRow(table.Row{res.Name, res.Kind, len(res.Rows), len(res.SourceFiles), len(res.Warnings)})
			}
			t.Render()
			for _, e := range bundle.Errors {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: [%s] %s (%s)\n", e.Severity, e.Resource, e.Message, e.File)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "skip transform chains, show raw extracted text")
	return cmd
}
