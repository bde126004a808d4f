package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcelocantos/pipesh/internal/journal"
)

func (a *app) journalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the execution journal",
	}

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check the journal's hash chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			if err := journal.Verify(a.fs, a.cfg.Journal.Path); err != nil {
				fmt.Fprintf(w, "journal verification FAILED: %v\n", err)
				return &ExitError{Code: 1}
			}
			fmt.Fprintln(w, "journal integrity verified")
			return nil
		},
	}

	var n int
	var asJSON bool
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent journal entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := journal.Tail(a.fs, a.cfg.Journal.Path, n)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(w, "no journal entries")
				return nil
			}
			if !asJSON {
				return journal.Write(w, entries)
			}
			for _, e := range entries {
				data, err := json.MarshalIndent(e, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\n", data)
			}
			return nil
		},
	}
	tail.Flags().IntVarP(&n, "lines", "n", 20, "number of entries to show")
	tail.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")

	cmd.AddCommand(verify, tail)
	return cmd
}
