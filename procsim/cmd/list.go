package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/sarchlab/procsim/scenario"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the scenarios that can be run.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

		for _, name := range scenario.Names() {
			m, err := scenario.Lookup(name)
			if err != nil {
				return err
			}

			fmt.Fprintf(w, "%s\t%s\n", name, m.Description())
		}

		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
