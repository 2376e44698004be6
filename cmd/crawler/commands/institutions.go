package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(institutionsCmd)
}

var institutionsCmd = &cobra.Command{
	Use:   "institutions",
	Short: "Lists the institutions that can be crawled.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := loadRegistry(definitionsPath)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tSTRATEGY\tPAGES\tNAME")
		for _, d := range registry.List() {
			fmt.Fprintf(w, "%s\t%s\t%d-%d\t%s\n", d.Key, d.Listing.Strategy, d.Start, d.End, d.Name)
		}
		return w.Flush()
	},
}
