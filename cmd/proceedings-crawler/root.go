package main

import (
	"github.com/spf13/cobra"
)

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proceedings-crawler",
		Short: "Harvest NeurIPS proceedings metadata and PDFs.",
		Long: `proceedings-crawler walks the NeurIPS proceedings site year by year,
records title, authors and links for every paper in a CSV file and
downloads each paper's PDF into a per-year directory.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "path to a YAML config file")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}
