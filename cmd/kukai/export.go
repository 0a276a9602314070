package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/torosent/kukai/internal/columnar"
)

func newExportCommand() *cobra.Command {
	var input, out string
	cmd := &cobra.Command{
		Use:           "export",
		Short:         "Convert a standalone Arrow metrics file to Parquet",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := columnar.ExportParquet(input, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d records from %s to %s\n", n, input, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "kukai_metrics.arrow", "Arrow metrics file written by standalone mode")
	cmd.Flags().StringVarP(&out, "output", "o", "kukai_metrics.parquet", "Parquet file to create")
	return cmd
}
