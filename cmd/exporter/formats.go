package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"mercator-hq/exporter/pkg/cli"
	"mercator-hq/exporter/pkg/export/generator"
)

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List the export formats this binary supports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printResult(cmd, formatTable(generator.NewDefaultRegistry().List()))
	},
}

func init() {
	rootCmd.AddCommand(formatsCmd)
}

type formatTable []generator.Info

func (t formatTable) Table() cli.Table {
	table := cli.Table{Headers: []string{"FORMAT", "MEDIA TYPE", "EXTENSION", "BATCH", "DESCRIPTION"}}
	for _, info := range t {
		table.Rows = append(table.Rows, []string{
			string(info.Format),
			info.MediaType,
			info.Extension,
			strconv.FormatBool(info.SupportsBatch),
			info.Description,
		})
	}
	return table
}
