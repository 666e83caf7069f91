package main

import (
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/sells-group/enrich-cli/internal/registry"
)

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "List dashboards and their stages",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("stages-file")
		if path == "" {
			path = cfg.Pipeline.StagesFile
		}
		reg, err := registry.LoadFile(path)
		if err != nil {
			return err
		}
		formatStages(os.Stdout, reg)
		return nil
	},
}

func formatStages(w io.Writer, reg *registry.Registry) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Dashboard", "Records", "#", "Stage", "Endpoint", "Result"})
	table.SetAutoMergeCells(true)
	table.SetRowLine(true)
	for _, d := range reg.Dashboards {
		for i, s := range d.Stages {
			method := s.Method
			if method == "" {
				method = "POST"
			}
			table.Append([]string{
				d.Name,
				d.RecordsPath,
				fmt.Sprint(i + 1),
				s.Name,
				method + " " + s.Path,
				s.Result,
			})
		}
	}
	table.Render()
}

func init() {
	stagesCmd.Flags().String("stages-file", "", "stage registry YAML (default built-in)")
	rootCmd.AddCommand(stagesCmd)
}
