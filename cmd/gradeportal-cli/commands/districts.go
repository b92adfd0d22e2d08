package commands

import (
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(districtsCmd)
}

var districtsCmd = &cobra.Command{
	Use:   "districts",
	Short: "Prints the districts that can be scraped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := registry()
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"District", "Driver", "Hosts", "Exam weight"})
		for _, d := range r.All() {
			t.AppendRow(table.Row{d.Name, d.Driver, strings.Join(d.Hosts, ", "), d.ExamWeight})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}
