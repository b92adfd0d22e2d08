package commands

import (
	"os"
	"time"

	"gradeportal-backend/internal/snapshot"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(snapshotsCmd)
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots <district> <username>",
	Short: "Prints the daily course averages recorded for a login.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		district, err := findDistrict(args[0])
		if err != nil {
			return err
		}

		store, closeStore, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		history, err := store.History(ctx, snapshot.Account{District: district.Name, Username: args[1]})
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Course", "Day", "Average"})
		for _, series := range history {
			for _, p := range series.Points {
				t.AppendRow(table.Row{series.CourseTitle, p.Day.Format(time.DateOnly), grade(&p.Value)})
			}
			t.AppendSeparator()
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}
