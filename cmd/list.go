package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/focusedad/internal/utils"
)

var listLimit int

var listCmd = &cobra.Command{
	Use:         "list",
	Short:       "List the most recent descriptions stored in the database",
	Annotations: map[string]string{needsDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		rows, err := DB.ListDescriptions(cmd.Context(), listLimit)
		if err != nil {
			utils.ShowError("Failed to list descriptions", err, nil)
			return err
		}

		if len(rows) == 0 {
			fmt.Println("No descriptions found in database.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "SCENE\tSTATUS\tDURATION\tCREATED\tDESCRIPTION")
		fmt.Fprintln(w, "-----\t------\t--------\t-------\t-----------")

		for _, r := range rows {
			text := r.Description
			if r.Status != "described" {
				text = fmt.Sprintf("[%s] %s", r.Stage, r.Error)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.SceneID, r.Status, r.Duration.Round(100*time.Millisecond),
				r.CreatedAt.Local().Format("2006-01-02 15:04"), truncate(text, 80))
		}
		return w.Flush()
	},
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "l", 20, "Maximum number of rows to show")
	rootCmd.AddCommand(listCmd)
}
