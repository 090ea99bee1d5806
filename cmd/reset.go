package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/focusedad/internal/config"
	"github.com/andresmejia3/focusedad/internal/utils"
)

var (
	resetTables bool
	resetFiles  bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Database tables, extracted frames)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := applyFlags(cmd, Cfg); err != nil {
			return err
		}
		// If no flags are set, default to clearing EVERYTHING
		if !resetTables && !resetFiles {
			resetTables = true
			resetFiles = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetTables {
			if DB == nil {
				return errors.New("no database configured: set --db, FOCUS_DATABASE_URL or POSTGRES_HOST")
			}
			if confirm(reader, "⚠️  Are you sure you want to DROP all database tables?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.ShowError("Failed to reset database", err, nil)
					return err
				}
			}
		}

		if resetFiles {
			temp := filepath.Join(Cfg.DataDir, "temp")
			if confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete all extracted frames in %s?", temp)) {
				fmt.Println("🗑️  Clearing Extracted Frames...")
				removeDir(temp)
			}
		}

		fmt.Println("✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetTables, "tables", false, "Drop the PostgreSQL tables")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Delete extracted frames under <data>/temp")
	resetCmd.Flags().String("data", config.DefaultDataDir, "Data directory")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
