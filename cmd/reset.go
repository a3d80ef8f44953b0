package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/glint/internal/manifest"
	"github.com/andresmejia3/glint/internal/utils"
)

var (
	resetDB        bool
	resetFiles     bool
	resetOutputDir string
	resetOutputCSV string
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Run log, Masks, Result manifest)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFiles {
			resetDB = true
			resetFiles = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			if DB == nil {
				fmt.Println("ℹ️  No database configured, skipping run log.")
			} else if confirm(reader, "⚠️  Are you sure you want to DROP all run log tables?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetFiles {
			csvPath := resetOutputCSV
			if csvPath == "" {
				csvPath = manifest.DefaultOutputPath(resetOutputDir)
			}
			if confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete all masks in %s and %s?", resetOutputDir, csvPath)) {
				fmt.Println("🗑️  Clearing Output Files (Masks, Manifest)...")
				n := removeMasks(os.Stderr, resetOutputDir)
				removePath(os.Stderr, csvPath)
				fmt.Printf("   Removed %d masks\n", n)
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "db", false, "Clear PostgreSQL run log")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear generated masks and the result manifest")
	resetCmd.Flags().StringVar(&resetOutputDir, "output-dir", "/output", "Directory holding the generated masks")
	resetCmd.Flags().StringVar(&resetOutputCSV, "output-csv", "", "Result manifest path (default: output.csv next to the output directory)")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

// removeMasks deletes the generated masks in dir and nothing else.
func removeMasks(errw io.Writer, dir string) int {
	matches, err := filepath.Glob(filepath.Join(dir, "image_*_mask.png"))
	if err != nil {
		fmt.Fprintf(errw, "⚠️  Failed to list %s: %v\n", dir, err)
		return 0
	}
	n := 0
	for _, m := range matches {
		if removePath(errw, m) {
			n++
		}
	}
	return n
}

func removePath(errw io.Writer, path string) bool {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(errw, "⚠️  Failed to remove %s: %v\n", path, err)
		return false
	}
	return true
}
