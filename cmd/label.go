package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/glint/internal/utils"
)

var labelCmd = &cobra.Command{
	Use:         "label <run_id> <name>",
	Short:       "Assign a name to a recorded annotation run",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{dbAnnotation: "required"},
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			utils.Die("Invalid run ID", err, nil)
		}
		name := args[1]

		runLabel(cmd.Context(), id, name)
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}

func runLabel(ctx context.Context, id int64, name string) {
	// Database is initialized in Root PersistentPreRun
	if err := DB.RenameRun(ctx, id, name); err != nil {
		utils.Die("Failed to label run", err, nil)
	}

	fmt.Printf("✅ Run %d labeled as '%s'\n", id, name)
}
