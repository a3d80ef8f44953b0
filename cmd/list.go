package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/glint/internal/store"
	"github.com/andresmejia3/glint/internal/utils"
)

var listCmd = &cobra.Command{
	Use:         "list [run_id]",
	Short:       "List recorded annotation runs, or the images of one run",
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{dbAnnotation: "required"},
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 1 {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				utils.Die("Invalid run ID", err, nil)
			}
			anns, err := DB.Annotations(cmd.Context(), id)
			if err != nil {
				utils.Die("Failed to load annotations", err, nil)
			}
			printAnnotations(os.Stdout, id, anns)
			return
		}

		runs, err := DB.ListRuns(cmd.Context())
		if err != nil {
			utils.Die("Failed to list runs", err, nil)
		}
		printRuns(os.Stdout, runs)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func printRuns(out io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found in database.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPROCESSED\tFAILED\tTOTAL\tSTARTED\tMANIFEST")
	fmt.Fprintln(w, "--\t----\t---------\t------\t-----\t-------\t--------")

	for _, r := range runs {
		name := r.Name
		if name == "" {
			name = "-"
		}
		status := fmt.Sprint(r.Processed)
		if r.FinishedAt == nil {
			status = "running"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID, name, status, r.Failed, r.Total,
			r.StartedAt.Local().Format("2006-01-02 15:04"), r.ManifestPath)
	}
	w.Flush()
}

func printAnnotations(out io.Writer, runID int64, anns []store.Annotation) {
	if len(anns) == 0 {
		fmt.Fprintf(out, "No annotations recorded for run %d.\n", runID)
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SEQ\tFILE\tMASK\tFACE\tGLINTS")
	fmt.Fprintln(w, "---\t----\t----\t----\t------")

	for _, a := range anns {
		face := "no"
		if a.FaceFound {
			face = "yes"
		}
		glints := "-"
		if len(a.Glints) > 0 {
			pts := make([]string, len(a.Glints))
			for i, g := range a.Glints {
				pts[i] = fmt.Sprintf("(%d,%d)", g.X, g.Y)
			}
			glints = strings.Join(pts, " ")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", a.Seq, a.FileName, a.MaskFileName, face, glints)
	}
	w.Flush()
}
