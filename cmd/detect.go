package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gocv.io/x/gocv"

	"github.com/andresmejia3/glint/internal/config"
	"github.com/andresmejia3/glint/internal/glint"
	"github.com/andresmejia3/glint/internal/logger"
	"github.com/andresmejia3/glint/internal/utils"
	"github.com/andresmejia3/glint/internal/worker"
)

var (
	detectOpts   Options
	detectOutput string
)

var detectCmd = &cobra.Command{
	Use:   "detect <image_path>",
	Short: "Detect the glints of a single image and write its mask",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runDetect(cmd.Context(), args[0], detectOutput, detectOpts)
	},
}

func init() {
	detectCmd.Flags().StringVarP(&detectOutput, "output", "o", "", "Mask path (default: <image>_mask.png next to the image)")
	detectCmd.Flags().Float64VarP(&detectOpts.DetectionThreshold, "detection-threshold", "D", 0.5, "Face detection confidence threshold")
	detectCmd.Flags().StringVar(&detectOpts.WorkerTimeout, "worker-timeout", "60s", "Maximum time the landmark worker may spend on the image (0 disables)")
	detectCmd.Flags().StringVar(&detectOpts.ParamsPath, "params", "", "YAML file overriding the detection parameters")
	detectCmd.Flags().StringVar(&detectOpts.Python, "python", "python3", "Python interpreter running the landmark worker")
	detectCmd.Flags().StringVar(&detectOpts.Script, "worker-script", worker.DefaultScript, "Landmark worker script")
	rootCmd.AddCommand(detectCmd)
}

// defaultMaskPath places the mask next to the image: face.jpg -> face_mask.png.
func defaultMaskPath(imagePath string) string {
	stem := strings.TrimSuffix(filepath.Base(imagePath), filepath.Ext(imagePath))
	return filepath.Join(filepath.Dir(imagePath), stem+"_mask.png")
}

func runDetect(ctx context.Context, imagePath, output string, opts Options) error {
	if _, err := os.Stat(imagePath); err != nil {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	}
	if output == "" {
		output = defaultMaskPath(imagePath)
	}

	params, err := config.LoadParams(opts.ParamsPath)
	if err != nil {
		utils.ShowError("Failed to load detection parameters", err, nil)
		return err
	}

	img := gocv.IMRead(imagePath, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		err := fmt.Errorf("failed to decode %s", imagePath)
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	// We use ID 0 for this ad-hoc worker
	lm, err := startLandmarker(ctx, 0, opts)
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return err
	}
	defer lm.Close()

	det, err := glint.NewDetector(params, lm, logger.L())
	if err != nil {
		utils.ShowError("Invalid detection parameters", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🔍 Analyzing eyes...")
	res, err := det.Detect(ctx, img)
	if err != nil {
		var crash *utils.SafeCommand
		if pw, ok := lm.(*worker.PythonWorker); ok {
			crash = pw.Cmd
		}
		utils.ShowError("AI processing failed", err, crash)
		return err
	}
	defer res.Mask.Close()

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		utils.ShowError("Failed to create output directory", err, nil)
		return err
	}
	if ok := gocv.IMWrite(output, res.Mask); !ok {
		err := fmt.Errorf("failed to write %s", output)
		utils.ShowError("Failed to write mask", err, nil)
		return err
	}

	printEyes(os.Stdout, res)
	fmt.Fprintf(os.Stderr, "💾 Mask written to %s\n", output)
	return nil
}

// printEyes reports the per-eye outcome of a detection.
func printEyes(w io.Writer, res glint.Result) {
	if !res.FaceFound {
		fmt.Fprintln(w, "❌ No face detected in the provided image.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "EYE\tSTATUS\tROI\tGLINTS")
	fmt.Fprintln(tw, "---\t------\t---\t------")

	for _, e := range res.Eyes {
		status := "not found"
		switch {
		case e.Skip != glint.NotSkipped:
			status = "skipped (" + e.Skip.String() + ")"
		case len(e.Marks) > 0:
			status = "found"
		}

		roi := "-"
		if e.Skip == glint.NotSkipped || e.Skip == glint.SkipProcessingError {
			roi = fmt.Sprintf("%dx%d@%d,%d", e.ROI.Side, e.ROI.Side, e.ROI.X, e.ROI.Y)
		}

		pts := make([]string, len(e.Marks))
		for i, p := range e.Marks {
			pts[i] = p.String()
		}
		marks := strings.Join(pts, " ")
		if marks == "" {
			marks = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Side, status, roi, marks)
	}
	tw.Flush()
}
