package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gocv.io/x/gocv"

	"github.com/andresmejia3/glint/internal/config"
	"github.com/andresmejia3/glint/internal/glint"
	"github.com/andresmejia3/glint/internal/logger"
	"github.com/andresmejia3/glint/internal/manifest"
	"github.com/andresmejia3/glint/internal/store"
	"github.com/andresmejia3/glint/internal/types"
	"github.com/andresmejia3/glint/internal/utils"
	"github.com/andresmejia3/glint/internal/worker"
)

// errNoEngines is returned when every landmark engine died before the
// manifest was exhausted.
var errNoEngines = errors.New("all landmark engines stopped")

var annotateOpts Options

var annotateCmd = &cobra.Command{
	Use:   "annotate",
	Short: "Generate glint masks for every image listed in a manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		_, err := runAnnotate(cmd.Context(), annotateOpts)
		return err
	},
}

func init() {
	annotateCmd.Flags().StringVar(&annotateOpts.InputDir, "input-dir", "/input", "Directory the manifest file names are relative to")
	annotateCmd.Flags().StringVar(&annotateOpts.OutputDir, "output-dir", "/output", "Directory the masks are written to")
	annotateCmd.Flags().StringVar(&annotateOpts.InputCSV, "input-csv", "/input/input.csv", "Input manifest with a file_name column")
	annotateCmd.Flags().StringVar(&annotateOpts.OutputCSV, "output-csv", "", "Result manifest path (default: output.csv next to the output directory)")
	annotateCmd.Flags().IntVarP(&annotateOpts.NumEngines, "engines", "e", 1, "Number of parallel engine workers")
	annotateCmd.Flags().StringVar(&annotateOpts.WorkerTimeout, "worker-timeout", "60s", "Maximum time the landmark worker may spend on one image (0 disables)")
	annotateCmd.Flags().Float64VarP(&annotateOpts.DetectionThreshold, "detection-threshold", "D", 0.5, "Face detection confidence threshold")
	annotateCmd.Flags().StringVar(&annotateOpts.ParamsPath, "params", "", "YAML file overriding the detection parameters")
	annotateCmd.Flags().StringVar(&annotateOpts.Python, "python", "python3", "Python interpreter running the landmark worker")
	annotateCmd.Flags().StringVar(&annotateOpts.Script, "worker-script", worker.DefaultScript, "Landmark worker script")
	annotateCmd.Flags().StringVar(&annotateOpts.RunName, "name", "", "Name recorded for this run in the run log")
	rootCmd.AddCommand(annotateCmd)
}

// landmarker is what an engine needs from its landmark process.
type landmarker interface {
	glint.LandmarkProvider
	Alive() bool
	Close()
}

// startLandmarker spawns the landmark process of one engine. Tests swap it.
var startLandmarker = func(ctx context.Context, id int, opts Options) (landmarker, error) {
	cfg, err := workerConfig(opts)
	if err != nil {
		return nil, err
	}
	w, err := worker.NewPythonWorker(ctx, id, cfg)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func workerConfig(opts Options) (worker.Config, error) {
	timeout, err := time.ParseDuration(opts.WorkerTimeout)
	if err != nil {
		return worker.Config{}, fmt.Errorf("invalid worker timeout: %w", err)
	}
	return worker.Config{
		Python:             opts.Python,
		Script:             opts.Script,
		DetectionThreshold: opts.DetectionThreshold,
		ReadTimeout:        timeout,
	}, nil
}

// annotateSummary is the outcome of a batch run.
type annotateSummary struct {
	RunID     int64
	Total     int
	Processed int
	Failed    int
	Manifest  string
	LogFile   string
	Elapsed   time.Duration
}

// runAnnotate orchestrates the batch: manifest, engine pool, ordered
// aggregation, result manifest and run log.
func runAnnotate(ctx context.Context, opts Options) (annotateSummary, error) {
	var sum annotateSummary
	start := time.Now()
	log := logger.L()

	if err := validateAnnotateFlags(&opts); err != nil {
		utils.ShowError("Invalid arguments", err, nil)
		return sum, err
	}

	params, err := config.LoadParams(opts.ParamsPath)
	if err != nil {
		utils.ShowError("Failed to load detection parameters", err, nil)
		return sum, err
	}

	// 1. Manifest problems are fatal before any work starts
	files, err := manifest.ReadFile(opts.InputCSV)
	if err != nil {
		utils.ShowError("Failed to read input manifest", err, nil)
		return sum, err
	}
	sum.Total = len(files)
	sum.Manifest = opts.OutputCSV
	sum.LogFile = logger.Path()

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		utils.ShowError("Failed to create output directory", err, nil)
		return sum, err
	}

	// 2. Register the run when a database is configured
	manifestID, err := utils.GenerateFileID(opts.InputCSV)
	if err != nil {
		utils.ShowError("Failed to fingerprint manifest", err, nil)
		return sum, err
	}
	if DB != nil {
		sum.RunID, err = DB.CreateRun(ctx, store.Run{
			Name:         opts.RunName,
			ManifestPath: opts.InputCSV,
			ManifestID:   manifestID,
			InputDir:     opts.InputDir,
			OutputDir:    opts.OutputDir,
			Total:        len(files),
		})
		if err != nil {
			utils.ShowError("Failed to register run", err, nil)
			return sum, err
		}
	}

	log.Info("annotate.start", "manifest", opts.InputCSV, "manifest_id", manifestID, "images", len(files), "engines", opts.NumEngines)
	fmt.Fprintf(os.Stderr, "📄 Manifest %s: %d images (ID %s)\n", opts.InputCSV, len(files), manifestID[:12])
	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Worker Engines...\n", opts.NumEngines)

	bar := progressbar.NewOptions64(int64(len(files)),
		progressbar.OptionSetDescription("✨ Glint Annotating"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	taskChan := make(chan types.ImageTask, opts.NumEngines)
	resultsChan := make(chan types.ImageResult, opts.NumEngines*2)
	var wg sync.WaitGroup

	// The last engine to leave closes allDead so the dispatcher cannot block
	// on a pool that stopped consuming.
	var running atomic.Int32
	running.Store(int32(opts.NumEngines))
	allDead := make(chan struct{})

	// 3. Start Aggregator (Consumer)
	// Must run concurrently to prevent deadlock on resultsChan
	var rows []manifest.Row
	received := 0
	aggDone := make(chan struct{})
	go func() {
		rows, received = collectResults(ctx, resultsChan, bar, &sum)
		close(aggDone)
	}()

	// 4. Spawn the Engine Pool
	for i := 0; i < opts.NumEngines; i++ {
		wg.Add(1)
		go func(engineID int) {
			defer wg.Done()
			defer func() {
				if running.Add(-1) == 0 {
					close(allDead)
				}
			}()
			runEngine(ctx, engineID, opts, params, taskChan, resultsChan)
		}(i)
	}

	// 5. Dispatch manifest rows in order
feed:
	for i, name := range files {
		task := types.ImageTask{Index: i + 1, FileName: name, Path: filepath.Join(opts.InputDir, name)}
		select {
		case taskChan <- task:
		case <-allDead:
			break feed
		case <-ctx.Done():
			break feed
		}
	}

	close(taskChan)
	wg.Wait()
	close(resultsChan)

	// Wait for aggregator to finish processing
	<-aggDone
	bar.Finish()

	// Undispatched rows and rows stranded in the task buffer never produced a result.
	sum.Failed = sum.Total - sum.Processed

	// 6. Whatever was processed is still written out
	if err := manifest.WriteFile(opts.OutputCSV, rows); err != nil {
		utils.ShowError("Failed to write result manifest", err, nil)
		return sum, err
	}

	if DB != nil {
		if err := DB.FinishRun(context.Background(), sum.RunID, sum.Processed, sum.Failed); err != nil {
			fmt.Fprintf(os.Stderr, "\n⚠️  Failed to finalize run %d: %v\n", sum.RunID, err)
		}
	}

	sum.Elapsed = time.Since(start)
	log.Info("annotate.done", "processed", sum.Processed, "failed", sum.Failed, "elapsed_ms", sum.Elapsed.Milliseconds())
	printSummary(os.Stderr, sum)

	switch {
	case ctx.Err() != nil:
		return sum, fmt.Errorf("annotation interrupted: %w", ctx.Err())
	case received < sum.Total:
		err := fmt.Errorf("%w with %d of %d images unprocessed", errNoEngines, sum.Total-received, sum.Total)
		utils.ShowError("Annotation aborted", err, nil)
		return sum, err
	}
	return sum, nil
}

// runEngine manages the lifecycle of a single landmark process and detector.
// It returns when the task channel is drained or the process dies.
func runEngine(ctx context.Context, id int, opts Options, params glint.Params, tasks <-chan types.ImageTask, results chan<- types.ImageResult) {
	log := logger.L().With("engine", id)

	lm, err := startLandmarker(ctx, id, opts)
	if err != nil {
		utils.ShowError(fmt.Sprintf("Engine %d failed to start", id), err, nil)
		log.Error("engine.start_failed", "err", err)
		return
	}
	defer lm.Close()

	det, err := glint.NewDetector(params, lm, log)
	if err != nil {
		utils.ShowError(fmt.Sprintf("Engine %d failed to start", id), err, nil)
		return
	}

	for task := range tasks {
		results <- processImage(ctx, det, task, opts.OutputDir)

		if !lm.Alive() {
			var crash *utils.SafeCommand
			if pw, ok := lm.(*worker.PythonWorker); ok {
				// DRAIN: Wait for process to exit and capture final stderr logs
				pw.Close()
				crash = pw.Cmd
			}
			if ctx.Err() == nil {
				utils.ShowError(fmt.Sprintf("Engine %d landmark worker died", id), nil, crash)
			}
			log.Error("engine.worker_died", "last_index", task.Index)
			return
		}
	}
}

// processImage loads one image, detects its glints and writes the mask.
// Every failure is reported through ImageResult.Err.
func processImage(ctx context.Context, det *glint.Detector, task types.ImageTask, outputDir string) types.ImageResult {
	res := types.ImageResult{Index: task.Index, FileName: task.FileName}

	if task.FileName == "" {
		res.Err = errors.New("empty file name")
		return res
	}

	img := gocv.IMRead(task.Path, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		res.Err = fmt.Errorf("failed to load image %s", task.Path)
		return res
	}

	out, err := det.Detect(ctx, img)
	if err != nil {
		res.Err = err
		return res
	}
	defer out.Mask.Close()

	maskName := manifest.MaskFileName(task.Index)
	if ok := gocv.IMWrite(filepath.Join(outputDir, maskName), out.Mask); !ok {
		res.Err = fmt.Errorf("failed to write mask %s", maskName)
		return res
	}

	res.MaskFileName = maskName
	res.FaceFound = out.FaceFound
	res.Glints = out.Glints()
	return res
}

// collectResults re-orders engine results by manifest index, reports
// failures and records successes. It returns the manifest rows in input order
// and the number of results seen.
func collectResults(ctx context.Context, results <-chan types.ImageResult, bar *progressbar.ProgressBar, sum *annotateSummary) ([]manifest.Row, int) {
	log := logger.L()

	// Buffer for re-ordering (Engine 2 might finish before Engine 1)
	buffer := make(map[int]types.ImageResult)
	nextIndex := 1
	var rows []manifest.Row
	seen := 0
	dbFailed := false

	handle := func(r types.ImageResult) {
		seen++
		bar.Add(1)
		if r.Err != nil {
			fmt.Fprintf(os.Stderr, "\n⚠️  Skipping %s: %v\n", r.FileName, r.Err)
			log.Warn("annotate.image_failed", "index", r.Index, "file", r.FileName, "err", r.Err)
			return
		}

		sum.Processed++
		rows = append(rows, manifest.Row{FileName: r.FileName, MaskFileName: r.MaskFileName})
		log.Info("annotate.image_done", "index", r.Index, "file", r.FileName, "mask", r.MaskFileName,
			"face", r.FaceFound, "glints", len(r.Glints))

		if DB == nil || dbFailed {
			return
		}
		err := DB.InsertAnnotation(ctx, sum.RunID, store.Annotation{
			Seq:          r.Index,
			FileName:     r.FileName,
			MaskFileName: r.MaskFileName,
			FaceFound:    r.FaceFound,
			Glints:       r.Glints,
		})
		if err != nil {
			// The files on disk are authoritative; stop logging rather than abort.
			dbFailed = true
			fmt.Fprintf(os.Stderr, "\n⚠️  Run log disabled after database error: %v\n", err)
		}
	}

	for res := range results {
		buffer[res.Index] = res

		// Process results in strict manifest order
		for {
			r, ok := buffer[nextIndex]
			if !ok {
				break
			}
			delete(buffer, nextIndex)
			handle(r)
			nextIndex++
		}
	}

	// Gaps are left when an engine died with tasks still queued.
	var rest []int
	for idx := range buffer {
		rest = append(rest, idx)
	}
	sort.Ints(rest)
	for _, idx := range rest {
		handle(buffer[idx])
	}
	return rows, seen
}

// validateAnnotateFlags ensures all CLI arguments are valid before starting heavy processes.
func validateAnnotateFlags(opts *Options) error {
	info, err := os.Stat(opts.InputCSV)
	if err != nil {
		return fmt.Errorf("input manifest: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input manifest %s is a directory", opts.InputCSV)
	}
	if info, err := os.Stat(opts.InputDir); err != nil {
		return fmt.Errorf("input directory: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("input directory %s is not a directory", opts.InputDir)
	}
	if opts.OutputDir == "" {
		return errors.New("output directory is required")
	}
	if opts.OutputCSV == "" {
		opts.OutputCSV = manifest.DefaultOutputPath(opts.OutputDir)
	}
	if opts.NumEngines < 1 {
		opts.NumEngines = 1
	}
	if !(opts.DetectionThreshold > 0) || opts.DetectionThreshold > 1.0 {
		return fmt.Errorf("detection threshold must be between 0.0 and 1.0, got %f", opts.DetectionThreshold)
	}
	if d, err := time.ParseDuration(opts.WorkerTimeout); err != nil {
		return fmt.Errorf("invalid worker timeout (use '30s', '500ms'): %w", err)
	} else if d < 0 {
		return fmt.Errorf("worker timeout must not be negative, got %s", d)
	}
	return nil
}

var (
	summaryTitle  = lipgloss.NewStyle().Bold(true)
	summaryOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	summaryFailed = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	summaryMuted  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

func printSummary(w io.Writer, s annotateSummary) {
	failed := summaryMuted
	if s.Failed > 0 {
		failed = summaryFailed
	}

	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "📊 %s\n", summaryTitle.Render("ANNOTATION SUMMARY"))
	fmt.Fprintf(w, "---------------------------------------------------------\n")
	fmt.Fprintf(w, "🖼️  Total Images:      %d\n", s.Total)
	fmt.Fprintf(w, "✅ Processed:         %s\n", summaryOK.Render(fmt.Sprint(s.Processed)))
	fmt.Fprintf(w, "❌ Failed:            %s\n", failed.Render(fmt.Sprint(s.Failed)))
	fmt.Fprintf(w, "📄 Manifest:          %s\n", s.Manifest)
	if s.RunID > 0 {
		fmt.Fprintf(w, "🗂️  Run ID:            %d\n", s.RunID)
	}
	if s.LogFile != "" {
		fmt.Fprintf(w, "🪵 Log:               %s\n", s.LogFile)
	}
	fmt.Fprintf(w, "⏱️  Elapsed:           %s\n", summaryMuted.Render(s.Elapsed.Round(time.Millisecond).String()))
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}
