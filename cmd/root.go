package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/glint/internal/logger"
	"github.com/andresmejia3/glint/internal/store"
)

// Options holds shared configuration for the annotate and detect commands
type Options struct {
	InputDir           string
	OutputDir          string
	InputCSV           string
	OutputCSV          string
	NumEngines         int
	WorkerTimeout      string
	DetectionThreshold float64
	ParamsPath         string
	Python             string
	Script             string
	RunName            string
}

// dbAnnotation marks commands that cannot work without the run log.
const dbAnnotation = "glint/db"

var (
	// DB is the global database connection shared by subcommands. It stays nil
	// when no database is configured.
	DB *store.Store
	// dbURL is the connection string
	dbURL string

	logFile       string
	debugLog      bool
	loggerCleanup func() error
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "glint",
	Short:   "Corneal reflection mask generator",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cleanup, err := logger.Setup(logger.Config{Path: logFile, Debug: debugLog})
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		loggerCleanup = cleanup

		url := resolveDBURL(cmd.Annotations[dbAnnotation] == "required")
		if url == "" {
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), url)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		logger.L().Info("db.connected")
		return nil
	},
}

// resolveDBURL picks the connection string from --db, then the POSTGRES_*
// environment. The local default is only used when the command needs a database.
func resolveDBURL(required bool) string {
	if dbURL != "" {
		return dbURL
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	if required {
		return "postgres://localhost:5432/glint"
	}
	return ""
}

func shutdown() {
	if DB != nil {
		// Use Background here because the main context might be cancelled already (due to Ctrl+C)
		// and we still need to send the "Close" command to the DB.
		DB.Close(context.Background())
		DB = nil
	}
	if loggerCleanup != nil {
		loggerCleanup()
		loggerCleanup = nil
	}
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	err := rootCmd.ExecuteContext(ctx)
	shutdown()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for the run log (default: POSTGRES_* environment, otherwise disabled)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write structured JSON diagnostics to this file")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "Include per-eye diagnostics in the log file")
}
