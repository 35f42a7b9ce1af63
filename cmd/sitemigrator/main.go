// cmd/sitemigrator/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/valpere/SiteMigrator/internal/api"
	"github.com/valpere/SiteMigrator/internal/batch"
	"github.com/valpere/SiteMigrator/internal/config"
	"github.com/valpere/SiteMigrator/internal/fetch"
	"github.com/valpere/SiteMigrator/internal/migrate"
	"github.com/valpere/SiteMigrator/internal/monitoring"
	"github.com/valpere/SiteMigrator/internal/rowsource"
	"github.com/valpere/SiteMigrator/internal/store"
	"github.com/valpere/SiteMigrator/internal/utils"
)

// Version information (set by build flags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "run":
		requireArg("run <file.csv|file.xlsx>")
		runMigration(os.Args[2])

	case "batch":
		requireArg("batch <file.csv|file.xlsx>")
		createBatch(os.Args[2])

	case "serve":
		serve()

	case "status":
		requireArg("status <batch-id>")
		batchStatus(parseID(os.Args[2]))

	case "retry":
		requireArg("retry <batch-id>")
		retryBatch(parseID(os.Args[2]))

	case "cancel":
		requireArg("cancel <batch-id>")
		cancelBatch(parseID(os.Args[2]))

	case "template":
		fmt.Print(config.GenerateTemplate())

	case "version", "--version":
		printVersion()

	case "help", "--help", "-h":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", command)
		printUsage()
		os.Exit(1)
	}
}

// runMigration processes a whole file synchronously and prints the tally.
func runMigration(path string) {
	cfg := loadConfig()
	logger := newLogger(cfg)

	reader, err := rowsource.Open(path)
	if err != nil {
		fatalf("%v", err)
	}
	records, err := reader.ReadAll()
	if err != nil {
		fatalf("%v", err)
	}
	if len(records) == 0 {
		fatalf("no rows found in %s", path)
	}

	contentStore := openContentStore(cfg)
	processor := newProcessor(cfg, contentStore, nil, logger)

	rows := make([]migrate.Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, migrate.ParseRow(rec.Fields))
	}

	allowOverwrite := cfg.Migration.AllowOverwrite || hasFlag("--overwrite")

	fmt.Printf("Processing %d rows from %s\n", len(rows), path)
	outcomes, summary := processor.ProcessAll(context.Background(), rows, allowOverwrite)

	for i, out := range outcomes {
		switch out.Status {
		case migrate.StatusSuccess:
			fmt.Printf("  row %d: %s %q (/%s)\n", records[i].Index, out.Action, out.Title, out.Path)
		case migrate.StatusSkipped:
			fmt.Printf("  row %d: skipped: %s\n", records[i].Index, out.Message)
		default:
			fmt.Printf("  row %d: FAILED: %s\n", records[i].Index, out.Message)
		}
	}
	fmt.Printf("Done: %s\n", summary.String())

	if summary.Failed > 0 {
		os.Exit(1)
	}
}

// createBatch persists a new batch for asynchronous processing by a running
// serve process.
func createBatch(path string) {
	cfg := loadConfig()
	logger := newLogger(cfg)

	reader, err := rowsource.Open(path)
	if err != nil {
		fatalf("%v", err)
	}
	records, err := reader.ReadAll()
	if err != nil {
		fatalf("%v", err)
	}

	rows := make([]map[string]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, rec.Fields)
	}

	engine := newEngine(cfg, noopScheduler{}, nil, logger)
	allowOverwrite := cfg.Migration.AllowOverwrite || hasFlag("--overwrite")

	b, err := engine.CreateBatch(context.Background(), path, path, rows, allowOverwrite)
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("Batch %d created with %d items (run 'sitemigrator serve' to process)\n", b.ID, b.TotalItems)
}

// serve runs the HTTP API and the batch scheduler until interrupted.
func serve() {
	cfg := loadConfig()
	logger := newLogger(cfg)
	metrics := monitoring.NewMetrics()

	scheduler := batch.NewTimerScheduler()
	defer scheduler.Stop()

	engine := newEngine(cfg, scheduler, metrics, logger)
	if err := engine.Resume(context.Background()); err != nil {
		logger.Errorf("failed to resume batches: %v", err)
	}

	server := &http.Server{
		Addr:    cfg.Server.ListenAddress,
		Handler: api.NewServer(engine, metrics, logger, "").Handler(),
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	logger.Infof("listening on %s", cfg.Server.ListenAddress)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fatalf("%v", err)
	}
}

func batchStatus(batchID int64) {
	cfg := loadConfig()
	engine := newEngine(cfg, noopScheduler{}, nil, newLogger(cfg))

	status, err := engine.GetStatus(context.Background(), batchID, 25, 0)
	if err != nil {
		fatalf("%v", err)
	}

	b := status.Batch
	fmt.Printf("Batch %d (%s): %s\n", b.ID, b.FileName, b.Status)
	fmt.Printf("  items: %d total, %d pending, %d processing, %d success, %d skipped, %d failed\n",
		status.Stats.Total(), status.Stats.Pending, status.Stats.Processing,
		status.Stats.Success, status.Stats.Skipped, status.Stats.Failed)
	for _, item := range status.Items {
		line := fmt.Sprintf("  item %d (row %d): %s", item.ID, item.RowIndex, item.Status)
		if item.ErrorMessage != "" {
			line += " - " + item.ErrorMessage
		}
		fmt.Println(line)
	}
}

func retryBatch(batchID int64) {
	cfg := loadConfig()
	engine := newEngine(cfg, noopScheduler{}, nil, newLogger(cfg))

	n, err := engine.RetryBatch(context.Background(), batchID)
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("Batch %d: %d failed items reset to pending\n", batchID, n)
}

func cancelBatch(batchID int64) {
	cfg := loadConfig()
	engine := newEngine(cfg, noopScheduler{}, nil, newLogger(cfg))

	if err := engine.CancelBatch(context.Background(), batchID); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("Batch %d cancelled\n", batchID)
}

// loadConfig loads the file named by --config, or defaults.
func loadConfig() *config.Config {
	path := flagValue("--config")
	if path == "" {
		return config.Default()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		fatalf("%v", err)
	}
	return cfg
}

func newLogger(cfg *config.Config) utils.Logger {
	level := utils.ParseLevel(cfg.LogLevel)
	if hasFlag("-v") || hasFlag("--verbose") {
		level = utils.DebugLevel
	}
	return utils.NewLoggerWithLevel(level)
}

func openContentStore(cfg *config.Config) migrate.ContentStore {
	if cfg.Store.Driver == "memory" {
		return store.NewMemoryStore()
	}
	s, err := store.NewSQLStore(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		fatalf("%v", err)
	}
	return s
}

func openBatchStore(cfg *config.Config) batch.Store {
	if cfg.Batch.Driver == "memory" {
		return batch.NewMemoryStore()
	}
	s, err := batch.NewSQLStore(cfg.Batch.Driver, cfg.Batch.DSN)
	if err != nil {
		fatalf("%v", err)
	}
	return s
}

func newProcessor(cfg *config.Config, contentStore migrate.ContentStore, metrics *monitoring.Metrics, logger utils.Logger) *migrate.Processor {
	fetcher := fetch.NewFetcher(fetch.Config{
		Timeout:       cfg.Fetcher.Timeout.Std(),
		RetryAttempts: cfg.Fetcher.RetryAttempts,
		RetryDelay:    cfg.Fetcher.RetryDelay.Std(),
		RateLimit:     cfg.Fetcher.RateLimit,
		RateBurst:     cfg.Fetcher.RateBurst,
		UserAgents:    cfg.Fetcher.UserAgents,
		Headers:       cfg.Fetcher.Headers,
		Metrics:       metrics,
	})
	return migrate.NewProcessor(contentStore, fetcher, migrate.ProcessorConfig{
		BlogPrefix:    cfg.Migration.BlogPrefix,
		PublishStatus: cfg.Migration.PublishStatus,
	}, logger)
}

func newEngine(cfg *config.Config, scheduler batch.Scheduler, metrics *monitoring.Metrics, logger utils.Logger) *batch.Engine {
	contentStore := openContentStore(cfg)
	processor := newProcessor(cfg, contentStore, metrics, logger)
	return batch.NewEngine(openBatchStore(cfg), processor, scheduler, metrics, logger)
}

// noopScheduler is used by one-shot commands that only mutate batch state;
// a running serve process picks the work up.
type noopScheduler struct{}

func (noopScheduler) Schedule(task batch.Task, delay time.Duration) {}

func requireArg(usage string) {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Error: missing argument\n")
		fmt.Fprintf(os.Stderr, "Usage: sitemigrator %s\n", usage)
		os.Exit(1)
	}
}

func parseID(raw string) int64 {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		fatalf("invalid id %q", raw)
	}
	return id
}

func hasFlag(flag string) bool {
	for _, arg := range os.Args {
		if arg == flag {
			return true
		}
	}
	return false
}

func flagValue(flag string) string {
	for i, arg := range os.Args {
		if arg == flag && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
	}
	return ""
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func printUsage() {
	fmt.Println("SiteMigrator - Batch Website Content Migration Tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  sitemigrator run <file>        Migrate a file synchronously and print the tally")
	fmt.Println("  sitemigrator batch <file>      Create an asynchronous batch")
	fmt.Println("  sitemigrator serve             Run the API server and batch scheduler")
	fmt.Println("  sitemigrator status <id>       Show batch status")
	fmt.Println("  sitemigrator retry <id>        Reset a batch's failed items for retry")
	fmt.Println("  sitemigrator cancel <id>       Cancel a batch")
	fmt.Println("  sitemigrator template          Print a starter configuration file")
	fmt.Println("  sitemigrator version           Show version information")
	fmt.Println("  sitemigrator help              Show this help message")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <file.yaml>           Configuration file")
	fmt.Println("  --overwrite                    Update existing content instead of skipping")
	fmt.Println("  -v, --verbose                  Enable verbose output")
}

func printVersion() {
	fmt.Printf("SiteMigrator %s\n", version)
	fmt.Printf("Build time: %s\n", buildTime)
	fmt.Printf("Git commit: %s\n", gitCommit)
}
