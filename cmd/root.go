package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version information - set via ldflags during build
	// Example: go build -ldflags "-X github.com/rightson/mongo-backup/cmd.Version=1.2.3"
	Version = "dev" // Default to "dev" if not set during build

	// signalContext is set by main() before Cobra initialization
	// This ensures signal handling is set up before any library can interfere
	signalContext context.Context

	cfgFile          string
	debug            bool
	logFormat        string
	dryRun           bool
	dbURI            string
	dbHost           string
	dbPort           int
	dbUser           string
	dbPassword       string
	dbName           string
	dbAuthSource     string
	s3Endpoint       string
	s3Bucket         string
	s3AccessKey      string
	s3SecretKey      string
	s3Region         string
	s3Prefix         string
	collection       string
	partitionField   string
	outputDir        string
	batchSize        int
	compression      string
	compressionLevel int
	maxDocsPerRange  int64
	inputDir         string
	targetDB         string
	dropBefore       bool
	unitFilter       []string
	assumeYes        bool

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true).
			Underline(true)

	logger *slog.Logger
)

// SetSignalContext stores the signal-aware context created in main()
// This must be called before Execute() to ensure proper signal handling
func SetSignalContext(ctx context.Context) {
	signalContext = ctx
}

// textOnlyHandler is a custom slog handler that outputs human-readable text
// without key=value pairs, suitable for interactive terminal usage
type textOnlyHandler struct {
	opts   slog.HandlerOptions
	writer io.Writer
}

func newTextOnlyHandler(w io.Writer, opts *slog.HandlerOptions) *textOnlyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &textOnlyHandler{
		opts:   *opts,
		writer: w,
	}
}

func (h *textOnlyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *textOnlyHandler) Handle(_ context.Context, r slog.Record) error {
	// Format: YYYY-MM-DD HH:MM:SS LEVEL message
	timestamp := r.Time.Format("2006-01-02 15:04:05")
	level := r.Level.String()

	_, err := fmt.Fprintf(h.writer, "%s %s %s\n", timestamp, level, r.Message)
	return err
}

func (h *textOnlyHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	// For simplicity, we ignore attributes in text-only mode
	return h
}

func (h *textOnlyHandler) WithGroup(_ string) slog.Handler {
	// For simplicity, we ignore groups in text-only mode
	return h
}

// initLogger initializes the slog logger based on debug flag and log format
func initLogger(isDebug bool, format string) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if isDebug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "logfmt":
		// logfmt uses slog.TextHandler which outputs key=value pairs
		handler = slog.NewTextHandler(os.Stdout, opts)
	default: // "text" or anything else
		handler = newTextOnlyHandler(os.Stdout, opts)
	}

	logger = slog.New(handler)
}

var rootCmd = &cobra.Command{
	Use:     "mongo-backup",
	Version: Version,
	Short:   "📦 Export MongoDB collections to compressed JSONL archives",
	Long: titleStyle.Render("Mongo Backup") + `

A CLI tool to export large MongoDB collections to newline-delimited JSON
archives, partitioned by a timestamp field into monthly files. Exports are
resumable via a checkpoint file, memory-bounded, and can compress with
zstd/lz4/gzip and optionally upload to S3-compatible storage. Companion
restore and clean commands load archives back and reclaim disk space.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// Show help when no subcommand is specified
		cmd.Help()
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Export a collection to time-partitioned JSONL archives",
	Long: `Export a MongoDB collection to JSONL archive files, one per month of the
partition field, splitting dense months into sub-ranges. Progress is
checkpointed after each file so an interrupted export resumes where it left off.`,
	Run: func(_ *cobra.Command, _ []string) {
		runDump()
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Load JSONL archives back into a MongoDB collection",
	Long: `Read archive files produced by dump and insert their documents into a
target collection. Recreates indexes from the metadata sidecar when present.`,
	Run: func(_ *cobra.Command, _ []string) {
		runRestore()
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete archive files whose units are checkpointed as complete",
	Long: `Delete local archive files for export units recorded as complete in the
checkpoint, freeing disk space. Files not covered by the checkpoint are never
touched.`,
	Run: func(_ *cobra.Command, _ []string) {
		runClean()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(cleanCmd)

	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mongo-backup.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, logfmt, json)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "report what would be done without writing or deleting")

	// Dump-specific flags
	dumpCmd.Flags().StringVar(&dbURI, "uri", "", "MongoDB connection URI (overrides host/port/user flags)")
	dumpCmd.Flags().StringVar(&dbHost, "db-host", "localhost", "MongoDB host")
	dumpCmd.Flags().IntVar(&dbPort, "db-port", 27017, "MongoDB port")
	dumpCmd.Flags().StringVar(&dbUser, "db-user", "", "MongoDB user")
	dumpCmd.Flags().StringVar(&dbPassword, "db-password", "", "MongoDB password")
	dumpCmd.Flags().StringVar(&dbName, "db-name", "", "MongoDB database name")
	dumpCmd.Flags().StringVar(&dbAuthSource, "auth-source", "admin", "MongoDB authentication database")
	dumpCmd.Flags().StringVar(&collection, "collection", "", "collection to export (required)")
	dumpCmd.Flags().StringVar(&partitionField, "field", "", "timestamp field used to partition the export (required)")
	dumpCmd.Flags().StringVar(&outputDir, "output-dir", ".", "directory for archive files and the checkpoint")
	dumpCmd.Flags().IntVar(&batchSize, "batch-size", 1000, "cursor batch size (documents fetched per round trip)")
	dumpCmd.Flags().StringVar(&compression, "compression", "zstd", "compression type: zstd, lz4, gzip, none")
	dumpCmd.Flags().IntVar(&compressionLevel, "compression-level", 3, "compression level (zstd: 1-22, lz4/gzip: 1-9)")
	dumpCmd.Flags().Int64Var(&maxDocsPerRange, "max-docs-per-range", 1000000, "split a month into sub-ranges above this document count")
	dumpCmd.Flags().StringVar(&s3Endpoint, "s3-endpoint", "", "S3-compatible endpoint URL (enables upload after each file)")
	dumpCmd.Flags().StringVar(&s3Bucket, "s3-bucket", "", "S3 bucket name")
	dumpCmd.Flags().StringVar(&s3AccessKey, "s3-access-key", "", "S3 access key")
	dumpCmd.Flags().StringVar(&s3SecretKey, "s3-secret-key", "", "S3 secret key")
	dumpCmd.Flags().StringVar(&s3Region, "s3-region", "auto", "S3 region")
	dumpCmd.Flags().StringVar(&s3Prefix, "s3-prefix", "", "key prefix for uploaded archives")

	// Restore-specific flags
	restoreCmd.Flags().StringVar(&dbURI, "uri", "", "MongoDB connection URI (overrides host/port/user flags)")
	restoreCmd.Flags().StringVar(&dbHost, "db-host", "localhost", "MongoDB host")
	restoreCmd.Flags().IntVar(&dbPort, "db-port", 27017, "MongoDB port")
	restoreCmd.Flags().StringVar(&dbUser, "db-user", "", "MongoDB user")
	restoreCmd.Flags().StringVar(&dbPassword, "db-password", "", "MongoDB password")
	restoreCmd.Flags().StringVar(&dbName, "db-name", "", "database name the archives were exported from (required)")
	restoreCmd.Flags().StringVar(&dbAuthSource, "auth-source", "admin", "MongoDB authentication database")
	restoreCmd.Flags().StringVar(&collection, "collection", "", "collection the archives were exported from (required)")
	restoreCmd.Flags().StringVar(&inputDir, "input-dir", ".", "directory containing the archive files")
	restoreCmd.Flags().StringVar(&targetDB, "target-db", "", "database to restore into (defaults to --db-name)")
	restoreCmd.Flags().BoolVar(&dropBefore, "drop", false, "drop the target collection before restoring")
	restoreCmd.Flags().IntVar(&batchSize, "batch-size", 1000, "documents per insert batch")
	restoreCmd.Flags().StringSliceVar(&unitFilter, "units", nil, "restore only these unit keys (e.g. 2024-03,2024-04-part2)")

	// Clean-specific flags
	cleanCmd.Flags().StringVar(&dbName, "db-name", "", "database name the archives were exported from (required)")
	cleanCmd.Flags().StringVar(&collection, "collection", "", "collection the archives were exported from (required)")
	cleanCmd.Flags().StringVar(&outputDir, "output-dir", ".", "directory containing the archive files and checkpoint")
	cleanCmd.Flags().StringSliceVar(&unitFilter, "units", nil, "clean only these unit keys (e.g. 2024-03,2024-04-part2)")
	cleanCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation prompt")

	// Note: We don't use MarkFlagRequired because it checks before viper loads the config file.
	// Instead, validation happens in config.Validate() which runs after all config sources are loaded.

	// Bind persistent flags
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("dry_run", rootCmd.PersistentFlags().Lookup("dry-run"))

	// Bind dump flags
	_ = viper.BindPFlag("db.uri", dumpCmd.Flags().Lookup("uri"))
	_ = viper.BindPFlag("db.host", dumpCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("db.port", dumpCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("db.user", dumpCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("db.password", dumpCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("db.name", dumpCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("db.auth_source", dumpCmd.Flags().Lookup("auth-source"))
	_ = viper.BindPFlag("collection", dumpCmd.Flags().Lookup("collection"))
	_ = viper.BindPFlag("field", dumpCmd.Flags().Lookup("field"))
	_ = viper.BindPFlag("output_dir", dumpCmd.Flags().Lookup("output-dir"))
	_ = viper.BindPFlag("batch_size", dumpCmd.Flags().Lookup("batch-size"))
	_ = viper.BindPFlag("compression", dumpCmd.Flags().Lookup("compression"))
	_ = viper.BindPFlag("compression_level", dumpCmd.Flags().Lookup("compression-level"))
	_ = viper.BindPFlag("max_docs_per_range", dumpCmd.Flags().Lookup("max-docs-per-range"))
	_ = viper.BindPFlag("s3.endpoint", dumpCmd.Flags().Lookup("s3-endpoint"))
	_ = viper.BindPFlag("s3.bucket", dumpCmd.Flags().Lookup("s3-bucket"))
	_ = viper.BindPFlag("s3.access_key", dumpCmd.Flags().Lookup("s3-access-key"))
	_ = viper.BindPFlag("s3.secret_key", dumpCmd.Flags().Lookup("s3-secret-key"))
	_ = viper.BindPFlag("s3.region", dumpCmd.Flags().Lookup("s3-region"))
	_ = viper.BindPFlag("s3.prefix", dumpCmd.Flags().Lookup("s3-prefix"))

	// Bind restore flags (last binding wins for shared variables)
	_ = viper.BindPFlag("db.uri", restoreCmd.Flags().Lookup("uri"))
	_ = viper.BindPFlag("db.host", restoreCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("db.port", restoreCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("db.user", restoreCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("db.password", restoreCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("db.name", restoreCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("db.auth_source", restoreCmd.Flags().Lookup("auth-source"))
	_ = viper.BindPFlag("collection", restoreCmd.Flags().Lookup("collection"))
	_ = viper.BindPFlag("input_dir", restoreCmd.Flags().Lookup("input-dir"))
	_ = viper.BindPFlag("target_db", restoreCmd.Flags().Lookup("target-db"))
	_ = viper.BindPFlag("drop", restoreCmd.Flags().Lookup("drop"))
	_ = viper.BindPFlag("batch_size", restoreCmd.Flags().Lookup("batch-size"))
	_ = viper.BindPFlag("units", restoreCmd.Flags().Lookup("units"))

	// Bind clean flags
	_ = viper.BindPFlag("db.name", cleanCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("collection", cleanCmd.Flags().Lookup("collection"))
	_ = viper.BindPFlag("output_dir", cleanCmd.Flags().Lookup("output-dir"))
	_ = viper.BindPFlag("units", cleanCmd.Flags().Lookup("units"))
	_ = viper.BindPFlag("yes", cleanCmd.Flags().Lookup("yes"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".mongo-backup")
	}

	viper.SetEnvPrefix("MONGO_BACKUP")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && debug {
		// Initialize logger early if reading config in debug mode
		if logger == nil {
			initLogger(debug, logFormat)
		}
		logger.Debug(fmt.Sprintf("📄 Using config file: %s", viper.ConfigFileUsed()))
	}
}

// loadConfig assembles the effective configuration for a run mode from all
// viper sources (flags, environment, config file)
func loadConfig(mode string) *Config {
	config := &Config{
		Debug:     viper.GetBool("debug"),
		LogFormat: viper.GetString("log_format"),
		DryRun:    viper.GetBool("dry_run"),
		Mode:      mode,
		Database: DatabaseConfig{
			URI:        viper.GetString("db.uri"),
			Host:       viper.GetString("db.host"),
			Port:       viper.GetInt("db.port"),
			User:       viper.GetString("db.user"),
			Password:   viper.GetString("db.password"),
			Name:       viper.GetString("db.name"),
			AuthSource: viper.GetString("db.auth_source"),
		},
		S3: S3Config{
			Endpoint:  viper.GetString("s3.endpoint"),
			Bucket:    viper.GetString("s3.bucket"),
			AccessKey: viper.GetString("s3.access_key"),
			SecretKey: viper.GetString("s3.secret_key"),
			Region:    viper.GetString("s3.region"),
			Prefix:    viper.GetString("s3.prefix"),
		},
		Collection:          viper.GetString("collection"),
		Field:               viper.GetString("field"),
		OutputDir:           viper.GetString("output_dir"),
		BatchSize:           viper.GetInt("batch_size"),
		Compression:         viper.GetString("compression"),
		CompressionLevel:    viper.GetInt("compression_level"),
		MaxDocsPerRange:     viper.GetInt64("max_docs_per_range"),
		InputDir:            viper.GetString("input_dir"),
		TargetDB:            viper.GetString("target_db"),
		DropBeforeRestore:   viper.GetBool("drop"),
		Units:               viper.GetStringSlice("units"),
		RequireConfirmation: !viper.GetBool("yes"),
	}

	// Uncompressed output has no meaningful level; normalize so the flag
	// default does not trip validation
	if config.Compression == "none" {
		config.CompressionLevel = 0
	}

	return config
}

// validateOrExit initializes the logger and validates config, exiting on error
func validateOrExit(config *Config) {
	initLogger(config.Debug, config.LogFormat)

	logger.Info("")
	logger.Info(fmt.Sprintf("🚀 Mongo Backup v%s - %s", Version, config.Mode))
	logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	logger.Debug("Validating configuration...")
	if err := config.Validate(); err != nil {
		logger.Error(fmt.Sprintf("❌ Configuration error: %s", err.Error()))
		os.Exit(1)
	}
	logger.Debug("Configuration validated successfully")
}

// runContext returns the signal-aware context created in main()
func runContext() (context.Context, context.CancelFunc) {
	ctx := signalContext
	if ctx == nil {
		// Fallback if SetSignalContext wasn't called (shouldn't happen)
		logger.Warn("Signal context not set, creating fallback...")
		return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	}
	return ctx, func() {}
}

func runDump() {
	// Add panic recovery to catch any unexpected crashes
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n❌ PANIC: %v\n", r)
			os.Exit(1)
		}
	}()

	config := loadConfig(ModeDump)
	validateOrExit(config)

	// Check for updates in background (non-blocking)
	updateCheckDone := make(chan struct{})
	go func() {
		defer close(updateCheckDone)
		result := checkForUpdates(context.Background(), Version)
		if result.UpdateAvailable {
			logger.Info("")
			logger.Info(fmt.Sprintf("💡 %s", formatUpdateMessage(result)))
		} else if result.Error != nil && config.Debug {
			logger.Debug(fmt.Sprintf("Version check failed: %v", result.Error))
		}
	}()

	// Give version check a short time to complete, but don't block startup
	select {
	case <-updateCheckDone:
	case <-time.After(2 * time.Second):
		logger.Debug("Version check taking longer than expected, continuing...")
	}

	ctx, stop := runContext()
	defer stop()

	logger.Debug("Connecting to MongoDB...")
	client, err := connectMongo(ctx, &config.Database)
	if err != nil {
		logger.Error(fmt.Sprintf("❌ %s", err.Error()))
		os.Exit(1)
	}
	defer func() {
		_ = client.Disconnect(context.Background())
	}()

	var uploader *s3Uploader
	if config.S3.Endpoint != "" {
		uploader, err = newS3Uploader(config.S3, config.Database.Name, config.Collection, logger)
		if err != nil {
			logger.Error(fmt.Sprintf("❌ %s", err.Error()))
			os.Exit(1)
		}
	}

	coll := client.Database(config.Database.Name).Collection(config.Collection)
	source := newMongoSource(coll, config.Field, config.BatchSize)
	store := NewCheckpointStore(config.OutputDir, config.Database.Name, config.Collection)

	// Set up a goroutine to force-exit if graceful shutdown takes too long
	exited := make(chan struct{})
	go func() {
		<-ctx.Done()
		logger.Info("")
		logger.Info("⚠️  Interrupt signal received, shutting down...")

		select {
		case <-exited:
			// Graceful shutdown completed
			return
		case <-time.After(2 * time.Second):
			logger.Error("⚠️  Graceful shutdown timed out, forcing exit...")
			os.Exit(130)
		}
	}()

	logger.Debug("Starting export...")
	dumper := NewDumper(config, source, store, uploader, logger)

	err = dumper.Run(ctx)
	close(exited) // Signal that the export process has exited

	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("")
			logger.Info("⚠️  Export cancelled by user, progress checkpointed")
			os.Exit(130)
		}
		logger.Error(fmt.Sprintf("❌ Export failed: %s", err.Error()))
		os.Exit(1)
	}

	logger.Info("")
	logger.Info("✅ Export completed successfully!")
}

func runRestore() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n❌ PANIC: %v\n", r)
			os.Exit(1)
		}
	}()

	config := loadConfig(ModeRestore)
	validateOrExit(config)

	ctx, stop := runContext()
	defer stop()

	logger.Debug("Connecting to MongoDB...")
	client, err := connectMongo(ctx, &config.Database)
	if err != nil {
		logger.Error(fmt.Sprintf("❌ %s", err.Error()))
		os.Exit(1)
	}
	defer func() {
		_ = client.Disconnect(context.Background())
	}()

	targetName := config.TargetDB
	if targetName == "" {
		targetName = config.Database.Name
	}
	coll := client.Database(targetName).Collection(config.Collection)
	writer := newMongoWriter(coll)

	restorer := NewRestorer(config, writer, logger)
	err = restorer.Run(ctx)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("")
			logger.Info("⚠️  Restore cancelled by user")
			os.Exit(130)
		}
		logger.Error(fmt.Sprintf("❌ Restore failed: %s", err.Error()))
		os.Exit(1)
	}

	logger.Info("")
	logger.Info("✅ Restore completed successfully!")
}

func runClean() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n❌ PANIC: %v\n", r)
			os.Exit(1)
		}
	}()

	config := loadConfig(ModeClean)
	validateOrExit(config)

	ctx, stop := runContext()
	defer stop()

	store := NewCheckpointStore(config.OutputDir, config.Database.Name, config.Collection)
	cleaner := NewCleaner(config, store, logger)

	if err := cleaner.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("")
			logger.Info("⚠️  Clean cancelled by user")
			os.Exit(130)
		}
		logger.Error(fmt.Sprintf("❌ Clean failed: %s", err.Error()))
		os.Exit(1)
	}

	logger.Info("")
	logger.Info("✅ Clean completed successfully!")
}
