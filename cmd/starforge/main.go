// Package main implements the starforge pipeline binary. One invocation
// runs one pipeline (full refresh, incremental, or checks) and prints
// the JSON run report to stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/starforge/starforge/internal/config"
	"github.com/starforge/starforge/internal/pipeline"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		mode        string
		date        string
		envFile     string
		scheduled   bool
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&mode, "mode", "", "Pipeline mode: full, incremental, checks")
	flag.StringVar(&date, "date", "", "Partition date for incremental mode (YYYY-MM-DD)")
	flag.StringVar(&envFile, "env-file", "", "Path to a .env file loaded before the environment is read")
	flag.BoolVar(&scheduled, "scheduled", false, "Run the quality-gated scheduled variant")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Starforge - Product Analytics Batch Pipeline\n\n")
		fmt.Fprintf(os.Stderr, "Usage: starforge [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  starforge --data-dir /data/starforge --mode full\n")
		fmt.Fprintf(os.Stderr, "  starforge --mode incremental --date 2025-11-15\n")
		fmt.Fprintf(os.Stderr, "  starforge --mode full --scheduled\n")
		fmt.Fprintf(os.Stderr, "  starforge --config /etc/starforge/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  STARFORGE_MODE            Pipeline mode (full, incremental, checks)\n")
		fmt.Fprintf(os.Stderr, "  STARFORGE_DATA_DIR        Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  STARFORGE_STORAGE_TYPE    Lake storage type (local, s3)\n")
		fmt.Fprintf(os.Stderr, "  STARFORGE_S3_BUCKET       S3 bucket for the lake\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("starforge version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load env file %s: %v\n", envFile, err)
			os.Exit(1)
		}
	} else {
		// Optional by convention; a missing default .env is fine.
		_ = godotenv.Load()
	}

	cfg, err := loadConfig(configFile, dataDir, mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	log.WithFields(logrus.Fields{
		"mode":     cfg.Mode,
		"data_dir": cfg.DataDir,
		"storage":  cfg.Storage.Type,
	}).Info("starting starforge pipeline")

	if err := cfg.EnsureDirectories(); err != nil {
		log.WithError(err).Fatal("could not prepare data directories")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	p := pipeline.New(cfg, log)

	var report *pipeline.Report
	switch {
	case scheduled:
		report, err = p.RunScheduled(ctx, date)
	case cfg.Mode == config.ModeIncremental:
		if date == "" {
			log.Fatal("incremental mode requires --date")
		}
		report, err = p.RunIncremental(ctx, date)
	case cfg.Mode == config.ModeChecks:
		report, err = p.RunChecks(ctx)
	default:
		report, err = p.RunFullRefresh(ctx)
	}

	if report != nil {
		printReport(report)
	}
	if err != nil {
		log.WithError(err).Error("pipeline run failed")
		os.Exit(1)
	}
	if cfg.Mode == config.ModeChecks && report.Quality != nil && !report.Quality.GateOpen() {
		log.WithField("failed", report.Quality.Failed).Error("quality gate failed")
		os.Exit(2)
	}
}

// loadConfig layers configuration: file, then environment, then flags.
func loadConfig(configFile, dataDir, mode string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if mode != "" {
		cfg.Mode = config.Mode(mode)
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

func printReport(report *pipeline.Report) {
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not encode report: %v\n", err)
		return
	}
	fmt.Println(string(out))
}
