// cratewatch - dependency graph and vulnerability scanner for Cargo projects
//
// Typical invocations:
//
//	cratewatch -manifest ./Cargo.toml
//	cratewatch -deep -advisories rustsec.json.gz -output json
//	cratewatch -config cratewatch.yaml -min-severity high
//
// Exit codes: 0 clean, 1 findings or violations, 2 fatal error.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cratewatch/cratewatch/pkg/advisory"
	"github.com/cratewatch/cratewatch/pkg/core"
	"github.com/cratewatch/cratewatch/pkg/metrics"
	"github.com/cratewatch/cratewatch/pkg/pipeline"
	"github.com/cratewatch/cratewatch/pkg/registry"
	"github.com/cratewatch/cratewatch/pkg/report"
	"github.com/cratewatch/cratewatch/pkg/shared/severity"
)

const (
	appName    = "cratewatch"
	appVersion = "1.0.0"
)

// Config is the optional YAML configuration file.
type Config struct {
	Scan core.ScanOptions `yaml:"scan"`

	// AdvisoriesPath points at the advisory database (JSON, optionally
	// gzip-compressed).
	AdvisoriesPath string `yaml:"advisories_path"`

	// Output is the report format, "text" or "json".
	Output string `yaml:"output"`

	// MinSeverity hides text-mode findings below the level.
	MinSeverity string `yaml:"min_severity"`

	// MetricsAddr serves Prometheus metrics when non-empty.
	MetricsAddr string `yaml:"metrics_addr"`

	Registry struct {
		// CachePath is the SQLite metadata cache location.
		// Default: ~/.cratewatch/metadata.db
		CachePath string `yaml:"cache_path"`

		// RateLimit caps registry requests per second.
		RateLimit float64 `yaml:"rate_limit"`
	} `yaml:"registry"`
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	manifestPath := flag.String("manifest", "", "Path to Cargo.toml (default ./Cargo.toml)")
	lockfilePath := flag.String("lockfile", "", "Path to Cargo.lock (default: next to the manifest)")
	advisoriesPath := flag.String("advisories", "", "Path to advisory database (JSON or JSON.gz)")
	refreshAdvisories := flag.Bool("refresh-advisories", false, "Fetch advisories from the GitHub Security Advisory database (GITHUB_TOKEN env for authenticated access)")
	output := flag.String("output", "", "Output format: text or json (default text)")
	deep := flag.Bool("deep", false, "Enrich the graph from registry metadata")
	minSeverity := flag.String("min-severity", "", "Hide findings below this severity in text output")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	verbose := flag.Bool("verbose", false, "Verbose output")
	showVersion := flag.Bool("version", false, "Show version")

	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(0)
	}

	var cfg Config
	if *configPath != "" {
		if err := loadConfig(*configPath, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(2)
		}
	}

	// Flags override the config file.
	if *manifestPath != "" {
		cfg.Scan.ManifestPath = *manifestPath
	}
	if *lockfilePath != "" {
		cfg.Scan.LockfilePath = *lockfilePath
	}
	if *advisoriesPath != "" {
		cfg.AdvisoriesPath = *advisoriesPath
	}
	if *output != "" {
		cfg.Output = *output
	}
	if *minSeverity != "" {
		cfg.MinSeverity = *minSeverity
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *deep {
		cfg.Scan.DeepScan = true
	}
	if *verbose {
		cfg.Scan.Verbose = true
	}
	if cfg.Output == "" {
		cfg.Output = string(report.FormatText)
	}
	cfg.Scan.Normalize()

	logger := core.FromVerbose(appName, cfg.Scan.Verbose)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn("interrupted, shutting down")
		cancel()
	}()

	var collector metrics.Collector = &metrics.NopCollector{}
	if cfg.MetricsAddr != "" {
		prom := metrics.NewPrometheusCollector()
		collector = prom
		go serveMetrics(cfg.MetricsAddr, prom, logger)
	}

	records, err := loadAdvisories(ctx, &cfg, *refreshAdvisories, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading advisories: %v\n", err)
		os.Exit(2)
	}

	popts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithCollector(collector),
		pipeline.WithAdvisories(records),
	}
	if cfg.Scan.DeepScan {
		source, cleanup, err := buildRegistrySource(&cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error setting up registry client: %v\n", err)
			os.Exit(2)
		}
		defer cleanup()
		popts = append(popts, pipeline.WithMetadataSource(source))
	}

	rep, err := pipeline.New(&cfg.Scan, popts...).Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Scan failed: %v\n", err)
		os.Exit(2)
	}

	renderer, err := report.NewRenderer(report.Format(cfg.Output),
		report.WithMinSeverity(severity.FromString(cfg.MinSeverity)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if err := renderer.Render(os.Stdout, rep); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing report: %v\n", err)
		os.Exit(2)
	}

	if rep.HasProblems() {
		os.Exit(1)
	}
}

// loadConfig reads the YAML config file.
func loadConfig(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// loadAdvisories resolves the advisory set: an explicit database file, a
// GHSA refresh, or an empty set with a warning.
func loadAdvisories(ctx context.Context, cfg *Config, refresh bool, logger core.Logger) ([]*advisory.Record, error) {
	if refresh {
		fetcher := advisory.NewGHSAFetcher(ctx, os.Getenv("GITHUB_TOKEN"),
			advisory.WithGHSALogger(logger))
		return fetcher.Fetch(ctx)
	}
	if cfg.AdvisoriesPath != "" {
		return advisory.LoadFile(cfg.AdvisoriesPath)
	}
	logger.Warn("no advisory database configured, scanning with an empty set")
	return nil, nil
}

// buildRegistrySource wires the crates.io client with its SQLite cache.
func buildRegistrySource(cfg *Config, logger core.Logger) (*registry.Client, func(), error) {
	cachePath := cfg.Registry.CachePath
	if cachePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cachePath = filepath.Join(home, "."+appName, "metadata.db")
	}

	cache, err := registry.OpenCache(cachePath)
	if err != nil {
		return nil, nil, err
	}

	opts := []registry.ClientOption{
		registry.WithCache(cache),
		registry.WithLogger(logger),
	}
	if cfg.Registry.RateLimit > 0 {
		opts = append(opts, registry.WithRateLimit(cfg.Registry.RateLimit, 1))
	}
	return registry.NewClient(opts...), func() { cache.Close() }, nil
}

// serveMetrics exposes the Prometheus endpoint. Failures are logged, not
// fatal: metrics are an optional surface.
func serveMetrics(addr string, collector metrics.Collector, logger core.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("serving metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server: %v", err)
	}
}
