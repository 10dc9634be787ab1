package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/evanofslack/cf-ddns-sync/internal/config"
	"github.com/evanofslack/cf-ddns-sync/internal/filter"
	"github.com/evanofslack/cf-ddns-sync/internal/logger"
	"github.com/evanofslack/cf-ddns-sync/internal/metrics"
	"github.com/evanofslack/cf-ddns-sync/internal/provider"
	"github.com/evanofslack/cf-ddns-sync/internal/provider/cloudflare"
	"github.com/evanofslack/cf-ddns-sync/internal/reconcile"
	"github.com/evanofslack/cf-ddns-sync/internal/resolver"
	"github.com/evanofslack/cf-ddns-sync/internal/transport"
	"github.com/spf13/pflag"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet(config.AppName, pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", os.Getenv("CF_DDNS_CONFIG"), "path to the config file")
	dryRun := flags.Bool("dry-run", false, "report drifted records without updating them")
	showVersion := flags.BoolP("version", "v", false, "print the version and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 1
	}
	if *showVersion {
		fmt.Println(config.AppName, version)
		return 0
	}

	if *configPath == "" {
		path, err := config.DefaultPath()
		if err != nil {
			slog.Error("Failed to locate config file", "error", err)
			return 1
		}
		*configPath = path
	}

	cfg, err := config.Load(*configPath)
	if errors.Is(err, config.ErrCreatedDefault) {
		slog.Error("Config file was missing, wrote defaults", "path", *configPath, "error", err)
		return 1
	}
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		return 1
	}
	if *dryRun {
		cfg.DryRun = true
	}
	logger.Configure(cfg.LogLevel, cfg.LogEnv)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid config", "path", *configPath, "error", err)
		return 1
	}

	m := metrics.New(true)
	client := transport.NewClient(transport.Options{
		Timeout:   cfg.HTTPTimeout(),
		UserAgent: config.AppName + "/" + version,
	})

	code := performSync(context.Background(), cfg, client, m)

	if cfg.MetricsTextfile != "" {
		if err := m.WriteTextfile(cfg.MetricsTextfile); err != nil {
			slog.Warn("Failed to write metrics textfile", "path", cfg.MetricsTextfile, "error", err)
		}
	}
	return code
}

// performSync runs one reconciliation pass and returns the process exit code.
func performSync(ctx context.Context, cfg *config.Config, client *http.Client, m *metrics.Metrics) int {
	slog.Info("Starting sync operation", "dry_run", cfg.DryRun)
	start := time.Now()
	defer func() {
		m.SetRunDuration(time.Since(start))
	}()

	f, err := filter.New(cfg.Patterns, cfg.InvertPatterns)
	if err != nil {
		slog.Error("Invalid record pattern", "error", err)
		m.IncRun("error")
		return 1
	}

	zone := cfg.ZoneID
	if zone == "" {
		zone, err = cloudflare.ZoneIDByName(cfg, client, m, cfg.ZoneName)
		if err != nil {
			slog.Error("Failed to resolve zone", "zone", cfg.ZoneName, "error", err)
			m.IncRun("error")
			return 1
		}
	}

	ipResolver, err := resolver.New(cfg.IPSources, client, m)
	if err != nil {
		slog.Error("Failed to initialize IP resolver", "error", err)
		m.IncRun("error")
		return 1
	}

	cf, err := cloudflare.New(cfg, client, m)
	if err != nil {
		slog.Error("Failed to initialize DNS provider", "error", err)
		m.IncRun("error")
		return 1
	}

	engine := reconcile.NewEngine(ipResolver, cf, f, zone, cfg.DryRun, m)
	results, err := engine.Run(ctx)
	return finish(results, err, m)
}

// finish logs the end state of a run and maps it to an exit code. Having no
// records, or filtering all of them away, is nothing to do rather than an
// error.
func finish(results reconcile.Results, err error, m *metrics.Metrics) int {
	switch {
	case errors.Is(err, provider.ErrNoRecords):
		slog.Info("No A records found")
		m.IncRun("no_records")
		return 0
	case errors.Is(err, filter.ErrAllFiltered):
		slog.Info("All records were filtered", "total", results.Total)
		m.IncRun("all_filtered")
		return 0
	case err != nil:
		slog.Error("Sync operation failed", "error", err)
		m.IncRun("error")
		return 1
	}

	verdict := results.Verdict()
	m.IncRun(string(verdict))
	slog.Info("Sync completed",
		"ip", results.Address.String(),
		"records", len(results.Records),
		"filtered", results.Excluded,
		"up_to_date", results.Count(reconcile.OutcomeUpToDate),
		"updated", results.Count(reconcile.OutcomeUpdated),
		"planned", results.Count(reconcile.OutcomePlanned),
		"failed", results.Count(reconcile.OutcomeFailed))

	if verdict == reconcile.VerdictPartialFailure {
		for _, f := range results.Failures() {
			slog.Error("Record not updated", "index", f.Index, "name", f.Record.Name, "reason", f.Reason(), "error", f.Err)
		}
		return 1
	}
	return 0
}
