package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"go.uber.org/zap"

	"salesdw/internal/config"
	"salesdw/internal/logging"
	"salesdw/internal/metrics"
	"salesdw/internal/metrics/datadog"
	"salesdw/internal/metrics/prompush"
	"salesdw/internal/runner"

	// register every warehouse backend; STORE_KIND selects one at runtime.
	_ "salesdw/internal/storage/all"
)

const usage = "usage: salesdw [-env-file path] [-validate-only] [-skip-extract] [-v]"

// pipelineRunner is the seam between the CLI and the warehouse run.
type pipelineRunner interface {
	Run(ctx context.Context, opt runner.Options) error
}

// appDeps are the side-effecting collaborators of runMain.
type appDeps struct {
	loadConfig  func(envFile string) (config.Settings, error)
	newLogger   func(level string) (*zap.SugaredLogger, error)
	initMetrics func(ctx context.Context, s config.Settings, log logging.Logger) (func(), error)
	newRunner   func(s config.Settings, log logging.Logger) pipelineRunner
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:  config.Load,
		newLogger:   logging.New,
		initMetrics: initMetrics,
		newRunner: func(s config.Settings, log logging.Logger) pipelineRunner {
			return runner.New(s, log)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runMain parses args, wires logging and metrics, and executes one run.
// It returns the process exit code: 0 ok, 1 failure, 2 usage error.
// A successful run writes nothing to stdout.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("salesdw", flag.ContinueOnError)
	fs.SetOutput(stderr)

	envFile := fs.String("env-file", "", "dotenv file to read (default .env if present)")
	validateOnly := fs.Bool("validate-only", false, "validate the existing warehouse and exit")
	skipExtract := fs.Bool("skip-extract", false, "load SOURCE_FILE or the CSV already under DATA_DIR/raw without downloading")
	verbose := fs.Bool("v", false, "enable debug logs")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stdout, usage)
			return 0
		}
		fmt.Fprintln(stderr, usage)
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %s\n%s\n", strings.Join(fs.Args(), " "), usage)
		return 2
	}

	settings, err := deps.loadConfig(*envFile)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	level := settings.LogLevel
	if *verbose {
		level = "debug"
	}
	log, err := deps.newLogger(level)
	if err != nil {
		fmt.Fprintf(stderr, "init logging: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	for _, w := range settings.Warnings {
		log.Warnf("%s", w)
	}

	cleanup, err := deps.initMetrics(ctx, settings, log)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	start := time.Now()
	r := deps.newRunner(settings, log)
	if err := r.Run(ctx, runner.Options{ValidateOnly: *validateOnly, SkipExtract: *skipExtract}); err != nil {
		log.Errorf("run failed after %s", time.Since(start).Truncate(time.Millisecond))
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}

	log.Infof("completed in %s", time.Since(start).Truncate(time.Millisecond))
	return 0
}

// metricsBackend is a backend that owns a flush loop and must be closed.
type metricsBackend interface {
	metrics.Backend
	Close() error
}

// Seams for initMetrics tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(job, gatewayURL string) (metrics.Backend, error) {
		return prompush.NewBackend(job, gatewayURL)
	}
	setMetricsBackend = metrics.SetBackend
)

const jobName = "salesdw"

// initMetrics installs the backend named by s.MetricsBackend. The returned
// cleanup is never nil and flushes or closes the backend.
func initMetrics(ctx context.Context, s config.Settings, log logging.Logger) (func(), error) {
	noop := func() {}

	switch strings.ToLower(strings.TrimSpace(s.MetricsBackend)) {
	case "", "none", "noop":
		return noop, nil

	case "datadog", "dd":
		tags := datadog.ParseTagsCSV(s.MetricsTags)
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    jobName,
			Tags:       tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return noop, fmt.Errorf("datadog: %w", err)
		}
		log.Infof("metrics: backend=datadog job_name=%s tags=%v", jobName, tags)
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				log.Warnf("metrics: datadog close error: %v", err)
			}
			setMetricsBackend(nil)
		}, nil

	case "pushgateway", "prometheus":
		b, err := newPushBackend(jobName, s.PushgatewayURL)
		if err != nil {
			return noop, fmt.Errorf("pushgateway: %w", err)
		}
		log.Infof("metrics: backend=pushgateway url=%s job_name=%s", s.PushgatewayURL, jobName)
		setMetricsBackend(b)
		return func() {
			if err := b.Flush(); err != nil {
				log.Warnf("metrics: pushgateway flush error: %v", err)
			}
			setMetricsBackend(nil)
		}, nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|datadog|pushgateway)", s.MetricsBackend)
	}
}
