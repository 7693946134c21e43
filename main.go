package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"fleet-ingest/internal/config"
	"fleet-ingest/internal/logging"
	"fleet-ingest/internal/observability/metrics"
	"fleet-ingest/internal/samsara"
	"fleet-ingest/internal/telemetry/application"
	"fleet-ingest/internal/telemetry/infrastructure/postgres"
	"fleet-ingest/internal/telemetry/infrastructure/spill"
	"fleet-ingest/internal/telemetry/interfaces/diagnostics"
	statushttp "fleet-ingest/internal/telemetry/interfaces/http"
)

var version = "dev"

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

type options struct {
	configPath string
	loop       bool
	interval   time.Duration
	logLevel   string
	command    string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "fleet-ingest: %v\n", err)
		return exitUsage
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "fleet-ingest: %v\n", err)
		return exitError
	}
	if opts.interval > 0 {
		cfg.Pipeline.Interval = opts.interval
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	switch opts.command {
	case "print-config":
		out, err := cfg.YAML()
		if err != nil {
			fmt.Fprintf(stderr, "fleet-ingest: %v\n", err)
			return exitError
		}
		_, _ = stdout.Write(out)
		return exitOK
	case "init-schema":
		return initSchema(cfg, stderr)
	case "run":
		return runPipeline(cfg, opts.loop, stderr)
	default:
		fmt.Fprintf(stderr, "fleet-ingest: unknown command %q\n", opts.command)
		return exitUsage
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("fleet-ingest", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "settings file (default settings.yaml in the working directory)")
	flagSet.BoolVar(&opts.loop, "loop", false, "keep running and start a cycle every interval")
	flagSet.DurationVar(&opts.interval, "interval", 0, "cycle interval in loop mode (overrides pipeline.interval)")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "trace, debug, info, warn or error (overrides log.level)")
	flagSet.Usage = func() {
		fmt.Fprintf(stderr, "Usage: fleet-ingest [flags] [run|print-config|init-schema]\n\nFlags:\n")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		return opts, err
	}
	switch flagSet.NArg() {
	case 0:
		opts.command = "run"
	case 1:
		opts.command = flagSet.Arg(0)
	default:
		return opts, fmt.Errorf("expected at most one command, got %v", flagSet.Args())
	}
	return opts, nil
}

func initSchema(cfg *config.Settings, stderr io.Writer) int {
	logger, closer, err := newLogger(cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "fleet-ingest: %v\n", err)
		return exitError
	}
	defer closer.Close()

	connector, err := openConnector(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("open database")
		return exitError
	}
	defer connector.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Transporter.Database.ConnectTimeout)
	defer cancel()
	if err := postgres.EnsureSchema(ctx, connector.DB(), connector.Table()); err != nil {
		logger.Error().Err(err).Msg("ensure schema")
		return exitError
	}
	logger.Info().Str("table", connector.Table()).Msg("schema ready")
	return exitOK
}

func runPipeline(cfg *config.Settings, loop bool, stderr io.Writer) int {
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "fleet-ingest: %v\n", err)
		return exitError
	}
	logger, closer, err := newLogger(cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "fleet-ingest: %v\n", err)
		return exitError
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	reporter := diagnostics.NewReporter(logger)

	client, err := samsara.NewClient(samsara.Config{
		BaseURL:           cfg.Samsara.BaseURL,
		Token:             cfg.Samsara.APIToken,
		UserAgent:         "fleet-ingest/" + version,
		Timeout:           cfg.Samsara.Timeout,
		RequestsPerSecond: cfg.Samsara.RequestsPerSecond,
		MaxRetries:        cfg.Samsara.MaxRetries,
		BreakerFailures:   cfg.Samsara.BreakerFailures,
		BreakerCooldown:   cfg.Samsara.BreakerCooldown,
	}, logger.With().Str("component", "samsara").Logger())
	if err != nil {
		logger.Error().Err(err).Msg("samsara client")
		return exitError
	}

	connector, err := openConnector(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("open database")
		return exitError
	}
	defer connector.Close()

	if cfg.Transporter.Database.EnsureSchema {
		schemaCtx, cancel := context.WithTimeout(ctx, cfg.Transporter.Database.ConnectTimeout)
		err := postgres.EnsureSchema(schemaCtx, connector.DB(), connector.Table())
		cancel()
		if err != nil {
			logger.Error().Err(err).Msg("ensure schema")
			return exitError
		}
	}

	queue := application.NewPendingQueue(cfg.Pipeline.QueueCapacity)
	coordinator, err := application.NewCoordinator(queue, connector, application.WithReporter(reporter))
	if err != nil {
		logger.Error().Err(err).Msg("coordinator")
		return exitError
	}
	normalizer := application.NewNormalizer(application.SystemClock{}, reporter)

	pipelineOpts := []application.PipelineOption{
		application.WithStatKinds(cfg.Samsara.StatTypes),
		application.WithPipelineReporter(reporter),
	}
	if cfg.Pipeline.SpillDir != "" {
		store, err := spill.Open(cfg.Pipeline.SpillDir)
		if err != nil {
			logger.Error().Err(err).Msg("open spill store")
			return exitError
		}
		defer store.Close()
		pipelineOpts = append(pipelineOpts, application.WithSpill(store))
	}

	pipeline, err := application.NewPipeline(client, normalizer, coordinator, pipelineOpts...)
	if err != nil {
		logger.Error().Err(err).Msg("pipeline")
		return exitError
	}
	if restored, err := pipeline.RestoreSpill(ctx); err != nil {
		logger.Warn().Err(err).Msg("spill restore failed, starting with an empty queue")
	} else if restored > 0 {
		logger.Info().Int("records", restored).Msg("pending records restored")
	}

	logger.Info().
		Str("version", version).
		Bool("loop", loop).
		Strs("stat_types", cfg.Samsara.StatTypes).
		Str("table", connector.Table()).
		Msg("fleet-ingest starting")

	if !loop {
		return runSingle(ctx, pipeline, logger)
	}
	return runLoop(ctx, cfg, pipeline, client, connector, logger)
}

func runSingle(ctx context.Context, pipeline *application.Pipeline, logger zerolog.Logger) int {
	result, err := pipeline.RunOnce(ctx)
	if saveErr := pipeline.SaveSpill(context.WithoutCancel(ctx)); saveErr != nil {
		logger.Error().Err(saveErr).Msg("spill save failed")
	}
	event := logger.Info()
	if result.Unsuccessful() {
		event = logger.Error()
	}
	event.
		Int("snapshots", result.Snapshots).
		Int("records", result.Records).
		Int("delivered", result.Delivered).
		Int("failed", result.Failed).
		Int("pending", result.Pending).
		AnErr("fetch_err", result.FetchErr).
		Err(err).
		Msg("cycle finished")
	if result.Unsuccessful() {
		return exitError
	}
	return exitOK
}

func runLoop(ctx context.Context, cfg *config.Settings, pipeline *application.Pipeline, client *samsara.Client, connector *postgres.Connector, logger zerolog.Logger) int {
	eventHook := (&sutureslog.Handler{Logger: logging.NewSlogLogger(logger)}).MustHook()
	sup := suture.New("fleet-ingest", suture.Spec{
		EventHook:        eventHook,
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})

	sup.Add(application.NewScheduler(pipeline, cfg.Pipeline.Interval, logger.With().Str("component", "scheduler").Logger()))

	if cfg.HTTP.Port > 0 {
		if err := metrics.RegisterDBMetrics(prometheus.DefaultRegisterer, connector.DB(), connector.Table(), logger); err != nil {
			logger.Warn().Err(err).Msg("database metrics not registered")
		}
		handler, err := statushttp.NewHandler(pipeline, client, prometheus.DefaultGatherer)
		if err != nil {
			logger.Error().Err(err).Msg("status handler")
			return exitError
		}
		addr := ":" + strconv.Itoa(cfg.HTTP.Port)
		sup.Add(statushttp.NewServer(addr, handler.Routes(), 10*time.Second))
		logger.Info().Str("addr", addr).Msg("status server enabled")
	}

	err := sup.Serve(ctx)
	if saveErr := pipeline.SaveSpill(context.WithoutCancel(ctx)); saveErr != nil {
		logger.Error().Err(saveErr).Msg("spill save failed")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("supervisor stopped")
		return exitError
	}
	logger.Info().Msg("fleet-ingest stopped")
	return exitOK
}

func newLogger(cfg *config.Settings, stderr io.Writer) (zerolog.Logger, io.Closer, error) {
	return logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
		Output: stderr,
	})
}

func openConnector(cfg *config.Settings) (*postgres.Connector, error) {
	db := cfg.Transporter.Database
	return postgres.Open(postgres.Config{
		Host:            db.Host,
		Port:            db.Port,
		User:            db.User,
		Password:        db.Password,
		Database:        db.Name,
		ApplicationName: db.ApplicationName,
		ConnectTimeout:  db.ConnectTimeout,
	},
		postgres.WithTable(db.Table),
		postgres.WithConnectTimeout(db.ConnectTimeout),
		postgres.WithWriteTimeout(db.WriteTimeout),
	)
}
