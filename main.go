package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bedrock-data/conveyor/clients/redshift"
	"github.com/bedrock-data/conveyor/jobs"
	"github.com/bedrock-data/conveyor/jobs/exec"
	"github.com/bedrock-data/conveyor/lib/awslib"
	"github.com/bedrock-data/conveyor/lib/config"
	"github.com/bedrock-data/conveyor/lib/config/constants"
	"github.com/bedrock-data/conveyor/lib/db"
	"github.com/bedrock-data/conveyor/lib/logger"
	"github.com/bedrock-data/conveyor/lib/notify"
	"github.com/bedrock-data/conveyor/lib/telemetry/metrics"
	"github.com/bedrock-data/conveyor/models/jobrun"
	"github.com/bedrock-data/conveyor/queue"
	"github.com/bedrock-data/conveyor/schedule"
)

// newRegistry is where a deployment registers its jobs. Job constructors
// close over the warehouse store and the notifier they report through.
func newRegistry(warehouse *redshift.Store, notifier notify.Notifier) *jobs.Registry {
	return jobs.NewRegistry()
}

func main() {
	settings, err := config.LoadSettings(os.Args[1:], true)
	if err != nil {
		logger.Fatal("Failed to load settings", slog.Any("err", err))
	}

	_logger, usingSentry := logger.NewLogger(settings)
	slog.SetDefault(_logger)
	if usingSentry {
		slog.Info("Sentry logger enabled")
	}

	metricsClient := metrics.LoadExporter(settings.Config)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := settings.Config

	ledgerStore, err := db.Open("pgx", cfg.Ledger.DSN)
	if err != nil {
		logger.Fatal("Failed to connect to the ledger database", slog.Any("err", err))
	}

	repo := jobrun.NewRepository(ledgerStore, cfg.Ledger.Schema)
	if settings.InitJobTable {
		if err = repo.CreateTable(); err != nil {
			logger.Fatal("Failed to create the job_runs table", slog.Any("err", err))
		}
		slog.Info("Ensured the job_runs table exists", slog.String("schema", cfg.Ledger.Schema))
	}

	awsCfg, err := awslib.NewDefaultConfig(ctx, cfg.Redshift.Region)
	if err != nil {
		logger.Fatal("Failed to load the AWS config", slog.Any("err", err))
	}

	warehouse, err := redshift.LoadStore(*cfg.Redshift, awslib.NewS3Client(awsCfg))
	if err != nil {
		logger.Fatal("Failed to connect to the warehouse", slog.Any("err", err))
	}

	var q queue.Queue
	switch cfg.Queue.Kind {
	case constants.FileQueue:
		q = queue.NewFileQueue(cfg.Queue.FilePath)
	case constants.SQSQueue:
		q = queue.NewSQSQueue(awsCfg, cfg.Queue.SQSQueueURL)
	default:
		logger.Fatal("Unsupported queue kind", slog.Any("kind", cfg.Queue.Kind))
	}

	notifier := notify.NewSlackNotifier(cfg.Slack)
	registry := newRegistry(warehouse, notifier)

	slog.Info("Config is loaded",
		slog.String("redshift", cfg.Redshift.String()),
		slog.Any("queue", cfg.Queue.Kind),
		slog.Any("jobs", registry.IDs()),
		slog.Int("schedules", len(cfg.Schedules)),
	)

	engine := exec.New(registry, repo, metricsClient, cfg.Worker)
	worker := queue.NewWorker(q, engine.Run)
	if err = worker.Start(ctx); err != nil {
		logger.Fatal("Failed to start the queue worker", slog.Any("err", err))
	}

	poller := schedule.NewPoller(cfg.Schedules, repo, q)
	if err = poller.Start(ctx); err != nil {
		logger.Fatal("Failed to start the schedule poller", slog.Any("err", err))
	}

	<-ctx.Done()
	slog.Info("Shutting down...")
}
