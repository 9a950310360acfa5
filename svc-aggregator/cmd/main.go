package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/etesami/traffic-counting-system/pkg/options"
	"github.com/etesami/traffic-counting-system/pkg/pipeline"
	"github.com/etesami/traffic-counting-system/pkg/store"
	"github.com/etesami/traffic-counting-system/pkg/video"
	"github.com/etesami/traffic-counting-system/svc-aggregator/internal"
)

type Options struct {
	Ingest internal.Config
	DBPath string

	Log      *options.LogOptions
	Metric   *options.MetricOptions
	Detector *options.DetectorOptions
	Remote   *options.RemoteOptions
}

func NewOptions() *Options {
	return &Options{
		Ingest: internal.Config{
			InboxDir:     options.EnvString("INBOX_DIR", "inbox"),
			OutputDir:    options.EnvString("OUTPUT_DIR", "outputs"),
			DoneDir:      options.EnvString("DONE_DIR", "processed"),
			FailedDir:    options.EnvString("FAILED_DIR", "failed"),
			QueueSize:    options.EnvInt("QUEUE_SIZE", 16),
			Workers:      options.EnvInt("WORKERS", 1),
			PollInterval: options.EnvDuration("POLL_INTERVAL", 5*time.Second),
			Settle:       options.EnvDuration("SETTLE_TIME", 2*time.Second),
		},
		DBPath:   options.EnvString("DB_PATH", "runs.db"),
		Log:      options.NewLogOptions(),
		Metric:   options.NewMetricOptions(),
		Detector: options.NewDetectorOptions(),
		Remote:   options.NewRemoteOptions(),
	}
}

func NewCommand() *cobra.Command {
	o := NewOptions()
	cmd := &cobra.Command{
		Use:          "svc-aggregator",
		Short:        "Count vehicles in videos dropped into an inbox directory",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), o)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&o.Ingest.InboxDir, "inbox-dir", o.Ingest.InboxDir, "Directory watched for new videos.")
	fs.StringVar(&o.Ingest.OutputDir, "output-dir", o.Ingest.OutputDir, "Directory for annotated videos.")
	fs.StringVar(&o.Ingest.DoneDir, "done-dir", o.Ingest.DoneDir, "Directory processed inputs are moved to.")
	fs.StringVar(&o.Ingest.FailedDir, "failed-dir", o.Ingest.FailedDir, "Directory failed inputs are moved to.")
	fs.IntVar(&o.Ingest.QueueSize, "queue-size", o.Ingest.QueueSize, "Maximum number of queued videos.")
	fs.IntVar(&o.Ingest.Workers, "workers", o.Ingest.Workers, "Number of videos processed concurrently.")
	fs.DurationVar(&o.Ingest.PollInterval, "poll-interval", o.Ingest.PollInterval, "Interval between inbox scans.")
	fs.DurationVar(&o.Ingest.Settle, "settle-time", o.Ingest.Settle, "Minimum age of a file before it is queued.")
	fs.StringVar(&o.DBPath, "db", o.DBPath, "SQLite database of processed runs.")
	o.Log.AddFlags(fs)
	o.Metric.AddFlags(fs)
	o.Detector.AddFlags(fs)
	o.Remote.AddFlags(fs)
	return cmd
}

func Run(ctx context.Context, o *Options) error {
	logger, err := o.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := o.Metric.Register(prometheus.DefaultRegisterer)

	engine, release, err := video.NewEngine(ctx, o.Detector, o.Remote, m, logger)
	if err != nil {
		return err
	}
	defer release()

	runs, err := store.Open(o.DBPath)
	if err != nil {
		return err
	}
	defer runs.Close()
	if err := runs.MigrateUp(); err != nil {
		return err
	}

	processor := pipeline.NewProcessor(video.Media{}, engine, video.Annotator{}, m, logger)
	agg, err := internal.New(o.Ingest, processor, runs, m, logger)
	if err != nil {
		return err
	}

	metricServer := o.Metric.Server(prometheus.DefaultGatherer)
	if metricServer != nil {
		go func() {
			logger.Info("starting metrics server", "address", metricServer.Addr)
			if err := metricServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "err", err)
			}
		}()
	}

	logger.Info("watching inbox", "dir", o.Ingest.InboxDir, "workers", o.Ingest.Workers)
	if err := agg.Run(ctx); err != nil {
		return err
	}
	logger.Info("received shutdown signal")

	if metricServer != nil {
		if err := metricServer.Shutdown(context.Background()); err != nil {
			logger.Warn("error shutting down metrics server", "err", err)
		}
	}
	logger.Info("aggregator shut down gracefully")
	return nil
}

func main() {
	if err := NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
