package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/etesami/traffic-counting-system/pkg/counting"
	"github.com/etesami/traffic-counting-system/pkg/options"
	"github.com/etesami/traffic-counting-system/pkg/pipeline"
	"github.com/etesami/traffic-counting-system/pkg/store"
	"github.com/etesami/traffic-counting-system/pkg/utils"
	"github.com/etesami/traffic-counting-system/pkg/video"
	"github.com/etesami/traffic-counting-system/svc-web/internal"
)

type Options struct {
	Addr      string
	UploadDir string
	OutputDir string
	DBPath    string

	Log      *options.LogOptions
	Metric   *options.MetricOptions
	Detector *options.DetectorOptions
	Remote   *options.RemoteOptions
}

func NewOptions() *Options {
	return &Options{
		Addr:      options.EnvString("WEB_ADDR", ":8080"),
		UploadDir: options.EnvString("UPLOAD_DIR", "uploads"),
		OutputDir: options.EnvString("OUTPUT_DIR", "outputs"),
		DBPath:    options.EnvString("DB_PATH", "runs.db"),
		Log:       options.NewLogOptions(),
		Metric:    options.NewMetricOptions(),
		Detector:  options.NewDetectorOptions(),
		Remote:    options.NewRemoteOptions(),
	}
}

// engineFlags are shared by the server and the count command.
func (o *Options) engineFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("engine", pflag.ExitOnError)
	o.Log.AddFlags(fs)
	o.Detector.AddFlags(fs)
	o.Remote.AddFlags(fs)
	o.Metric.AddBucketFlags(fs)
	return fs
}

func NewCommand() *cobra.Command {
	o := NewOptions()
	cmd := &cobra.Command{
		Use:          "svc-web",
		Short:        "Count vehicles in uploaded traffic videos",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Serve(cmd.Context(), o)
		},
	}
	cmd.PersistentFlags().AddFlagSet(o.engineFlags())

	fs := cmd.Flags()
	fs.StringVar(&o.Addr, "addr", o.Addr, "Address of the web server.")
	fs.StringVar(&o.UploadDir, "upload-dir", o.UploadDir, "Directory for uploaded videos.")
	fs.StringVar(&o.OutputDir, "output-dir", o.OutputDir, "Directory for annotated videos.")
	fs.StringVar(&o.DBPath, "db", o.DBPath, "SQLite database of processed runs.")

	cmd.AddCommand(newCountCommand(o))
	return cmd
}

func newCountCommand(o *Options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "count <video>",
		Short: "Count the vehicles of one video and write the annotated copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return Count(cmd.Context(), o, args[0], output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Annotated output path (default output_<name>.mp4 next to the input).")
	return cmd
}

func setupLogger(o *Options) (*slog.Logger, error) {
	logger, err := o.Log.NewLogger(os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}

func Serve(ctx context.Context, o *Options) error {
	logger, err := setupLogger(o)
	if err != nil {
		return err
	}
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
	srv, err := internal.NewServer(internal.Config{
		UploadDir: o.UploadDir,
		OutputDir: o.OutputDir,
	}, processor, runs, prometheus.DefaultGatherer, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              o.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting web server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error shutting down server", "err", err)
	}
	logger.Info("server shut down gracefully")
	return nil
}

func Count(ctx context.Context, o *Options, input, output string) error {
	logger, err := setupLogger(o)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if output == "" {
		output = filepath.Join(filepath.Dir(input), utils.OutputFilename(input))
	}

	m := o.Metric.Register(prometheus.NewRegistry())
	engine, release, err := video.NewEngine(ctx, o.Detector, o.Remote, m, logger)
	if err != nil {
		return err
	}
	defer release()

	res, err := pipeline.NewProcessor(video.Media{}, engine, video.Annotator{}, m, logger).ProcessVideo(ctx, input, output)
	if err != nil {
		return err
	}

	lines := counting.OverlayLines(res.Counts)
	fmt.Printf("%s\nTotal: %d\nTraffic level: %s\nOutput: %s\n", strings.Join(lines, "\n"), res.Total, res.Level, output)
	return nil
}

func main() {
	if err := NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
