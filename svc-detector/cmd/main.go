package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	api "github.com/etesami/traffic-counting-system/api"
	"github.com/etesami/traffic-counting-system/pkg/options"
	"github.com/etesami/traffic-counting-system/pkg/oracle"
	"github.com/etesami/traffic-counting-system/pkg/video"
	"github.com/etesami/traffic-counting-system/svc-detector/internal"
)

type Options struct {
	Host string
	Port string

	Log      *options.LogOptions
	Metric   *options.MetricOptions
	Detector *options.DetectorOptions
}

func NewOptions() *Options {
	return &Options{
		Host:     os.Getenv("SVC_DETECTOR_HOST"),
		Port:     options.EnvString("SVC_DETECTOR_PORT", "50051"),
		Log:      options.NewLogOptions(),
		Metric:   options.NewMetricOptions(),
		Detector: options.NewDetectorOptions(),
	}
}

func NewCommand() *cobra.Command {
	o := NewOptions()
	cmd := &cobra.Command{
		Use:          "svc-detector",
		Short:        "Serve YOLO detection and IoU tracking over gRPC",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(o)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&o.Host, "host", o.Host, "Address to listen on.")
	fs.StringVar(&o.Port, "port", o.Port, "Port to listen on.")
	o.Log.AddFlags(fs)
	o.Metric.AddFlags(fs)
	o.Detector.AddFlags(fs)
	return cmd
}

func Run(o *Options) error {
	logger, err := o.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	m := o.Metric.Register(prometheus.DefaultRegisterer)

	engine, err := video.NewLocalEngine(o.Detector)
	if err != nil {
		return fmt.Errorf("failed to load detector: %w", err)
	}
	defer engine.Close()
	logger.Info("detector loaded", "model", o.Detector.Model, "width", o.Detector.ImageWidth, "height", o.Detector.ImageHeight)

	localSvc := api.Service{Address: o.Host, Port: o.Port}
	listener, err := net.Listen("tcp", localSvc.String())
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	srv := internal.NewServer(internal.SessionFactoryFunc(func() internal.Session {
		return engine.NewSession()
	}), m, logger)
	grpcServer := grpc.NewServer()
	oracle.RegisterTrackingOracleServer(grpcServer, srv)

	go func() {
		logger.Info("starting gRPC server", "address", localSvc.String())
		if err := grpcServer.Serve(listener); err != nil {
			logger.Error("failed to serve", "err", err)
			os.Exit(1)
		}
	}()

	metricServer := o.Metric.Server(prometheus.DefaultGatherer)
	if metricServer != nil {
		go func() {
			logger.Info("starting metrics server", "address", metricServer.Addr)
			if err := metricServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "err", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("received shutdown signal")

	grpcServer.GracefulStop()
	srv.Close()
	if metricServer != nil {
		if err := metricServer.Shutdown(context.Background()); err != nil {
			logger.Warn("error shutting down metrics server", "err", err)
		}
	}
	logger.Info("server shut down gracefully")
	return nil
}

func main() {
	if err := NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
