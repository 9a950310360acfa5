package utils

import (
	"context"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	api "github.com/etesami/traffic-counting-system/api"
	"github.com/etesami/traffic-counting-system/pkg/oracle"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
)

// ParseBuckets parses a comma-separated string of bucket values into a slice of float64
func ParseBuckets(env string) []float64 {
	if env == "" {
		return nil
	}
	parts := strings.Split(env, ",")
	var buckets []float64
	for _, p := range parts {
		if f, err := strconv.ParseFloat(strings.TrimSpace(p), 64); err == nil {
			buckets = append(buckets, f)
		} else {
			slog.Warn("error parsing bucket value", "value", p, "err", err)
			return nil
		}
	}
	return buckets
}

// OutputFilename returns the annotated video name for an uploaded file:
// output_<basename-without-extension>.mp4
func OutputFilename(uploadName string) string {
	base := filepath.Base(uploadName)
	return "output_" + strings.TrimSuffix(base, filepath.Ext(base)) + ".mp4"
}

// SafeFilename strips any directory part from a client-supplied name.
// It returns "" for names that do not reduce to a regular file name.
func SafeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(name)
	if base == "." || base == ".." || base == "/" {
		return ""
	}
	return base
}

// GrpcClient holds the current tracking oracle client; it is swapped by MonitorConnection
// whenever the connection is re-established.
type GrpcClient struct {
	v atomic.Value
}

func (c *GrpcClient) Store(client oracle.TrackingOracleClient) {
	c.v.Store(client)
}

// Load returns nil until a client has been stored.
func (c *GrpcClient) Load() oracle.TrackingOracleClient {
	client, _ := c.v.Load().(oracle.TrackingOracleClient)
	return client
}

// Wait polls until a client has been stored or ctx is done.
func (c *GrpcClient) Wait(ctx context.Context, interval time.Duration) (oracle.TrackingOracleClient, error) {
	for {
		if client := c.Load(); client != nil {
			return client, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// MonitorConnection keeps clientRef pointing at a ready connection to targetSvc until
// ctx is cancelled.
func MonitorConnection(ctx context.Context, targetSvc api.Service, clientRef *GrpcClient, interval time.Duration) {
	var conn *grpc.ClientConn
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		if err := targetSvc.ServiceReachable(); err != nil {
			slog.Warn("target service is not reachable", "address", targetSvc.Address, "port", targetSvc.Port, "err", err)
		} else if conn == nil || conn.GetState() == connectivity.Shutdown || conn.GetState() == connectivity.TransientFailure {
			if conn != nil {
				conn.Close()
			}
			newConn, err := grpc.NewClient(
				targetSvc.String(),
				grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				slog.Error("failed to connect", "err", err)
			} else {
				conn = newConn
				clientRef.Store(oracle.NewTrackingOracleClient(conn))
				slog.Info("gRPC client connected and stored", "target", targetSvc.String())
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
