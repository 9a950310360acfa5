package utils

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	api "github.com/etesami/traffic-counting-system/api"
	"github.com/etesami/traffic-counting-system/pkg/oracle"
)

func TestParseBuckets(t *testing.T) {
	assert.Nil(t, ParseBuckets(""))
	assert.Equal(t, []float64{1, 2.5, 10}, ParseBuckets("1, 2.5,10"))
	assert.Nil(t, ParseBuckets("1,abc"))
}

func TestOutputFilename(t *testing.T) {
	tests := map[string]string{
		"traffic.mp4":       "output_traffic.mp4",
		"clip.avi":          "output_clip.mp4",
		"noext":             "output_noext.mp4",
		"archive.tar.gz":    "output_archive.tar.mp4",
		"dir/sub/video.mov": "output_video.mp4",
	}
	for in, want := range tests {
		assert.Equal(t, want, OutputFilename(in), in)
	}
}

func TestSafeFilename(t *testing.T) {
	assert.Equal(t, "video.mp4", SafeFilename("video.mp4"))
	assert.Equal(t, "passwd", SafeFilename("../../etc/passwd"))
	assert.Equal(t, "evil.mp4", SafeFilename(`..\..\evil.mp4`))
	assert.Equal(t, "", SafeFilename(".."))
	assert.Equal(t, "", SafeFilename("/"))
}

func TestGrpcClientLoadBeforeStore(t *testing.T) {
	var c GrpcClient
	assert.Nil(t, c.Load())
}

func TestMonitorConnectionStoresClient(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()
	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	host, port, err := net.SplitHostPort(lis.Addr().String())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ref GrpcClient
	done := make(chan struct{})
	go func() {
		MonitorConnection(ctx, api.Service{Address: host, Port: port}, &ref, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return ref.Load() != nil }, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestGrpcClientWait(t *testing.T) {
	var c GrpcClient
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Wait(ctx, time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	c.Store(oracle.NewTrackingOracleClient(nil))
	client, err := c.Wait(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.NotNil(t, client)
}
