package api

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceReachable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	host, port, err := net.SplitHostPort(lis.Addr().String())
	require.NoError(t, err)

	s := &Service{Address: host, Port: port}
	assert.True(t, s.Configured())
	assert.NoError(t, s.ServiceReachable())
}

func TestServiceNotConfigured(t *testing.T) {
	s := &Service{Address: "localhost"}
	assert.False(t, s.Configured())
	assert.Error(t, s.ServiceReachable())
}

func TestServiceString(t *testing.T) {
	s := &Service{Address: "::1", Port: "50051"}
	assert.Equal(t, "[::1]:50051", s.String())
}
