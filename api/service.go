package api

import (
	"fmt"
	"net"
	"time"
)

// Service is the address of a remote service.
type Service struct {
	Address string
	Port    string
}

// Configured reports whether both address and port are set.
func (s *Service) Configured() bool {
	return s.Address != "" && s.Port != ""
}

func (s *Service) String() string {
	return net.JoinHostPort(s.Address, s.Port)
}

func (s *Service) ServiceReachable() error {
	if !s.Configured() {
		return fmt.Errorf("service address or port is not set")
	}
	conn, err := net.DialTimeout("tcp", s.String(), 3*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()
	return nil
}
