package net

import (
	"fmt"
	"net"
)

// EphemeralLocalAddr reserves an ephemeral TCP port on the loopback
// interface and returns the host:port. The listener is closed before
// returning, so the port is only probably free; fine for tests.
func EphemeralLocalAddr() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().String(), nil
}
