package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker checks target health via a plain TCP connection.
type TCPChecker struct {
	target  string // host:port, e.g. "localhost:3000"
	timeout time.Duration
}

// NewTCPChecker creates a TCP health checker for target.
func NewTCPChecker(target string, timeout time.Duration) *TCPChecker {
	return &TCPChecker{target: target, timeout: timeout}
}

// Check dials the target and reports success if the connection opens.
func (c *TCPChecker) Check(ctx context.Context) error {
	dialer := &net.Dialer{Timeout: c.timeout}

	conn, err := dialer.DialContext(ctx, "tcp", c.target)
	if err != nil {
		return fmt.Errorf("tcp connect failed: %w", err)
	}
	defer conn.Close()

	return nil
}
