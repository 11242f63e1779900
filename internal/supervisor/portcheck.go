package supervisor

import (
	"context"
	"net"
	"time"
)

// dialTimeout bounds a single connect attempt.
const dialTimeout = 250 * time.Millisecond

// IsPortOpen reports whether addr accepts a TCP connection within timeout.
// The connection is closed immediately.
func IsPortOpen(addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// WaitForPort polls addr every interval until it accepts a connection or ctx
// is done, in which case ctx.Err() is returned.
func WaitForPort(ctx context.Context, addr string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		timeout := dialTimeout
		if interval < timeout {
			timeout = interval
		}
		if IsPortOpen(addr, timeout) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
