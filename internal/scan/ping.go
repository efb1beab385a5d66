package scan

import (
	"context"
	"runtime"
	"time"

	ping "github.com/go-ping/ping"
)

// LivenessFunc reports whether host answers a reachability probe within timeout.
type LivenessFunc func(ctx context.Context, host string, timeout time.Duration) bool

// DefaultLivenessTimeout bounds a single echo request.
const DefaultLivenessTimeout = time.Second

// Ping sends one ICMP echo request to host. Any failure counts as "not live".
func Ping(ctx context.Context, host string, timeout time.Duration) bool {
	pinger, err := ping.NewPinger(host)
	if err != nil {
		return false
	}

	if runtime.GOOS == "windows" {
		pinger.SetPrivileged(true)
	} else {
		pinger.SetPrivileged(false)
	}
	if timeout <= 0 {
		timeout = DefaultLivenessTimeout
	}
	pinger.Count = 1
	pinger.Timeout = timeout

	errCh := make(chan error, 1)
	go func() {
		errCh <- pinger.Run()
	}()

	select {
	case <-ctx.Done():
		pinger.Stop()
		<-errCh
		return false
	case err := <-errCh:
		if err != nil {
			return false
		}
	}
	return pinger.Statistics().PacketsRecv > 0
}
