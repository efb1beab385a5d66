package scan

import (
	"context"
	"net"
	"strconv"
	"time"
)

// probeUDP sends payload to host:port and waits for one datagram in reply.
func probeUDP(ctx context.Context, host string, port uint16, timeout time.Duration, payload []byte) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return Response{}, wrapNetError(err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(payload); err != nil {
		return Response{}, wrapNetError(err)
	}

	buf := make([]byte, maxResponseSize)
	n, err := conn.Read(buf)
	if err != nil {
		return Response{}, wrapNetError(err)
	}
	return Response{Data: buf[:n]}, nil
}

const ssdpSearch = "M-SEARCH * HTTP/1.1\r\n" +
	"HOST: 239.255.255.250:1900\r\n" +
	"MAN: \"ssdp:discover\"\r\n" +
	"MX: 1\r\n" +
	"ST: ssdp:all\r\n" +
	"\r\n"

// probeSSDP sends an M-SEARCH straight to the host instead of the multicast group
// so that only that host's reply is collected.
func probeSSDP(ctx context.Context, host string, port uint16, timeout time.Duration) (Response, error) {
	return probeUDP(ctx, host, port, timeout, []byte(ssdpSearch))
}
