package scan

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"time"
)

const maxResponseSize = 4096

// Response is the raw reply captured by a probe.
type Response struct {
	// Connected reports that the transport was established (always false for UDP).
	Connected bool
	Data      []byte
}

// Text returns the reply payload as a string.
func (r Response) Text() string {
	return string(r.Data)
}

type tcpProbe struct {
	tls     bool
	payload []byte
	read    bool
}

// probeTCP connects to host:port and optionally exchanges a single request and reply.
// The whole exchange is bounded by timeout.
func probeTCP(ctx context.Context, host string, port uint16, timeout time.Duration, p tcpProbe) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Response{}, wrapNetError(err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	resp := Response{Connected: true}
	if p.tls {
		tlsConn := tls.Client(conn, &tls.Config{
			InsecureSkipVerify: true,
			ServerName:         host,
		})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return resp, wrapNetError(err)
		}
		conn = tlsConn
	}

	if len(p.payload) > 0 {
		if _, err := conn.Write(p.payload); err != nil {
			return resp, wrapNetError(err)
		}
	}
	if !p.read {
		return resp, nil
	}

	data, err := readReply(conn)
	resp.Data = data
	if err != nil {
		return resp, wrapNetError(err)
	}
	return resp, nil
}

// readReply reads the first chunk the peer sends. A peer that closes without
// sending anything yields an empty reply rather than an error.
func readReply(conn net.Conn) ([]byte, error) {
	buf := make([]byte, maxResponseSize)
	n, err := conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	return nil, err
}
