package scan

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/miekg/dns"
)

// mdnsQueryName is looked up against the host's mDNS port. Any well-formed reply,
// with or without answers, shows a responder is listening.
const mdnsQueryName = "some.local."

// probeMDNS issues a legacy unicast DNS query to host:port. The reply is returned
// in its dig-style text form so that it can be matched like any other banner.
func probeMDNS(ctx context.Context, host string, port uint16, timeout time.Duration) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg := new(dns.Msg)
	msg.SetQuestion(mdnsQueryName, dns.TypeA)
	msg.RecursionDesired = false

	client := &dns.Client{Net: "udp", Timeout: timeout}
	reply, _, err := client.ExchangeContext(ctx, msg, net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return Response{}, wrapNetError(err)
	}
	if reply == nil {
		return Response{}, malformed("empty dns reply from %s", host)
	}
	return Response{Data: []byte(reply.String())}, nil
}
