package scan

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// FallbackAddress is used when the outbound route cannot be determined.
const FallbackAddress = "127.0.0.1"

// LocalAddress returns the IPv4 address of the interface that carries the
// default route. No packet is sent; connecting a UDP socket only selects a route.
func LocalAddress() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return FallbackAddress
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.To4() == nil {
		return FallbackAddress
	}
	return addr.IP.To4().String()
}

// SubnetHosts returns the 254 host addresses of the /24 containing local, in ascending order.
func SubnetHosts(local string) ([]string, error) {
	ip := net.ParseIP(strings.TrimSpace(local))
	if ip == nil {
		return nil, fmt.Errorf("%w: invalid address %q", ErrNoSubnet, local)
	}
	ipv4 := ip.To4()
	if ipv4 == nil {
		return nil, fmt.Errorf("%w: only IPv4 addresses are supported: %s", ErrNoSubnet, local)
	}

	targets := make([]string, 0, 254)
	for i := 1; i <= 254; i++ {
		host := net.IPv4(ipv4[0], ipv4[1], ipv4[2], byte(i))
		targets = append(targets, host.To4().String())
	}
	return targets, nil
}

// ParsePorts parses a comma separated port list, keeping the caller's order.
func ParsePorts(value string) ([]uint16, error) {
	var ports []uint16
	for _, field := range strings.Split(value, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.ParseUint(field, 10, 16)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("%w: invalid port %q", ErrInvalidArgument, field)
		}
		ports = append(ports, uint16(n))
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("%w: no ports given", ErrInvalidArgument)
	}
	return ports, nil
}

// ParseHosts parses a comma separated list of IPv4 addresses.
func ParseHosts(value string) ([]string, error) {
	var hosts []string
	for _, field := range strings.Split(value, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		ip := net.ParseIP(field)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("%w: invalid IPv4 address %q", ErrInvalidArgument, field)
		}
		hosts = append(hosts, ip.To4().String())
	}
	return hosts, nil
}
