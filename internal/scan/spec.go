package scan

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Family selects how a port is probed and how its reply is judged.
type Family string

const (
	FamilyHTTP   Family = "http"
	FamilyRTSP   Family = "rtsp"
	FamilyRTMP   Family = "rtmp"
	FamilySSDP   Family = "ssdp"
	FamilyMDNS   Family = "mdns"
	FamilyBroker Family = "broker"
	// FamilyTCP treats a completed connect as the positive signal. Nothing is read.
	FamilyTCP Family = "tcp"
	FamilyADB Family = "adb"
	// FamilyBanner sends an operator supplied payload and matches the reply.
	FamilyBanner Family = "banner"
)

var families = []Family{FamilyHTTP, FamilyRTSP, FamilyRTMP, FamilySSDP, FamilyMDNS, FamilyBroker, FamilyTCP, FamilyADB, FamilyBanner}

// ParseFamily validates a family name from configuration.
func ParseFamily(value string) (Family, error) {
	v := Family(strings.ToLower(strings.TrimSpace(value)))
	for _, f := range families {
		if f == v {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: unknown probe family %q", ErrInvalidArgument, value)
}

// InvokeFunc runs a probe against host and returns its raw reply.
type InvokeFunc func(ctx context.Context, host string, timeout time.Duration) (Response, error)

// ClassifyFunc reports whether a reply marks the service as present.
type ClassifyFunc func(Response) bool

// ProbeSpec binds a port to a probe invocation and a reply classifier.
type ProbeSpec struct {
	Port     uint16
	Name     string
	Family   Family
	Timeout  time.Duration
	Invoke   InvokeFunc
	Classify ClassifyFunc
}

// Status runs the spec's classifier over a successful reply.
func (s ProbeSpec) Status(resp Response) Status {
	if s.Classify != nil && s.Classify(resp) {
		return StatusActive
	}
	return StatusInactive
}

// Definition is the declarative form of a ProbeSpec, as found in configuration.
type Definition struct {
	Port   uint16
	Name   string
	Family Family
	TLS    bool
	// Payload is sent after connecting. {host}, {ip} and {port} are substituted.
	Payload string
	// Match lists substrings that mark a reply as active. It overrides the family default.
	Match   []string
	Pattern string
	Timeout time.Duration
}

// Default per-family timeouts.
const (
	DefaultTCPTimeout  = 2 * time.Second
	DefaultSSDPTimeout = 1 * time.Second
	DefaultMDNSTimeout = 2 * time.Second
	DefaultADBTimeout  = 3 * time.Second
)

// Build turns a definition into an invocable ProbeSpec.
func (d Definition) Build() (ProbeSpec, error) {
	if d.Port == 0 {
		return ProbeSpec{}, fmt.Errorf("%w: probe port must be between 1 and 65535", ErrInvalidArgument)
	}
	if d.Family == "" {
		d.Family = FamilyTCP
	}
	if _, err := ParseFamily(string(d.Family)); err != nil {
		return ProbeSpec{}, err
	}
	if d.Name == "" {
		d.Name = strconv.Itoa(int(d.Port))
	}

	var pattern *regexp.Regexp
	if d.Pattern != "" {
		re, err := regexp.Compile(d.Pattern)
		if err != nil {
			return ProbeSpec{}, fmt.Errorf("%w: probe %s pattern: %v", ErrInvalidArgument, d.Name, err)
		}
		pattern = re
	}
	if d.Family == FamilyBanner && d.Payload == "" && len(d.Match) == 0 && pattern == nil {
		return ProbeSpec{}, fmt.Errorf("%w: banner probe %s needs a payload, match or pattern", ErrInvalidArgument, d.Name)
	}

	spec := ProbeSpec{
		Port:    d.Port,
		Name:    d.Name,
		Family:  d.Family,
		Timeout: d.Timeout,
	}
	if spec.Timeout <= 0 {
		spec.Timeout = familyTimeout(d.Family)
	}
	spec.Invoke = d.invoker()
	spec.Classify = d.classifier(pattern)
	return spec, nil
}

// MustBuild is Build for static tables.
func (d Definition) MustBuild() ProbeSpec {
	spec, err := d.Build()
	if err != nil {
		panic(err)
	}
	return spec
}

func familyTimeout(f Family) time.Duration {
	switch f {
	case FamilySSDP:
		return DefaultSSDPTimeout
	case FamilyMDNS:
		return DefaultMDNSTimeout
	case FamilyADB:
		return DefaultADBTimeout
	default:
		return DefaultTCPTimeout
	}
}

func (d Definition) invoker() InvokeFunc {
	port := d.Port
	switch d.Family {
	case FamilySSDP:
		if d.Payload != "" {
			return func(ctx context.Context, host string, timeout time.Duration) (Response, error) {
				return probeUDP(ctx, host, port, timeout, []byte(expandPayload(d.Payload, host, port)))
			}
		}
		return func(ctx context.Context, host string, timeout time.Duration) (Response, error) {
			return probeSSDP(ctx, host, port, timeout)
		}
	case FamilyMDNS:
		return func(ctx context.Context, host string, timeout time.Duration) (Response, error) {
			return probeMDNS(ctx, host, port, timeout)
		}
	case FamilyADB:
		return func(ctx context.Context, host string, timeout time.Duration) (Response, error) {
			return probeADB(ctx, host, port, timeout)
		}
	case FamilyTCP:
		tls := d.TLS
		return func(ctx context.Context, host string, timeout time.Duration) (Response, error) {
			return probeTCP(ctx, host, port, timeout, tcpProbe{tls: tls})
		}
	}

	template := d.Payload
	family := d.Family
	tls := d.TLS
	return func(ctx context.Context, host string, timeout time.Duration) (Response, error) {
		var payload []byte
		if template != "" {
			payload = []byte(expandPayload(template, host, port))
		} else {
			payload = familyPayload(family, host, port)
		}
		return probeTCP(ctx, host, port, timeout, tcpProbe{tls: tls, payload: payload, read: true})
	}
}

func (d Definition) classifier(pattern *regexp.Regexp) ClassifyFunc {
	if len(d.Match) > 0 || pattern != nil {
		needles := append([]string(nil), d.Match...)
		return func(resp Response) bool {
			text := resp.Text()
			if pattern != nil && pattern.MatchString(text) {
				return true
			}
			return containsAny(text, needles, false)
		}
	}
	return familyClassifier(d.Family)
}

func expandPayload(template, host string, port uint16) string {
	return strings.NewReplacer(
		"{host}", host,
		"{ip}", host,
		"{port}", strconv.Itoa(int(port)),
	).Replace(template)
}

func containsAny(text string, needles []string, fold bool) bool {
	if fold {
		text = strings.ToUpper(text)
	}
	for _, needle := range needles {
		if needle == "" {
			continue
		}
		if fold {
			needle = strings.ToUpper(needle)
		}
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}

// errNoSpec is returned by Table.Invoke for unregistered ports.
var errNoSpec = errors.New("no probe registered for port")
