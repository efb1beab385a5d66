package scan

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Well-known ports used by the default scan.
const (
	PortSSDP = 1900
	PortMDNS = 5353
	PortADB  = adbPort
)

// DefaultDefinitions is the built-in port table.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Port: 22, Name: "SSH", Family: FamilyTCP},
		{Port: 80, Name: "HTTP", Family: FamilyHTTP},
		{Port: 443, Name: "HTTPS", Family: FamilyHTTP, TLS: true},
		{Port: 554, Name: "RTSP", Family: FamilyRTSP},
		{Port: 1883, Name: "MQTT", Family: FamilyBroker},
		{Port: 1900, Name: "SSDP", Family: FamilySSDP},
		{Port: 1935, Name: "RTMP", Family: FamilyRTMP},
		{Port: 5353, Name: "mDNS", Family: FamilyMDNS},
		{Port: 5555, Name: "ADB", Family: FamilyADB},
		{Port: 7878, Name: "Radarr", Family: FamilyHTTP},
		{Port: 8008, Name: "Cast", Family: FamilyHTTP},
		{Port: 8080, Name: "HTTP Alt", Family: FamilyHTTP},
		{Port: 8112, Name: "Deluge", Family: FamilyHTTP},
		{Port: 8123, Name: "Home Assistant", Family: FamilyHTTP},
		{Port: 8883, Name: "MQTT TLS", Family: FamilyBroker, TLS: true},
		{Port: 8989, Name: "Sonarr", Family: FamilyHTTP},
		{Port: 32400, Name: "Plex", Family: FamilyHTTP},
	}
}

// DefaultTable returns a table populated with DefaultDefinitions.
func DefaultTable() *Table {
	table := NewTable()
	for _, def := range DefaultDefinitions() {
		table.Register(def.MustBuild())
	}
	return table
}

// Table maps ports to probe specs. It is safe for concurrent use.
type Table struct {
	mu    sync.RWMutex
	specs map[uint16]ProbeSpec
}

// NewTable creates a table holding the given specs. Later specs replace earlier ones on the same port.
func NewTable(specs ...ProbeSpec) *Table {
	t := &Table{specs: make(map[uint16]ProbeSpec, len(specs))}
	for _, spec := range specs {
		t.Register(spec)
	}
	return t
}

// Register adds or replaces the spec for spec.Port.
func (t *Table) Register(spec ProbeSpec) {
	t.mu.Lock()
	t.specs[spec.Port] = spec
	t.mu.Unlock()
}

// Lookup returns the spec registered for port.
func (t *Table) Lookup(port uint16) (ProbeSpec, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	spec, ok := t.specs[port]
	return spec, ok
}

// Ports lists registered ports in ascending order.
func (t *Table) Ports() []uint16 {
	t.mu.RLock()
	ports := make([]uint16, 0, len(t.specs))
	for port := range t.specs {
		ports = append(ports, port)
	}
	t.mu.RUnlock()
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}

// Name returns the display name for port, falling back to the number itself.
func (t *Table) Name(port uint16) string {
	if spec, ok := t.Lookup(port); ok && spec.Name != "" {
		return spec.Name
	}
	return strconv.Itoa(int(port))
}

// Classify labels the outcome of invoking the probe registered for port.
func (t *Table) Classify(port uint16, resp Response, err error) Status {
	spec, ok := t.Lookup(port)
	if !ok {
		return StatusNotApplicable
	}
	if err != nil {
		return StatusForError(err)
	}
	return spec.Status(resp)
}

// Invoke runs the probe registered for port against host. A timeout of zero
// uses the spec's own timeout.
func (t *Table) Invoke(ctx context.Context, host string, port uint16, timeout time.Duration) (Response, error) {
	spec, ok := t.Lookup(port)
	if !ok || spec.Invoke == nil {
		return Response{}, fmt.Errorf("%w %d", errNoSpec, port)
	}
	if timeout <= 0 {
		timeout = spec.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTCPTimeout
	}
	return spec.Invoke(ctx, host, timeout)
}

// Probe invokes and classifies a single port on host.
func (t *Table) Probe(ctx context.Context, host string, port uint16, timeout time.Duration) PortStatus {
	result := PortStatus{Port: port, Name: t.Name(port)}
	if _, ok := t.Lookup(port); !ok {
		result.Status = StatusNotApplicable
		return result
	}
	resp, err := t.Invoke(ctx, host, port, timeout)
	result.Status = t.Classify(port, resp, err)
	return result
}
