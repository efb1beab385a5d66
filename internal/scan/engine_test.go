package scan

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// stubSpec replaces the transport of a built-in definition while keeping its classifier.
func stubSpec(def Definition, invoke InvokeFunc) ProbeSpec {
	spec := def.MustBuild()
	spec.Invoke = invoke
	return spec
}

func silent(ctx context.Context, host string, timeout time.Duration) (Response, error) {
	return Response{}, &ProbeError{Kind: KindTimeout}
}

func liveSet(hosts ...string) LivenessFunc {
	set := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		set[h] = true
	}
	return func(ctx context.Context, host string, timeout time.Duration) bool {
		return set[host]
	}
}

func TestSweepProperties(t *testing.T) {
	hosts, err := SubnetHosts("10.1.2.3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	input := append(append([]string(nil), hosts...), "10.1.2.4", "10.1.2.8")

	var inFlight, peak atomic.Int32
	fn := func(ctx context.Context, host string, timeout time.Duration) bool {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return strings.HasSuffix(host, "4") || strings.HasSuffix(host, "8")
	}

	live := Sweep(context.Background(), input, 8, time.Second, fn)
	if peak.Load() > 8 {
		t.Fatalf("pool exceeded its limit: %d", peak.Load())
	}

	inRange := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		inRange[h] = true
	}
	seen := make(map[string]bool)
	for i, h := range live {
		if !inRange[h] {
			t.Fatalf("address %s outside the input range", h)
		}
		if seen[h] {
			t.Fatalf("duplicate address %s", h)
		}
		seen[h] = true
		if i > 0 && lastOctet(live[i-1]) >= lastOctet(h) {
			t.Fatalf("output not ascending at %d: %s after %s", i, h, live[i-1])
		}
	}
	if !seen["10.1.2.4"] || !seen["10.1.2.248"] || seen["10.1.2.5"] {
		t.Fatalf("unexpected live set %v", live)
	}
}

func lastOctet(ip string) int {
	n := 0
	for _, c := range ip[strings.LastIndexByte(ip, '.')+1:] {
		n = n*10 + int(c-'0')
	}
	return n
}

func TestScanScenario(t *testing.T) {
	var probed sync.Map
	adb := func(ctx context.Context, host string, timeout time.Duration) (Response, error) {
		probed.Store(host, true)
		if host == "192.168.1.10" {
			return Response{Connected: true, Data: []byte(ADBStateDevice)}, nil
		}
		return Response{}, &ProbeError{Kind: KindUnreachable}
	}
	table := NewTable(
		stubSpec(Definition{Port: PortSSDP, Family: FamilySSDP}, silent),
		stubSpec(Definition{Port: PortMDNS, Family: FamilyMDNS}, silent),
		stubSpec(Definition{Port: PortADB, Family: FamilyADB}, adb),
	)

	var phases []Phase
	engine := NewEngine(DefaultOptions(), table,
		WithLocalAddress(func() string { return "192.168.1.50" }),
		WithLiveness(liveSet("192.168.1.10", "192.168.1.22")),
		WithObserver(func(p Progress) { phases = append(phases, p.Phase) }),
	)

	results, err := engine.Scan(context.Background(), ModeQuick)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Result{
		{Address: "192.168.1.10", ADB: true},
		{Address: "192.168.1.22"},
	}
	if len(results) != len(want) {
		t.Fatalf("expected %d results, got %+v", len(want), results)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("result %d: expected %+v, got %+v", i, want[i], results[i])
		}
	}

	probed.Range(func(key, _ any) bool {
		if host := key.(string); host != "192.168.1.10" && host != "192.168.1.22" {
			t.Fatalf("probed non-live host %s", host)
		}
		return true
	})

	endpoints := DebugBridgeEndpoints(results)
	if len(endpoints) != 1 || endpoints[0] != "192.168.1.10:5555" {
		t.Fatalf("unexpected endpoints %v", endpoints)
	}

	wantPhases := []Phase{PhaseInit, PhaseLivenessSweep, PhasePerHostFanout, PhaseAggregate, PhaseDone}
	if len(phases) != len(wantPhases) {
		t.Fatalf("expected phases %v, got %v", wantPhases, phases)
	}
	for i := range wantPhases {
		if phases[i] != wantPhases[i] {
			t.Fatalf("phase %d: expected %s, got %s", i, wantPhases[i], phases[i])
		}
	}
}

func TestScanModesMatch(t *testing.T) {
	table := NewTable(
		stubSpec(Definition{Port: PortSSDP, Family: FamilySSDP}, func(ctx context.Context, host string, timeout time.Duration) (Response, error) {
			return Response{Data: []byte("HTTP/1.1 200 OK\r\nLOCATION: http://x/\r\n")}, nil
		}),
		stubSpec(Definition{Port: PortMDNS, Family: FamilyMDNS}, silent),
		stubSpec(Definition{Port: PortADB, Family: FamilyADB}, silent),
	)
	engine := NewEngine(DefaultOptions(), table,
		WithLocalAddress(func() string { return "10.0.0.9" }),
		WithLiveness(liveSet("10.0.0.3")),
	)
	quick, err := engine.Scan(context.Background(), ModeQuick)
	if err != nil {
		t.Fatalf("quick: %v", err)
	}
	deep, err := engine.Scan(context.Background(), ModeDeep)
	if err != nil {
		t.Fatalf("deep: %v", err)
	}
	if len(quick) != 1 || len(deep) != 1 || quick[0] != deep[0] || !quick[0].SSDP {
		t.Fatalf("expected identical results, got %+v and %+v", quick, deep)
	}
}

func TestScanNoLiveHosts(t *testing.T) {
	engine := NewEngine(DefaultOptions(), nil,
		WithLocalAddress(func() string { return "192.168.7.2" }),
		WithLiveness(liveSet()),
	)
	results, err := engine.Scan(context.Background(), ModeQuick)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %+v", results)
	}
}

func TestScanInvalidMode(t *testing.T) {
	engine := NewEngine(DefaultOptions(), nil, WithLiveness(liveSet()))
	if _, err := engine.Scan(context.Background(), Mode("full")); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestScanNoSubnet(t *testing.T) {
	engine := NewEngine(DefaultOptions(), nil,
		WithLocalAddress(func() string { return "::1" }),
		WithLiveness(liveSet()),
	)
	if _, err := engine.Scan(context.Background(), ModeQuick); !errors.Is(err, ErrNoSubnet) {
		t.Fatalf("expected ErrNoSubnet, got %v", err)
	}
}

func TestScanProbeTimeoutBound(t *testing.T) {
	hang := func(ctx context.Context, host string, timeout time.Duration) (Response, error) {
		<-ctx.Done()
		return Response{}, ctx.Err()
	}
	table := NewTable(
		stubSpec(Definition{Port: PortSSDP, Family: FamilySSDP}, hang),
		stubSpec(Definition{Port: PortMDNS, Family: FamilyMDNS}, hang),
		stubSpec(Definition{Port: PortADB, Family: FamilyADB}, hang),
	)
	opts := DefaultOptions()
	opts.SSDPTimeout = 100 * time.Millisecond
	opts.MDNSTimeout = 100 * time.Millisecond
	opts.ADBTimeout = 150 * time.Millisecond
	engine := NewEngine(opts, table,
		WithLocalAddress(func() string { return "10.0.0.9" }),
		WithLiveness(liveSet("10.0.0.1", "10.0.0.2", "10.0.0.3")),
	)

	start := time.Now()
	results, err := engine.Scan(context.Background(), ModeQuick)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("scan hung on silent probes: %s", elapsed)
	}
	for _, res := range results {
		if res.SSDP || res.MDNS || res.ADB {
			t.Fatalf("expected all probes false, got %+v", res)
		}
	}
}

func TestScanRecoversProbePanic(t *testing.T) {
	table := NewTable(
		stubSpec(Definition{Port: PortSSDP, Family: FamilySSDP}, func(ctx context.Context, host string, timeout time.Duration) (Response, error) {
			panic("ssdp exploded")
		}),
		stubSpec(Definition{Port: PortMDNS, Family: FamilyMDNS}, silent),
		stubSpec(Definition{Port: PortADB, Family: FamilyADB}, func(ctx context.Context, host string, timeout time.Duration) (Response, error) {
			return Response{Connected: true, Data: []byte(ADBStateUnauthorized)}, nil
		}),
	)
	engine := NewEngine(DefaultOptions(), table,
		WithLocalAddress(func() string { return "10.0.0.9" }),
		WithLiveness(liveSet("10.0.0.4")),
	)
	results, err := engine.Scan(context.Background(), ModeQuick)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].SSDP || !results[0].ADB {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestScanCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	engine := NewEngine(DefaultOptions(), nil,
		WithLocalAddress(func() string { return "10.0.0.9" }),
		WithLiveness(liveSet("10.0.0.1")),
	)
	results, err := engine.Scan(ctx, ModeQuick)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results after cancellation, got %+v", results)
	}
}

func TestCustomScanScenario(t *testing.T) {
	table := NewTable(
		stubSpec(Definition{Port: 80, Name: "HTTP", Family: FamilyHTTP}, func(ctx context.Context, host string, timeout time.Duration) (Response, error) {
			return Response{Connected: true, Data: []byte("HTTP/1.1 200 OK\r\n\r\n")}, nil
		}),
		stubSpec(Definition{Port: 1900, Name: "SSDP", Family: FamilySSDP}, silent),
	)
	engine := NewEngine(DefaultOptions(), table, WithLiveness(liveSet()))

	results, err := engine.CustomScan(context.Background(), []string{"10.0.0.1"}, []uint16{80, 1900, 9999}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Address != "10.0.0.1" {
		t.Fatalf("unexpected results %+v", results)
	}
	want := []PortStatus{
		{Port: 80, Name: "HTTP", Status: StatusActive},
		{Port: 1900, Name: "SSDP", Status: StatusTimeout},
		{Port: 9999, Name: "9999", Status: StatusNotApplicable},
	}
	for i := range want {
		if results[0].Ports[i] != want[i] {
			t.Fatalf("port %d: expected %+v, got %+v", i, want[i], results[0].Ports[i])
		}
	}
}

func TestCustomScanSweepsWhenNoHosts(t *testing.T) {
	table := NewTable(stubSpec(Definition{Port: 22, Name: "SSH", Family: FamilyTCP}, func(ctx context.Context, host string, timeout time.Duration) (Response, error) {
		return Response{Connected: true}, nil
	}))
	engine := NewEngine(DefaultOptions(), table,
		WithLocalAddress(func() string { return "172.16.4.20" }),
		WithLiveness(liveSet("172.16.4.9", "172.16.4.1")),
	)
	results, err := engine.CustomScan(context.Background(), nil, []uint16{22}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 || results[0].Address != "172.16.4.1" || results[1].Address != "172.16.4.9" {
		t.Fatalf("unexpected results %+v", results)
	}
	for _, res := range results {
		if res.Ports[0].Status != StatusActive {
			t.Fatalf("expected Active for %s, got %s", res.Address, res.Ports[0].Status)
		}
	}
}

func TestCustomScanDedupesHosts(t *testing.T) {
	engine := NewEngine(DefaultOptions(), NewTable(), WithLiveness(liveSet()))
	results, err := engine.CustomScan(context.Background(), []string{"10.0.0.2", "10.0.0.1", "10.0.0.2"}, []uint16{9999}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 || results[0].Address != "10.0.0.2" || results[1].Address != "10.0.0.1" {
		t.Fatalf("expected caller order without duplicates, got %+v", results)
	}
}

func TestCustomScanRequiresPorts(t *testing.T) {
	engine := NewEngine(DefaultOptions(), nil, WithLiveness(liveSet()))
	if _, err := engine.CustomScan(context.Background(), []string{"10.0.0.1"}, nil, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestDebugBridgeActive(t *testing.T) {
	port := fakeADB(t, adbMessage{Command: adbCommandCNXN, Payload: []byte("device::\x00")}.marshal())
	table := NewTable(stubSpec(Definition{Port: PortADB, Family: FamilyADB}, func(ctx context.Context, host string, timeout time.Duration) (Response, error) {
		return probeADB(ctx, host, port, timeout)
	}))
	engine := NewEngine(DefaultOptions(), table)
	if !engine.DebugBridgeActive(context.Background(), "127.0.0.1") {
		t.Fatalf("expected debug bridge to be detected")
	}
	if DebugBridgeEndpoint("127.0.0.1") != "127.0.0.1:5555" {
		t.Fatalf("unexpected endpoint %q", DebugBridgeEndpoint("127.0.0.1"))
	}
}
