package scan

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// Options tunes the pools and per-protocol timeouts of an Engine.
type Options struct {
	Concurrency     int
	LivenessTimeout time.Duration
	SSDPTimeout     time.Duration
	MDNSTimeout     time.Duration
	ADBTimeout      time.Duration
}

// DefaultOptions returns the stock pool size and timeouts.
func DefaultOptions() Options {
	return Options{
		Concurrency:     DefaultConcurrency,
		LivenessTimeout: DefaultLivenessTimeout,
		SSDPTimeout:     DefaultSSDPTimeout,
		MDNSTimeout:     DefaultMDNSTimeout,
		ADBTimeout:      DefaultADBTimeout,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Concurrency <= 0 {
		o.Concurrency = def.Concurrency
	}
	if o.LivenessTimeout <= 0 {
		o.LivenessTimeout = def.LivenessTimeout
	}
	if o.SSDPTimeout <= 0 {
		o.SSDPTimeout = def.SSDPTimeout
	}
	if o.MDNSTimeout <= 0 {
		o.MDNSTimeout = def.MDNSTimeout
	}
	if o.ADBTimeout <= 0 {
		o.ADBTimeout = def.ADBTimeout
	}
	return o
}

// Engine discovers live hosts on the local /24 and classifies their services.
// It holds no per-scan state and may run several scans at once.
type Engine struct {
	opts      Options
	table     *Table
	logger    *zap.Logger
	alive     LivenessFunc
	localAddr func() string
	observer  func(Progress)
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for probe diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLiveness replaces the ICMP liveness probe.
func WithLiveness(fn LivenessFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.alive = fn
		}
	}
}

// WithLocalAddress replaces local address detection.
func WithLocalAddress(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.localAddr = fn
		}
	}
}

// WithObserver registers a callback invoked on every phase transition.
func WithObserver(fn func(Progress)) Option {
	return func(e *Engine) {
		e.observer = fn
	}
}

// NewEngine creates an Engine. A nil table means DefaultTable.
func NewEngine(opts Options, table *Table, options ...Option) *Engine {
	if table == nil {
		table = DefaultTable()
	}
	e := &Engine{
		opts:      opts.withDefaults(),
		table:     table,
		logger:    zap.NewNop(),
		alive:     Ping,
		localAddr: LocalAddress,
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// Table returns the engine's probe table.
func (e *Engine) Table() *Table {
	return e.table
}

// Scan runs a default scan of the local /24. Quick and deep modes issue the same probes.
// A cancelled context stops the scan early and returns the results gathered so far.
func (e *Engine) Scan(ctx context.Context, mode Mode) ([]Result, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	log := e.logger.With(zap.String("run_id", uuid.NewString()), zap.String("mode", string(mode)))

	live, err := e.discover(ctx, log)
	if err != nil {
		return nil, err
	}

	e.emit(Progress{Phase: PhasePerHostFanout, Targets: 254, Live: len(live)})
	results := make([]Result, len(live))
	var wg sync.WaitGroup
	for i, host := range live {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = e.probeHost(ctx, log, host)
		}()
	}
	wg.Wait()

	e.emit(Progress{Phase: PhaseAggregate, Targets: 254, Live: len(live)})
	for _, res := range results {
		log.Debug("Host classified",
			zap.String("host", res.Address),
			zap.Bool("ssdp", res.SSDP),
			zap.Bool("mdns", res.MDNS),
			zap.Bool("adb", res.ADB),
		)
	}
	e.emit(Progress{Phase: PhaseDone, Targets: 254, Live: len(live)})
	log.Info("Scan complete", zap.Int("live", len(live)))
	return results, ctx.Err()
}

// CustomScan probes each host on the given ports, in the caller's port order.
// An empty host list triggers a liveness sweep of the local /24 first. A timeout
// of zero uses each port's own timeout.
func (e *Engine) CustomScan(ctx context.Context, hosts []string, ports []uint16, timeout time.Duration) ([]CustomResult, error) {
	if len(ports) == 0 {
		return nil, fmt.Errorf("%w: no ports given", ErrInvalidArgument)
	}
	log := e.logger.With(zap.String("run_id", uuid.NewString()), zap.String("mode", "custom"))

	if len(hosts) == 0 {
		live, err := e.discover(ctx, log)
		if err != nil {
			return nil, err
		}
		hosts = live
	} else {
		hosts = dedupe(hosts)
	}

	e.emit(Progress{Phase: PhasePerHostFanout, Targets: len(hosts), Live: len(hosts)})
	results := make([]CustomResult, len(hosts))
	var wg sync.WaitGroup
	for i, host := range hosts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = e.probePorts(ctx, log, host, ports, timeout)
		}()
	}
	wg.Wait()

	e.emit(Progress{Phase: PhaseAggregate, Targets: len(hosts), Live: len(hosts)})
	e.emit(Progress{Phase: PhaseDone, Targets: len(hosts), Live: len(hosts)})
	log.Info("Custom scan complete", zap.Int("hosts", len(hosts)), zap.Int("ports", len(ports)))
	return results, ctx.Err()
}

// DebugBridgeActive runs only the ADB probe against host.
func (e *Engine) DebugBridgeActive(ctx context.Context, host string) bool {
	return e.active(ctx, e.logger, host, PortADB, e.opts.ADBTimeout)
}

// DebugBridgeEndpoints returns "address:5555" for every result with an ADB service.
func DebugBridgeEndpoints(results []Result) []string {
	var endpoints []string
	for _, res := range results {
		if res.ADB {
			endpoints = append(endpoints, DebugBridgeEndpoint(res.Address))
		}
	}
	return endpoints
}

// DebugBridgeEndpoint formats the ADB endpoint of host.
func DebugBridgeEndpoint(host string) string {
	return net.JoinHostPort(host, strconv.Itoa(PortADB))
}

func (e *Engine) discover(ctx context.Context, log *zap.Logger) ([]string, error) {
	e.emit(Progress{Phase: PhaseInit})
	local := e.localAddr()
	if local == FallbackAddress {
		log.Warn("Outbound route unavailable, falling back to loopback", zap.String("address", local))
	}
	targets, err := SubnetHosts(local)
	if err != nil {
		return nil, err
	}

	e.emit(Progress{Phase: PhaseLivenessSweep, Targets: len(targets)})
	start := time.Now()
	live := Sweep(ctx, targets, e.opts.Concurrency, e.opts.LivenessTimeout, e.alive)
	log.Info("Liveness sweep finished",
		zap.String("local_address", local),
		zap.Int("targets", len(targets)),
		zap.Int("live", len(live)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return live, nil
}

func (e *Engine) probeHost(ctx context.Context, log *zap.Logger, host string) Result {
	result := Result{Address: host}

	var wg conc.WaitGroup
	wg.Go(func() {
		result.SSDP = e.active(ctx, log, host, PortSSDP, e.opts.SSDPTimeout)
	})
	wg.Go(func() {
		result.MDNS = e.active(ctx, log, host, PortMDNS, e.opts.MDNSTimeout)
	})
	wg.Go(func() {
		result.ADB = e.active(ctx, log, host, PortADB, e.opts.ADBTimeout)
	})
	if recovered := wg.WaitAndRecover(); recovered != nil {
		log.Error("Probe panicked", zap.String("host", host), zap.String("panic", recovered.String()))
	}
	return result
}

func (e *Engine) probePorts(ctx context.Context, log *zap.Logger, host string, ports []uint16, timeout time.Duration) CustomResult {
	statuses := make([]PortStatus, len(ports))
	var wg conc.WaitGroup
	for i, port := range ports {
		statuses[i] = PortStatus{Port: port, Name: e.table.Name(port), Status: StatusError}
		wg.Go(func() {
			statuses[i] = e.table.Probe(ctx, host, port, timeout)
		})
	}
	if recovered := wg.WaitAndRecover(); recovered != nil {
		log.Error("Probe panicked", zap.String("host", host), zap.String("panic", recovered.String()))
	}
	for _, st := range statuses {
		log.Debug("Port classified",
			zap.String("host", host),
			zap.Uint16("port", st.Port),
			zap.String("status", string(st.Status)),
		)
	}
	return CustomResult{Address: host, Ports: statuses}
}

// active runs one boolean-style probe. Every failure collapses to false.
func (e *Engine) active(ctx context.Context, log *zap.Logger, host string, port uint16, timeout time.Duration) bool {
	spec, ok := e.table.Lookup(port)
	if !ok || spec.Invoke == nil {
		spec = builtinSpec(port)
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := spec.Invoke(probeCtx, host, timeout)
	if err != nil {
		log.Debug("Probe failed",
			zap.String("host", host),
			zap.Uint16("port", port),
			zap.String("family", string(spec.Family)),
			zap.Error(err),
		)
		return false
	}
	return spec.Status(resp) == StatusActive
}

func builtinSpec(port uint16) ProbeSpec {
	for _, def := range DefaultDefinitions() {
		if def.Port == port {
			return def.MustBuild()
		}
	}
	return Definition{Port: port, Family: FamilyTCP}.MustBuild()
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func (e *Engine) emit(progress Progress) {
	if e.observer != nil {
		e.observer(progress)
	}
}
