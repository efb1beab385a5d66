package discovery

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

const (
	// ServiceDomain is the mDNS domain
	ServiceDomain = "local."

	// DefaultBrowseTimeout is how long announcements are collected
	DefaultBrowseTimeout = 3 * time.Second
)

// Announcement is one DNS-SD service instance seen on the network.
type Announcement struct {
	Instance  string   `json:"instance"`
	Service   string   `json:"service"`
	Host      string   `json:"host"`
	Port      int      `json:"port"`
	Addresses []string `json:"addresses"`
	Text      []string `json:"text,omitempty"`
}

// Address returns the first IPv4 address, falling back to the first address of any family.
func (a Announcement) Address() string {
	for _, addr := range a.Addresses {
		if ip := net.ParseIP(addr); ip != nil && ip.To4() != nil {
			return addr
		}
	}
	if len(a.Addresses) > 0 {
		return a.Addresses[0]
	}
	return ""
}

// BrowseFunc browses one service type until ctx is done, sending entries to
// the channel. It must close the channel when it stops, even after an error.
type BrowseFunc func(ctx context.Context, service string, entries chan<- *zeroconf.ServiceEntry) error

// Browser collects service announcements over multicast DNS.
type Browser struct {
	Timeout  time.Duration
	Services []string

	logger *zap.Logger
	browse BrowseFunc
}

// NewBrowser creates a browser for the given service types.
func NewBrowser(services []string, timeout time.Duration, logger *zap.Logger) *Browser {
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Browser{
		Timeout:  timeout,
		Services: services,
		logger:   logger,
	}
}

// SetBrowseFunc replaces the zeroconf resolver used to browse each service type.
func (b *Browser) SetBrowseFunc(fn BrowseFunc) {
	b.browse = fn
}

// Browse listens for announcements of every configured service type until the
// timeout expires or ctx is cancelled. Results are sorted by address, then instance.
func (b *Browser) Browse(ctx context.Context) ([]Announcement, error) {
	browse := b.browse
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
		}
		browse = func(ctx context.Context, service string, entries chan<- *zeroconf.ServiceEntry) error {
			return resolver.Browse(ctx, service, ServiceDomain, entries)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	var (
		mu   sync.Mutex
		seen = make(map[string]Announcement)
		wg   sync.WaitGroup
	)
	for _, service := range b.Services {
		entries := make(chan *zeroconf.ServiceEntry, 16)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range entries {
				ann, ok := fromEntry(entry)
				if !ok {
					continue
				}
				mu.Lock()
				seen[ann.key()] = mergeAnnouncement(seen[ann.key()], ann)
				mu.Unlock()
			}
		}()

		if err := browse(ctx, service, entries); err != nil {
			b.logger.Warn("Browse failed", zap.String("service", service), zap.Error(err))
		}
	}

	<-ctx.Done()
	wg.Wait()

	out := make([]Announcement, 0, len(seen))
	for _, ann := range seen {
		out = append(out, ann)
	}
	SortAnnouncements(out)
	b.logger.Info("Browse complete", zap.Int("services", len(b.Services)), zap.Int("announcements", len(out)))
	return out, nil
}

func (a Announcement) key() string {
	return a.Service + "|" + a.Instance
}

func fromEntry(entry *zeroconf.ServiceEntry) (Announcement, bool) {
	if entry == nil || entry.Instance == "" {
		return Announcement{}, false
	}
	ann := Announcement{
		Instance: unescapeInstance(entry.Instance),
		Service:  entry.Service,
		Host:     strings.TrimSuffix(entry.HostName, "."),
		Port:     entry.Port,
		Text:     append([]string(nil), entry.Text...),
	}
	for _, ip := range entry.AddrIPv4 {
		ann.Addresses = append(ann.Addresses, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		ann.Addresses = append(ann.Addresses, ip.String())
	}
	return ann, true
}

// mergeAnnouncement folds a repeated announcement into what was already seen.
func mergeAnnouncement(prev, next Announcement) Announcement {
	if prev.Instance == "" {
		return next
	}
	if next.Host != "" {
		prev.Host = next.Host
	}
	if next.Port != 0 {
		prev.Port = next.Port
	}
	if len(next.Text) > 0 {
		prev.Text = next.Text
	}
	for _, addr := range next.Addresses {
		found := false
		for _, have := range prev.Addresses {
			if have == addr {
				found = true
				break
			}
		}
		if !found {
			prev.Addresses = append(prev.Addresses, addr)
		}
	}
	return prev
}

// SortAnnouncements orders announcements by numeric address, then instance name.
func SortAnnouncements(anns []Announcement) {
	sort.SliceStable(anns, func(i, j int) bool {
		ai, aj := net.ParseIP(anns[i].Address()), net.ParseIP(anns[j].Address())
		if c := compareIP(ai, aj); c != 0 {
			return c < 0
		}
		if anns[i].Instance != anns[j].Instance {
			return anns[i].Instance < anns[j].Instance
		}
		return anns[i].Service < anns[j].Service
	})
}

func compareIP(a, b net.IP) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	if a4, b4 := a.To4(), b.To4(); a4 != nil && b4 != nil {
		return bytes.Compare(a4, b4)
	} else if a4 != nil {
		return -1
	} else if b4 != nil {
		return 1
	}
	return bytes.Compare(a.To16(), b.To16())
}

// unescapeInstance removes DNS label escaping, e.g. "Living\ Room" -> "Living Room".
func unescapeInstance(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// DebugBridgeHosts returns the IPv4 addresses announcing a wireless debugging service.
func DebugBridgeHosts(anns []Announcement) []string {
	seen := make(map[string]struct{})
	var hosts []string
	for _, ann := range anns {
		if !strings.HasPrefix(ann.Service, "_adb") {
			continue
		}
		addr := ann.Address()
		if ip := net.ParseIP(addr); ip == nil || ip.To4() == nil {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		hosts = append(hosts, addr)
	}
	return hosts
}
