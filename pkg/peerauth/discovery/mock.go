package discovery

import (
	"context"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
)

// MockMDNSServer is a no-op MDNSServer for tests that don't touch the
// real network.
type MockMDNSServer struct{}

// Shutdown implements MDNSServer.
func (MockMDNSServer) Shutdown() {}

// MockMDNSServerFactory records every Register call instead of touching
// the network, so advertiser tests can assert on what was published.
type MockMDNSServerFactory struct {
	mu        sync.Mutex
	Instance  string
	Service   string
	Domain    string
	Port      int
	TXT       []string
	Registers int
}

// Register implements MDNSServerFactory.
func (f *MockMDNSServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Instance = instance
	f.Service = service
	f.Domain = domain
	f.Port = port
	f.TXT = append([]string(nil), txt...)
	f.Registers++
	return MockMDNSServer{}, nil
}

// MockMDNSResolver returns a fixed set of service entries from Browse,
// without touching the network.
type MockMDNSResolver struct {
	mu      sync.Mutex
	Entries []*zeroconf.ServiceEntry
}

// NewMockMDNSResolver returns a resolver that will report entries on
// Browse.
func NewMockMDNSResolver(entries ...*zeroconf.ServiceEntry) *MockMDNSResolver {
	return &MockMDNSResolver{Entries: entries}
}

// Browse implements MDNSResolver.
func (m *MockMDNSResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	m.mu.Lock()
	snapshot := append([]*zeroconf.ServiceEntry(nil), m.Entries...)
	m.mu.Unlock()

	for _, e := range snapshot {
		select {
		case entries <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// MockPeerEntry builds a *zeroconf.ServiceEntry advertising identityKey at
// host:ip:port, suitable for feeding a MockMDNSResolver.
func MockPeerEntry(identityKey, host string, port int, ip net.IP) *zeroconf.ServiceEntry {
	return &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: identityKey,
			Service:  ServiceType,
			Domain:   DefaultDomain,
		},
		HostName: host,
		Port:     port,
		AddrIPv4: []net.IP{ip},
		Text:     []string{identityKeyTXTKey + "=" + identityKey},
	}
}
