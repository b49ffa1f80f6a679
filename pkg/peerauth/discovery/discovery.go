// Package discovery advertises and resolves peerauth-capable peers over
// mDNS/DNS-SD using grandcat/zeroconf, publishing a peer's identity key as
// a TXT record.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// ServiceType is the DNS-SD service type advertised for peerauth peers.
const ServiceType = "_peerauth._tcp"

// DefaultDomain is the mDNS domain peers are advertised and browsed on.
const DefaultDomain = "local."

// DefaultBrowseTimeout bounds how long Browse waits for responses.
const DefaultBrowseTimeout = 5 * time.Second

// identityKeyTXTKey is the TXT record key carrying a peer's hex-encoded
// compressed identity key.
const identityKeyTXTKey = "ik"

// MDNSServer mirrors the shutdown surface of *zeroconf.Server, allowing a
// fake to stand in during tests.
type MDNSServer interface {
	Shutdown()
}

// MDNSServerFactory creates MDNSServer instances. The production
// implementation registers with grandcat/zeroconf; tests can substitute
// their own.
type MDNSServerFactory interface {
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

type zeroconfServerFactory struct{}

func (zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// AdvertiserConfig configures an Advertiser.
type AdvertiserConfig struct {
	// InstanceName is the DNS-SD instance name to advertise under. If
	// empty, the identity key itself is used.
	InstanceName string

	// Port is the TCP port a peerauth Transport listens on.
	Port int

	// Interfaces restricts advertisement to specific network interfaces.
	// Nil means all interfaces.
	Interfaces []net.Interface

	// ServerFactory overrides the mDNS server factory. Nil uses zeroconf.
	ServerFactory MDNSServerFactory

	// LoggerFactory builds the advertiser's logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// Advertiser publishes a peer's identity key over mDNS so other peers on
// the local network can discover and dial it without prior configuration.
type Advertiser struct {
	config  AdvertiserConfig
	factory MDNSServerFactory
	log     logging.LeveledLogger

	mu     sync.Mutex
	server MDNSServer
}

// NewAdvertiser returns an Advertiser ready to advertise a single identity
// key via Start.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	factory := config.ServerFactory
	if factory == nil {
		factory = zeroconfServerFactory{}
	}
	a := &Advertiser{config: config, factory: factory}
	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("peerauth-discovery")
	}
	return a
}

// Start begins advertising identityKey, the hex-encoded compressed P-256
// public key of the local peer, as a TXT record on ServiceType.
func (a *Advertiser) Start(identityKey string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return fmt.Errorf("peerauth/discovery: advertiser already started")
	}

	instance := a.config.InstanceName
	if instance == "" {
		instance = identityKey
	}

	txt := []string{identityKeyTXTKey + "=" + identityKey}
	if a.log != nil {
		a.log.Debugf("advertising %s as %s on %s", identityKey, instance, ServiceType)
	}

	server, err := a.factory.Register(instance, ServiceType, DefaultDomain, a.config.Port, txt, a.config.Interfaces)
	if err != nil {
		return fmt.Errorf("peerauth/discovery: registering mDNS service: %w", err)
	}
	a.server = server
	return nil
}

// Stop withdraws the advertisement. It tolerates being called before Start
// or more than once.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
}

// PeerAddress is a resolved peerauth peer: its identity key and a dialable
// network address.
type PeerAddress struct {
	IdentityKey string
	Host        string
	Port        int
	IPs         []net.IP
}

// Addr returns host:port suitable for net.Dial.
func (p PeerAddress) Addr() string {
	host := p.Host
	if len(p.IPs) > 0 {
		host = p.IPs[0].String()
	}
	return fmt.Sprintf("%s:%d", host, p.Port)
}

// MDNSResolver mirrors the subset of *zeroconf.Resolver used to browse for
// peerauth services, allowing a fake to stand in during tests.
type MDNSResolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

type zeroconfResolverAdapter struct {
	resolver *zeroconf.Resolver
}

func (z zeroconfResolverAdapter) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return z.resolver.Browse(ctx, service, domain, entries)
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// MDNSResolver overrides the resolver implementation. Nil uses zeroconf.
	MDNSResolver MDNSResolver

	// BrowseTimeout bounds Browse. Zero uses DefaultBrowseTimeout.
	BrowseTimeout time.Duration
}

// Resolver browses the local network for advertised peerauth peers.
type Resolver struct {
	config   ResolverConfig
	resolver MDNSResolver
}

// NewResolver returns a Resolver.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	resolver := config.MDNSResolver
	if resolver == nil {
		r, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("peerauth/discovery: creating zeroconf resolver: %w", err)
		}
		resolver = zeroconfResolverAdapter{resolver: r}
	}
	return &Resolver{config: config, resolver: resolver}, nil
}

// Browse returns every peerauth peer discovered within the browse window.
func (r *Resolver) Browse(ctx context.Context) ([]PeerAddress, error) {
	timeout := r.config.BrowseTimeout
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	var peers []PeerAddress
	done := make(chan struct{})

	go func() {
		defer close(done)
		for entry := range entries {
			if addr, ok := decodeEntry(entry); ok {
				peers = append(peers, addr)
			}
		}
	}()

	if err := r.resolver.Browse(ctx, ServiceType, DefaultDomain, entries); err != nil {
		return nil, fmt.Errorf("peerauth/discovery: browsing: %w", err)
	}

	<-ctx.Done()
	close(entries)
	<-done
	return peers, nil
}

func decodeEntry(entry *zeroconf.ServiceEntry) (PeerAddress, bool) {
	var identityKey string
	for _, kv := range entry.Text {
		if len(kv) > len(identityKeyTXTKey)+1 && kv[:len(identityKeyTXTKey)+1] == identityKeyTXTKey+"=" {
			identityKey = kv[len(identityKeyTXTKey)+1:]
		}
	}
	if identityKey == "" {
		return PeerAddress{}, false
	}
	var ips []net.IP
	ips = append(ips, entry.AddrIPv4...)
	ips = append(ips, entry.AddrIPv6...)
	return PeerAddress{
		IdentityKey: identityKey,
		Host:        entry.HostName,
		Port:        entry.Port,
		IPs:         ips,
	}, true
}
