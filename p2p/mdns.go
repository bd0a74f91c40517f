package p2p

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// MDNSConfig controls the optional mDNS advertiser and browser.
type MDNSConfig struct {
	Service        string
	Domain         string
	Port           int // transfer port advertised in the SRV record
	Identity       Identity
	BrowseInterval time.Duration
	BrowseTimeout  time.Duration

	registerFn registerFunc
	browseFn   browseFunc
}

func (c MDNSConfig) withDefaults() MDNSConfig {
	if c.Service == "" {
		c.Service = MDNSService
	}
	if c.Domain == "" {
		c.Domain = MDNSDomain
	}
	if c.Port <= 0 {
		c.Port = TransferPort
	}
	if c.BrowseInterval <= 0 {
		c.BrowseInterval = MDNSBrowseInterval
	}
	if c.BrowseTimeout <= 0 {
		c.BrowseTimeout = MDNSBrowseTimeout
	}
	if c.registerFn == nil {
		c.registerFn = zeroconf.Register
	}
	return c
}

// MDNSAdvertiser publishes this device as an mDNS service instance.
type MDNSAdvertiser struct {
	server *zeroconf.Server
}

// StartMDNSAdvertiser registers the identity under the configured service type.
func StartMDNSAdvertiser(config MDNSConfig) (*MDNSAdvertiser, error) {
	cfg := config.withDefaults()
	if strings.TrimSpace(cfg.Identity.Name) == "" {
		return nil, errors.New("mdns: device name is required")
	}

	txt := []string{"ip=" + cfg.Identity.IP}
	server, err := cfg.registerFn(cfg.Identity.Name, cfg.Service, cfg.Domain, cfg.Port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns: register service: %w", err)
	}
	return &MDNSAdvertiser{server: server}, nil
}

// Stop withdraws the advertisement
func (a *MDNSAdvertiser) Stop() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}

// MDNSBrowser periodically browses for other devices and reports them like announcements.
type MDNSBrowser struct {
	cfg    MDNSConfig
	browse browseFunc
	logger *log.Logger
}

// NewMDNSBrowser creates a browser backed by a zeroconf resolver.
func NewMDNSBrowser(config MDNSConfig, logger *log.Logger) (*MDNSBrowser, error) {
	cfg := config.withDefaults()
	if logger == nil {
		logger = log.Default()
	}

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("mdns: create resolver: %w", err)
		}
		browse = resolver.Browse
	}
	return &MDNSBrowser{cfg: cfg, browse: browse, logger: logger}, nil
}

// Run browses once per interval until ctx is cancelled. Browse errors are logged.
func (b *MDNSBrowser) Run(ctx context.Context, onPeerSeen func(name, ip string)) error {
	for {
		if err := b.BrowseOnce(ctx, onPeerSeen); err != nil {
			b.logger.Printf("mdns: browse: %v", err)
		}
		if !sleepContext(ctx, b.cfg.BrowseInterval) {
			return nil
		}
	}
}

// BrowseOnce runs a single browse window and reports every resolvable entry.
func (b *MDNSBrowser) BrowseOnce(ctx context.Context, onPeerSeen func(name, ip string)) error {
	scanCtx, cancel := context.WithTimeout(ctx, b.cfg.BrowseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	if err := b.browse(scanCtx, b.cfg.Service, b.cfg.Domain, entries); err != nil {
		return err
	}

	for {
		select {
		case <-scanCtx.Done():
			return nil
		case entry, ok := <-entries:
			if !ok {
				return nil
			}
			if id, ok := parseServiceEntry(entry); ok {
				onPeerSeen(id.Name, id.IP)
			}
		}
	}
}

// parseServiceEntry prefers the announced ip TXT record over the resolved A records.
func parseServiceEntry(entry *zeroconf.ServiceEntry) (Identity, bool) {
	if entry == nil {
		return Identity{}, false
	}
	name := strings.TrimSpace(entry.Instance)
	if name == "" {
		name = strings.TrimSuffix(strings.TrimSpace(entry.HostName), ".")
	}

	var ip string
	for _, kv := range entry.Text {
		if v, found := strings.CutPrefix(kv, "ip="); found && v != "" && v != UnknownIP {
			ip = strings.TrimSpace(v)
		}
	}
	if ip == "" {
		for _, addr := range entry.AddrIPv4 {
			if addr != nil {
				ip = addr.String()
				break
			}
		}
	}
	if name == "" || ip == "" || strings.Contains(name, HeaderSeparator) {
		return Identity{}, false
	}
	return Identity{Name: name, IP: ip}, true
}
